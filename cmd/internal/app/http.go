package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// readiness reports whether the client is usable and, if not, why.
type readiness interface {
	Ready() (bool, string)
}

func registerHTTP(mux *http.ServeMux, log Logger, ready readiness, metrics http.Handler) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ok, reason := ready.Ready(); !ok {
			log.Debug("readyz.not_ready", "reason", reason)
			http.Error(w, reason, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
}

// serveStatus runs the status server on ln until ctx is done.
func (a *App) serveStatus(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a, a.metrics.Handler())

	srv := &http.Server{
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	a.log.Info("status.start", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.log.Error("status.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("status.shutdown.fail", "err", err)
		return err
	}
	a.log.Info("status.stopped")
	return nil
}
