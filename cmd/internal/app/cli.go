package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// flagValues are the CLI overrides applied on top of the environment.
type flagValues struct {
	envFile    string
	apiURL     string
	wsURL      string
	logLevel   string
	logFormat  string
	statusAddr string
}

func (f flagValues) apply(cfg *Config) {
	if f.apiURL != "" {
		cfg.APIBaseURL = f.apiURL
	}
	if f.wsURL != "" {
		cfg.WSURL = f.wsURL
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	if f.statusAddr != "" {
		cfg.StatusAddr = f.statusAddr
	}
}

// NewRootCommand builds the pacschat command tree. chat is the default.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var flags flagValues

	// build loads config and the App lazily so --help never touches disk.
	build := func(detached bool) (*App, error) {
		if err := LoadDotEnv(flags.envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", flags.envFile, err)
		}
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		flags.apply(&cfg)
		return newApp(cfg, NewLogger(cfg.LogLevel, cfg.LogFormat, stderr), options{detached: detached})
	}

	chat := func(cmd *cobra.Command, _ []string) error {
		a, err := build(false)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RunChat(cmd.Context(), stdin, stdout)
	}

	root := &cobra.Command{
		Use:           "pacschat",
		Short:         "Staff chat client for the PACS viewer backend",
		Long:          "pacschat signs in to the PACS backend, keeps a presence connection open and lets you chat privately with other staff.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          chat,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&flags.apiURL, "api", "", "REST base URL (overrides PACSCHAT_API_BASE_URL)")
	pf.StringVar(&flags.wsURL, "ws", "", "WebSocket URL (overrides PACSCHAT_WS_URL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug|info|warn|error")
	pf.StringVar(&flags.logFormat, "log-format", "", "json|pretty")

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat console",
		RunE:  chat,
	}
	chatCmd.Flags().StringVar(&flags.statusAddr, "status-addr", "", "serve /healthz, /readyz and /metrics on this address")
	root.Flags().AddFlagSet(chatCmd.Flags())

	loginCmd := &cobra.Command{
		Use:   "login <user>",
		Short: "Sign in and persist the credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := build(true)
			if err != nil {
				return err
			}
			defer a.Close()

			pass, err := promptPassword(stdin, stdout)
			if err != nil {
				return err
			}
			if _, err := a.Login(cmd.Context(), args[0], pass); err != nil {
				return err
			}
			s, _ := a.Current()
			fmt.Fprintf(stdout, "signed in as %s (%s)\n", s.DisplayName, s.SubjectID)
			return nil
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the persisted credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(true)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Restore(cmd.Context()); err != nil {
				return err
			}
			if err := a.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "signed out")
			return nil
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := build(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotAuthenticated
			}
			s, _ := a.Current()
			fmt.Fprintf(stdout, "%s (%s)\nrole: %s\nexpires: %s\n",
				s.DisplayName, s.SubjectID, s.Role, s.ExpiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}

	root.AddCommand(chatCmd, loginCmd, logoutCmd, whoamiCmd)
	return root
}

// RunChat restores the session, starts the status server when configured
// and runs the console until ctx is done or the user quits.
func (a *App) RunChat(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := a.Restore(ctx); err != nil {
		return err
	}

	statusErr := make(chan error, 1)
	if addr := strings.TrimSpace(a.cfg.StatusAddr); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("status listen: %w", err)
		}
		go func() { statusErr <- a.serveStatus(ctx, ln) }()
	} else {
		close(statusErr)
	}

	err := NewConsole(a, in, out).Run(ctx)
	cancel()

	if serr := <-statusErr; serr != nil && err == nil {
		err = serr
	}
	a.log.Info("chat.stop")
	return err
}

func promptPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		return string(b), err
	}
	line, err := readLine(in)
	if err != nil {
		return "", err
	}
	return line, nil
}

// readLine reads up to the first newline without buffering past it.
func readLine(r io.Reader) (string, error) {
	var (
		sb  strings.Builder
		buf [1]byte
	)
	for {
		n, err := r.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				break
			}
			sb.WriteByte(buf[0])
		}
		if errors.Is(err, io.EOF) {
			if sb.Len() == 0 {
				return "", io.ErrUnexpectedEOF
			}
			break
		}
		if err != nil {
			return "", err
		}
	}
	return strings.TrimRight(sb.String(), "\r"), nil
}
