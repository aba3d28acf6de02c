package app

import (
	"fmt"
	"time"

	"pacschat/cmd/internal/auth/session"
	"pacschat/cmd/internal/backend"
	"pacschat/cmd/internal/realtime"
	"pacschat/cmd/security/seal"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	APIBaseURL  string
	HTTPTimeout time.Duration

	WSURL          string
	WSOrigin       string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	Heartbeat      time.Duration

	// ServerLocation is the zone the server writes zone-less timestamps in.
	ServerLocation *time.Location

	LogLevel  string
	LogFormat string

	// StatusAddr enables the local /healthz, /readyz and /metrics server.
	StatusAddr string

	Session session.Config
	Seal    seal.Config
}

// LoadConfig loads Config from environment variables with defaults.
// Call LoadDotEnv first to honor a .env file.
func LoadConfig() (Config, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}
	sealCfg, err := seal.FromEnv()
	if err != nil {
		return Config{}, err
	}
	loc, err := envLocation("PACSCHAT_SERVER_TZ", time.Local)
	if err != nil {
		return Config{}, err
	}

	return Config{
		APIBaseURL:  EnvString("PACSCHAT_API_BASE_URL", backend.DefaultBaseURL),
		HTTPTimeout: EnvDuration("PACSCHAT_HTTP_TIMEOUT", backend.DefaultTimeout),

		WSURL:          EnvString("PACSCHAT_WS_URL", realtime.DefaultWSURL),
		WSOrigin:       EnvString("PACSCHAT_WS_ORIGIN", ""),
		ReconnectDelay: EnvDuration("PACSCHAT_RECONNECT_DELAY", 5*time.Second),
		DialTimeout:    EnvDuration("PACSCHAT_DIAL_TIMEOUT", 10*time.Second),
		Heartbeat:      envHeartbeat("PACSCHAT_HEARTBEAT", 10*time.Second),

		ServerLocation: loc,

		LogLevel:  EnvString("PACSCHAT_LOG_LEVEL", "info"),
		LogFormat: EnvString("PACSCHAT_LOG_FORMAT", "json"),

		StatusAddr: EnvString("PACSCHAT_STATUS_ADDR", ""),

		Session: sessCfg,
		Seal:    sealCfg,
	}, nil
}

// envHeartbeat is EnvDuration that also accepts "0" to disable heart-beats.
func envHeartbeat(key string, def time.Duration) time.Duration {
	if EnvString(key, "") == "0" {
		return 0
	}
	return EnvDuration(key, def)
}

// envLocation reads an IANA zone name ("Asia/Seoul", "UTC", "Local").
func envLocation(key string, def *time.Location) (*time.Location, error) {
	name := EnvString(key, "")
	if name == "" {
		return def, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return loc, nil
}
