package session

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TokenFormat selects the credential decoder.
type TokenFormat string

const (
	// TokenFormatJWT decodes JWT credentials (the server default).
	TokenFormatJWT TokenFormat = "jwt"
	// TokenFormatPaseto verifies PASETO v4.public credentials.
	TokenFormatPaseto TokenFormat = "paseto"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Format selects JWT or PASETO decoding.
	Format TokenFormat

	// JWTHMACKey, when set, makes the JWT decoder verify HS256/384/512 signatures.
	// Without it the decoder trusts the payload, as a browser client would.
	JWTHMACKey string

	// PasetoV4PublicKeyHex is the hex-encoded Ed25519 public key for v4.public tokens.
	PasetoV4PublicKeyHex string

	// PasetoIssuer, when set, is enforced as the "iss" claim.
	PasetoIssuer string

	// ClockSkew makes expiry checks stricter by this amount.
	ClockSkew time.Duration

	// CredentialPath is where the credential is persisted between runs.
	CredentialPath string
}

// DefaultConfig returns defaults suitable for a local development backend.
func DefaultConfig() Config {
	return Config{
		Format:         TokenFormatJWT,
		CredentialPath: defaultCredentialPath(),
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - PACSCHAT_TOKEN_FORMAT (jwt|paseto)
//   - PACSCHAT_JWT_HMAC_KEY
//   - PACSCHAT_PASETO_PUBLIC_KEY_HEX (required when format=paseto)
//   - PACSCHAT_PASETO_ISSUER
//   - PACSCHAT_CLOCK_SKEW
//   - PACSCHAT_CREDENTIAL_PATH
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PACSCHAT_TOKEN_FORMAT")); v != "" {
		switch TokenFormat(strings.ToLower(v)) {
		case TokenFormatJWT:
			cfg.Format = TokenFormatJWT
		case TokenFormatPaseto:
			cfg.Format = TokenFormatPaseto
		default:
			return Config{}, ErrConfig
		}
	}

	cfg.JWTHMACKey = strings.TrimSpace(os.Getenv("PACSCHAT_JWT_HMAC_KEY"))
	cfg.PasetoV4PublicKeyHex = strings.TrimSpace(os.Getenv("PACSCHAT_PASETO_PUBLIC_KEY_HEX"))
	cfg.PasetoIssuer = strings.TrimSpace(os.Getenv("PACSCHAT_PASETO_ISSUER"))

	if v := os.Getenv("PACSCHAT_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("PACSCHAT_CREDENTIAL_PATH")); v != "" {
		cfg.CredentialPath = v
	}
	if cfg.CredentialPath == "" {
		return Config{}, ErrConfig
	}

	if cfg.Format == TokenFormatPaseto && cfg.PasetoV4PublicKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

// NewDecoder builds the Decoder selected by cfg.Format.
func NewDecoder(cfg Config) (Decoder, error) {
	switch cfg.Format {
	case TokenFormatPaseto:
		return NewPasetoV4Decoder(cfg)
	case TokenFormatJWT, "":
		return NewJWTDecoder(cfg), nil
	default:
		return nil, ErrConfig
	}
}

func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(os.TempDir(), "pacschat", "credential")
	}
	return filepath.Join(dir, "pacschat", "credential")
}
