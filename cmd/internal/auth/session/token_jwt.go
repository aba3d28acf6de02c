package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// maxCredentialBytes bounds decoder input.
const maxCredentialBytes = 8 << 10

// jwtClaims mirrors the claims the server puts into access tokens.
type jwtClaims struct {
	Auth     string `json:"auth"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type jwtDecoder struct {
	key       []byte
	clockSkew time.Duration
}

// NewJWTDecoder builds a JWT Decoder. With an HMAC key configured the
// signature is verified; otherwise only the payload is decoded.
func NewJWTDecoder(cfg Config) Decoder {
	d := &jwtDecoder{clockSkew: cfg.ClockSkew}
	if cfg.JWTHMACKey != "" {
		d.key = []byte(cfg.JWTHMACKey)
	}
	return d
}

func (d *jwtDecoder) Decode(credential string, now time.Time) (Session, error) {
	credential = strings.TrimSpace(credential)
	credential = strings.TrimPrefix(credential, "Bearer ")
	if credential == "" || len(credential) > maxCredentialBytes {
		return Session{}, ErrInvalidCredential
	}

	// Time claims are checked by checkExpiry so "now" stays injectable.
	p := jwt.NewParser(jwt.WithoutClaimsValidation())

	var claims jwtClaims
	if d.key == nil {
		if _, _, err := p.ParseUnverified(credential, &claims); err != nil {
			return Session{}, ErrInvalidCredential
		}
	} else {
		vp := jwt.NewParser(
			jwt.WithoutClaimsValidation(),
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		)
		if _, err := vp.ParseWithClaims(credential, &claims, func(*jwt.Token) (any, error) {
			return d.key, nil
		}); err != nil {
			return Session{}, ErrInvalidCredential
		}
	}

	if claims.Subject == "" || claims.ExpiresAt == nil {
		return Session{}, ErrInvalidCredential
	}

	s := Session{
		SubjectID:   claims.Subject,
		Role:        claims.Auth,
		DisplayName: claims.Username,
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if err := checkExpiry(s, now, d.clockSkew); err != nil {
		return Session{}, err
	}
	return s, nil
}

// checkExpiry requires the expiry to be strictly after now (+ skew).
func checkExpiry(s Session, now time.Time, skew time.Duration) error {
	validNow := now.Add(skew)
	if !s.ExpiresAt.After(validNow) {
		return ExpiredError{ExpiresAt: s.ExpiresAt, Now: now}
	}
	return nil
}
