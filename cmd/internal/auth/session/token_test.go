package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/golang-jwt/jwt/v5"
)

func signJWT(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestJWTDecoder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	key := []byte("0123456789abcdef0123456789abcdef")

	valid := signJWT(t, key, jwt.MapClaims{
		"sub":      "staff-7",
		"auth":     "ROLE_STAFF",
		"username": "Kim",
		"exp":      now.Add(time.Hour).Unix(),
	})
	expired := signJWT(t, key, jwt.MapClaims{
		"sub": "staff-7",
		"exp": now.Add(-time.Second).Unix(),
	})
	expiresNow := signJWT(t, key, jwt.MapClaims{
		"sub": "staff-7",
		"exp": now.Unix(),
	})
	noSub := signJWT(t, key, jwt.MapClaims{
		"exp": now.Add(time.Hour).Unix(),
	})
	noExp := signJWT(t, key, jwt.MapClaims{
		"sub": "staff-7",
	})
	otherKey := signJWT(t, []byte("another-key-another-key-another!!"), jwt.MapClaims{
		"sub": "staff-7",
		"exp": now.Add(time.Hour).Unix(),
	})

	cases := []struct {
		name    string
		key     string
		cred    string
		wantErr error
	}{
		{name: "unverified valid", cred: valid},
		{name: "unverified bearer prefix", cred: "Bearer " + valid},
		{name: "verified valid", key: string(key), cred: valid},
		{name: "expired", cred: expired, wantErr: ErrCredentialExpired},
		{name: "expiry equal to now", cred: expiresNow, wantErr: ErrCredentialExpired},
		{name: "missing sub", cred: noSub, wantErr: ErrInvalidCredential},
		{name: "missing exp", cred: noExp, wantErr: ErrInvalidCredential},
		{name: "garbage", cred: "not.a.jwt", wantErr: ErrInvalidCredential},
		{name: "empty", cred: "", wantErr: ErrInvalidCredential},
		{name: "wrong key", key: string(key), cred: otherKey, wantErr: ErrInvalidCredential},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dec := NewJWTDecoder(Config{JWTHMACKey: tc.key})
			s, err := dec.Decode(tc.cred, now)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want=%v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if s.SubjectID != "staff-7" || s.Role != "ROLE_STAFF" || s.DisplayName != "Kim" {
				t.Fatalf("session mismatch: %+v", s)
			}
			if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
				t.Fatalf("exp=%v want=%v", s.ExpiresAt, now.Add(time.Hour))
			}
		})
	}
}

func TestJWTDecoder_ExpiredIsInvalid(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	cred := signJWT(t, []byte("k"), jwt.MapClaims{"sub": "x", "exp": now.Add(-time.Minute).Unix()})

	_, err := NewJWTDecoder(Config{}).Decode(cred, now)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expired credential must also be ErrInvalidCredential, got %v", err)
	}
	var ee ExpiredError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExpiredError, got %T", err)
	}
}

func TestJWTDecoder_ClockSkewIsStricter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cred := signJWT(t, []byte("k"), jwt.MapClaims{"sub": "x", "exp": now.Add(10 * time.Second).Unix()})

	if _, err := NewJWTDecoder(Config{}).Decode(cred, now); err != nil {
		t.Fatalf("no skew: %v", err)
	}
	if _, err := NewJWTDecoder(Config{ClockSkew: 30 * time.Second}).Decode(cred, now); !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("with skew: err=%v want ErrCredentialExpired", err)
	}
}

func issuePaseto(secret paseto.V4AsymmetricSecretKey, issuer, subject string, exp time.Time, extra map[string]string) string {
	tok := paseto.NewToken()
	tok.SetIssuer(issuer)
	tok.SetIssuedAt(exp.Add(-time.Hour))
	tok.SetNotBefore(exp.Add(-time.Hour))
	tok.SetExpiration(exp)
	if subject != "" {
		tok.SetSubject(subject)
	}
	for k, v := range extra {
		_ = tok.Set(k, v)
	}
	return tok.V4Sign(secret, nil)
}

func TestPasetoV4Decoder(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	other := paseto.NewV4AsymmetricSecretKey()
	now := time.Now().UTC()

	dec, err := NewPasetoV4Decoder(Config{
		PasetoV4PublicKeyHex: secret.Public().ExportHex(),
		PasetoIssuer:         "pacs",
	})
	if err != nil {
		t.Fatalf("NewPasetoV4Decoder: %v", err)
	}

	claims := map[string]string{"auth": "ROLE_ADMIN", "username": "Lee"}

	s, err := dec.Decode(issuePaseto(secret, "pacs", "admin-1", now.Add(time.Hour), claims), now)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.SubjectID != "admin-1" || !s.IsElevated() || s.DisplayName != "Lee" {
		t.Fatalf("session mismatch: %+v", s)
	}

	// Gateway-minted tokens carry "uid" instead of "sub".
	s, err = dec.Decode(issuePaseto(secret, "pacs", "", now.Add(time.Hour), map[string]string{"uid": "u-9"}), now)
	if err != nil {
		t.Fatalf("Decode uid: %v", err)
	}
	if s.SubjectID != "u-9" {
		t.Fatalf("subject=%q want=u-9", s.SubjectID)
	}

	if _, err := dec.Decode(issuePaseto(secret, "pacs", "admin-1", now.Add(-time.Minute), claims), now); !errors.Is(err, ErrCredentialExpired) {
		t.Fatalf("expired: err=%v", err)
	}
	if _, err := dec.Decode(issuePaseto(other, "pacs", "admin-1", now.Add(time.Hour), claims), now); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("foreign key: err=%v", err)
	}
	if _, err := dec.Decode(issuePaseto(secret, "elsewhere", "admin-1", now.Add(time.Hour), claims), now); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("wrong issuer: err=%v", err)
	}
}

func TestLandingFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		role string
		want Landing
	}{
		{role: "ROLE_ADMIN", want: LandingAdmin},
		{role: "ROLE_STAFF,ROLE_ADMIN", want: LandingAdmin},
		{role: "ROLE_STAFF", want: LandingMain},
		{role: "", want: LandingMain},
	}
	for _, tc := range cases {
		if got := LandingFor(Session{Role: tc.role}); got != tc.want {
			t.Fatalf("LandingFor(%q)=%q want=%q", tc.role, got, tc.want)
		}
	}
}
