package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Decoder turns an opaque bearer credential into a Session.
type Decoder interface {
	Decode(credential string, now time.Time) (Session, error)
}

type pasetoV4Decoder struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Decoder builds a Decoder that verifies PASETO v4.public credentials.
//
// Expiry is checked by checkExpiry rather than the parser's NotExpired rule so
// that both token formats share the same strict "in the future" semantics.
func NewPasetoV4Decoder(cfg Config) (Decoder, error) {
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(cfg.PasetoV4PublicKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &pasetoV4Decoder{
		issuer:    cfg.PasetoIssuer,
		clockSkew: cfg.ClockSkew,
		public:    public,
	}, nil
}

func (d *pasetoV4Decoder) Decode(credential string, now time.Time) (Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" || len(credential) > maxCredentialBytes {
		return Session{}, ErrInvalidCredential
	}

	// Fresh parser per call to avoid accumulating rules across decodes.
	p := paseto.NewParserWithoutExpiryCheck()
	if d.issuer != "" {
		p.AddRule(paseto.IssuedBy(d.issuer))
	}

	parsed, err := p.ParseV4Public(d.public, credential, nil)
	if err != nil {
		return Session{}, ErrInvalidCredential
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		// Tokens minted by the realtime gateway carry the subject as "uid".
		sub, err = parsed.GetString("uid")
		if err != nil || sub == "" {
			return Session{}, ErrInvalidCredential
		}
	}

	exp, err := parsed.GetExpiration()
	if err != nil {
		return Session{}, ErrInvalidCredential
	}

	role, _ := parsed.GetString("auth")
	name, _ := parsed.GetString("username")

	s := Session{
		SubjectID:   sub,
		Role:        role,
		DisplayName: name,
		ExpiresAt:   exp,
	}
	if err := checkExpiry(s, now, d.clockSkew); err != nil {
		return Session{}, err
	}
	return s, nil
}
