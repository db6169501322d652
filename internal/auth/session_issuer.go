package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 12 * time.Hour

var (
	errMissingSigningSecret = errors.New("session issuer: signing secret required")
	errMissingIssuer        = errors.New("session issuer: issuer required")
	errMissingOwnerID       = errors.New("session issuer: owner id required")
)

// SessionIssuerConfig configures the issuer used by local tooling and tests to mint
// sessions the SessionValidator accepts.
type SessionIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TTL           time.Duration
	Clock         func() time.Time
}

// SessionIssuer signs HS256 session tokens.
type SessionIssuer struct {
	signingSecret []byte
	issuer        string
	ttl           time.Duration
	clock         func() time.Time
}

// SessionProfile carries the identity fields embedded in a minted session.
type SessionProfile struct {
	OwnerID     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// NewSessionIssuer validates configuration and constructs a SessionIssuer.
func NewSessionIssuer(cfg SessionIssuerConfig) (*SessionIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token and its expiry time.
func (i *SessionIssuer) Issue(profile SessionProfile) (string, time.Time, error) {
	ownerID := strings.TrimSpace(profile.OwnerID)
	if ownerID == "" {
		return "", time.Time{}, errMissingOwnerID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID:          ownerID,
		UserEmail:       strings.TrimSpace(profile.Email),
		UserDisplayName: strings.TrimSpace(profile.DisplayName),
		UserAvatarURL:   strings.TrimSpace(profile.AvatarURL),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
