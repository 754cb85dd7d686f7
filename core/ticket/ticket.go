// Package ticket issues and verifies short-lived console tickets.
//
// A ticket lets a browser or CLI open a relay connection for one sprite
// without ever handing the relay its long-lived API token: the control plane
// signs the target and geometry, and the relay dials upstream with its own
// service credential.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is how long a freshly signed ticket stays valid.
const DefaultTTL = 5 * time.Minute

var (
	ErrNoSecret = errors.New("ticket secret is empty")
	ErrInvalid  = errors.New("invalid ticket")
	ErrExpired  = errors.New("ticket expired")
)

// Claims are the signed contents of a ticket.
type Claims struct {
	SpriteName string `json:"spriteName"`
	SessionID  string `json:"sessionId,omitempty"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tickets with one shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock sets the time source used for issuing and checking expiry.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	i := &Issuer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the validity window of issued tickets.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Sign mints a ticket for c. Registered claims in c are replaced.
func (i *Issuer) Sign(c Claims) (string, time.Time, error) {
	if c.SpriteName == "" {
		return "", time.Time{}, fmt.Errorf("%w: sprite name is required", ErrInvalid)
	}

	issued := i.now().UTC()
	expires := issued.Add(i.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign ticket: %w", err)
	}
	return token, expires, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// Expired tickets yield ErrExpired; every other failure yields ErrInvalid.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	case claims.SpriteName == "":
		return nil, fmt.Errorf("%w: missing spriteName", ErrInvalid)
	}
	return &claims, nil
}
