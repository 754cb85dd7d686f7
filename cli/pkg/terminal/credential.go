package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrAuthRequired means the relay or the control plane refused the
// credential. The Client does not reconnect after it; the user has to sign
// in again or mint a new ticket.
var ErrAuthRequired = errors.New("authentication required")

// Mode selects how a connection authenticates to the relay.
type Mode string

const (
	// ModeToken passes the user's own API token in the connection URI.
	ModeToken Mode = "token"
	// ModeTicket passes a short-lived ticket minted by the control plane.
	ModeTicket Mode = "ticket"
)

// ParseMode accepts "token" or "ticket".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeToken, ModeTicket:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown console mode %q (want token or ticket)", s)
}

// Geometry is a terminal size in character cells.
type Geometry struct {
	Cols int
	Rows int
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Cols > 0 && g.Rows > 0
}

// Credential is what one connection attempt presents to the relay.
type Credential struct {
	Mode  Mode
	Value string
	// URL replaces the configured relay endpoint when set. Ticket responses
	// name the relay the ticket is valid for.
	URL string
}

// CredentialSource is asked for a credential before every connection
// attempt, so a ticket source can mint a fresh ticket each time.
type CredentialSource interface {
	Credential(ctx context.Context, g Geometry) (Credential, error)
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context, g Geometry) (Credential, error)

func (f CredentialFunc) Credential(ctx context.Context, g Geometry) (Credential, error) {
	return f(ctx, g)
}

// StaticToken returns a source that always presents token. An empty token
// fails with ErrAuthRequired.
func StaticToken(token string) CredentialSource {
	return CredentialFunc(func(context.Context, Geometry) (Credential, error) {
		if token == "" {
			return Credential{}, fmt.Errorf("%w: no API token configured", ErrAuthRequired)
		}
		return Credential{Mode: ModeToken, Value: token}, nil
	})
}

// BuildURL renders the relay connection URI for one attempt.
//
// Token mode carries sprite, cols, rows, token and an optional session_id.
// Ticket mode carries only the ticket; the relay reads everything else from
// its claims.
func BuildURL(base, sprite, sessionID string, g Geometry, cred Credential) (string, error) {
	if cred.URL != "" {
		base = cred.URL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid relay url %q: scheme must be ws or wss", base)
	}

	q := u.Query()
	switch cred.Mode {
	case ModeToken:
		q.Set("sprite", sprite)
		q.Set("cols", strconv.Itoa(g.Cols))
		q.Set("rows", strconv.Itoa(g.Rows))
		q.Set("token", cred.Value)
		if sessionID != "" {
			q.Set("session_id", sessionID)
		}
	case ModeTicket:
		q.Set("ticket", cred.Value)
	default:
		return "", fmt.Errorf("credential has unknown mode %q", cred.Mode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
