package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"spriteconsole/cli/pkg/terminal"
)

// TicketRequest asks for a relay ticket bound to one sprite.
type TicketRequest struct {
	Sprite    string `json:"sprite"`
	SessionID string `json:"session_id,omitempty"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// Ticket is a short-lived relay credential.
type Ticket struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
	RelayURL  string    `json:"relay_url"`
}

// MintTicket asks the console server for a relay ticket.
func (c *Client) MintTicket(ctx context.Context, req TicketRequest) (*Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodPost, "/api/console/ticket", req, &t); err != nil {
		return nil, fmt.Errorf("failed to mint console ticket: %w", err)
	}
	if t.Ticket == "" {
		return nil, errors.New("console returned an empty ticket")
	}
	return &t, nil
}

// TicketCredentials mints a fresh ticket for every connection attempt. The
// ticket is sized to the geometry of that attempt. A 401 or 403 from the
// console is reported as terminal.ErrAuthRequired so the client stops
// retrying.
func (c *Client) TicketCredentials(sprite, sessionID string) terminal.CredentialSource {
	return terminal.CredentialFunc(func(ctx context.Context, g terminal.Geometry) (terminal.Credential, error) {
		t, err := c.MintTicket(ctx, TicketRequest{
			Sprite:    sprite,
			SessionID: sessionID,
			Cols:      g.Cols,
			Rows:      g.Rows,
		})
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
				return terminal.Credential{}, fmt.Errorf("%w: %v", terminal.ErrAuthRequired, err)
			}
			return terminal.Credential{}, err
		}
		return terminal.Credential{Mode: terminal.ModeTicket, Value: t.Ticket, URL: t.RelayURL}, nil
	})
}
