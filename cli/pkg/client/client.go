package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spriteconsole/cli/pkg/config"
	"spriteconsole/console/pkg/sprites"
	"spriteconsole/core/auth"
)

const defaultTimeout = 5 * time.Minute

// APIError is a non-2xx response from the console server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("console returned %d", e.StatusCode)
	}
	return fmt.Sprintf("console returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the console.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the console.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the console server's JSON API with the stored API token
// as a bearer credential.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Console.URL, "/"),
		token:      cfg.Auth.Token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// WithHTTPClient replaces the HTTP client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// SignIn checks token against the console server and returns the org it
// belongs to. It does not use the stored token.
func (c *Client) SignIn(ctx context.Context, token string) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		Org     string `json:"org"`
	}
	if err := c.doWith(ctx, "", http.MethodPost, "/api/auth/token", map[string]string{"token": token}, &resp); err != nil {
		return "", fmt.Errorf("sign in failed: %w", err)
	}
	return resp.Org, nil
}

// CurrentUser returns the identity the console derives for the stored token.
func (c *Client) CurrentUser(ctx context.Context) (*auth.Identity, error) {
	var id auth.Identity
	if err := c.do(ctx, http.MethodGet, "/api/auth/user", nil, &id); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &id, nil
}

func (c *Client) ListSprites(ctx context.Context) ([]sprites.Sprite, error) {
	var list []sprites.Sprite
	if err := c.do(ctx, http.MethodGet, "/api/sprites", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list sprites: %w", err)
	}
	return list, nil
}

func (c *Client) GetSprite(ctx context.Context, name string) (*sprites.Sprite, error) {
	var sprite sprites.Sprite
	if err := c.do(ctx, http.MethodGet, spritePath(name), nil, &sprite); err != nil {
		return nil, fmt.Errorf("failed to get sprite %s: %w", name, err)
	}
	return &sprite, nil
}

func (c *Client) CreateSprite(ctx context.Context, name string, urlAuth sprites.URLAuth) (*sprites.Sprite, error) {
	body := map[string]any{"name": name}
	if urlAuth != "" {
		body["url_auth"] = urlAuth
	}
	var sprite sprites.Sprite
	if err := c.do(ctx, http.MethodPost, "/api/sprites", body, &sprite); err != nil {
		return nil, fmt.Errorf("failed to create sprite %s: %w", name, err)
	}
	return &sprite, nil
}

func (c *Client) DeleteSprite(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodDelete, spritePath(name), nil, nil); err != nil {
		return fmt.Errorf("failed to delete sprite %s: %w", name, err)
	}
	return nil
}

// InitSprite installs the base toolchain and, when repoURL is set, clones it
// into /home.
func (c *Client) InitSprite(ctx context.Context, name, repoURL string) error {
	body := map[string]any{"clone_repo": repoURL != "", "repo_url": repoURL}
	if err := c.do(ctx, http.MethodPost, spritePath(name)+"/init", body, nil); err != nil {
		return fmt.Errorf("failed to initialize sprite %s: %w", name, err)
	}
	return nil
}

func (c *Client) ListCheckpoints(ctx context.Context, name string) ([]sprites.Checkpoint, error) {
	var list []sprites.Checkpoint
	if err := c.do(ctx, http.MethodGet, spritePath(name)+"/checkpoints", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return list, nil
}

// CreateCheckpoint returns the new checkpoint's id.
func (c *Client) CreateCheckpoint(ctx context.Context, name, comment string) (string, error) {
	var resp struct {
		CheckpointID string `json:"checkpoint_id"`
	}
	body := map[string]string{"comment": comment}
	if err := c.do(ctx, http.MethodPost, spritePath(name)+"/checkpoints", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return resp.CheckpointID, nil
}

func (c *Client) RestoreCheckpoint(ctx context.Context, name, id string) error {
	path := spritePath(name) + "/checkpoints/" + url.PathEscape(id) + "/restore"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to restore checkpoint %s: %w", id, err)
	}
	return nil
}

func spritePath(name string) string {
	return "/api/sprites/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWith(ctx, c.token, method, path, body, out)
}

func (c *Client) doWith(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
