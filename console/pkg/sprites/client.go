// Package sprites is a client for the Sprites REST API.
package sprites

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public Sprites API.
const DefaultBaseURL = "https://api.sprites.dev/v1"

const maxErrorBody = 4096

var checkpointIDPattern = regexp.MustCompile(`Checkpoint\s+(v\d+)`)

// Client calls the Sprites API with one bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of c that authenticates as token. The HTTP
// client is shared.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) CreateSprite(ctx context.Context, name string, urlAuth URLAuth) (*Sprite, error) {
	if urlAuth == "" {
		urlAuth = URLAuthSprite
	}
	body := createSpriteRequest{Name: name, URLSettings: urlSettings{Auth: urlAuth}}
	var sprite Sprite
	if err := c.doJSON(ctx, "create sprite", http.MethodPost, "/sprites", body, &sprite); err != nil {
		return nil, err
	}
	return &sprite, nil
}

func (c *Client) ListSprites(ctx context.Context) ([]Sprite, error) {
	var sprites []Sprite
	if err := c.doJSON(ctx, "list sprites", http.MethodGet, "/sprites", nil, &sprites); err != nil {
		return nil, err
	}
	if sprites == nil {
		sprites = []Sprite{}
	}
	return sprites, nil
}

func (c *Client) GetSprite(ctx context.Context, name string) (*Sprite, error) {
	var sprite Sprite
	if err := c.doJSON(ctx, "get sprite", http.MethodGet, spritePath(name), nil, &sprite); err != nil {
		return nil, err
	}
	return &sprite, nil
}

func (c *Client) DeleteSprite(ctx context.Context, name string) error {
	return c.doJSON(ctx, "delete sprite", http.MethodDelete, spritePath(name), nil, nil)
}

// CreateCheckpoint snapshots a sprite. The API answers with an NDJSON
// progress stream whose "complete" event names the new checkpoint.
func (c *Client) CreateCheckpoint(ctx context.Context, name, comment string) (string, error) {
	resp, err := c.do(ctx, "create checkpoint", http.MethodPost, spritePath(name)+"/checkpoint", checkpointRequest{Comment: comment}, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var id string
	err = readEvents(resp.Body, func(ev StreamEvent) {
		if ev.Type != "complete" {
			return
		}
		if m := checkpointIDPattern.FindStringSubmatch(ev.Text()); m != nil {
			id = m[1]
		}
	})
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint stream: %w", err)
	}
	if id == "" {
		return "", ErrNoCheckpointID
	}
	return id, nil
}

func (c *Client) ListCheckpoints(ctx context.Context, name string) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	if err := c.doJSON(ctx, "list checkpoints", http.MethodGet, spritePath(name)+"/checkpoints", nil, &checkpoints); err != nil {
		return nil, err
	}
	if checkpoints == nil {
		checkpoints = []Checkpoint{}
	}
	return checkpoints, nil
}

// RestoreCheckpoint rolls a sprite back and waits for the restore stream to end.
func (c *Client) RestoreCheckpoint(ctx context.Context, name, checkpointID string) error {
	path := spritePath(name) + "/checkpoints/" + url.PathEscape(checkpointID) + "/restore"
	resp, err := c.do(ctx, "restore checkpoint", http.MethodPost, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var failure string
	err = readEvents(resp.Body, func(ev StreamEvent) {
		if ev.Type == "error" {
			failure = ev.Text()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to read restore stream: %w", err)
	}
	if failure != "" {
		return fmt.Errorf("restore failed: %s", failure)
	}
	return nil
}

// Exec runs cmd to completion inside the sprite.
func (c *Client) Exec(ctx context.Context, name string, cmd []string, opts ExecOptions) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("exec requires a command")
	}

	params := url.Values{}
	for _, arg := range cmd {
		params.Add("cmd", arg)
	}
	if opts.Dir != "" {
		params.Add("dir", opts.Dir)
	}
	if opts.Stdin != nil {
		params.Add("stdin", "true")
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params.Add("env", k+"="+opts.Env[k])
	}

	var body io.Reader
	if opts.Stdin != nil {
		body = strings.NewReader(*opts.Stdin)
	}

	resp, err := c.do(ctx, "exec", http.MethodPost, spritePath(name)+"/exec?"+params.Encode(), body, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ExecResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode exec response: %w", err)
	}
	return &result, nil
}

func spritePath(name string) string {
	return "/sprites/" + url.PathEscape(name)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.do(ctx, op, method, path, in, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// do sends a request and returns the response for any 2xx status. Non-2xx
// answers become *APIError. body may be nil, an io.Reader sent as-is, or a
// value encoded as JSON.
func (c *Client) do(ctx context.Context, op, method, path string, body any, contentType string) (*http.Response, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if reader != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log.Debug().Str("operation", op).Str("method", method).Str("path", req.URL.Path).Msg("Calling Sprites API")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text)), Operation: op}
	}
	return resp, nil
}

// readEvents decodes an NDJSON stream line by line. Lines that are not JSON
// objects are skipped.
func readEvents(r io.Reader, fn func(StreamEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed stream line")
			continue
		}
		fn(ev)
	}
	return scanner.Err()
}
