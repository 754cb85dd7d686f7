package sprites

import "encoding/json"

// URLAuth controls who may open a sprite's public URL.
type URLAuth string

const (
	URLAuthSprite URLAuth = "sprite"
	URLAuthPublic URLAuth = "public"
)

// Sprite is a remote sandbox as reported by the API.
type Sprite struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Org       string `json:"org,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Checkpoint is a saved filesystem snapshot of a sprite.
type Checkpoint struct {
	ID         string `json:"id"`
	CreateTime string `json:"create_time"`
	Comment    string `json:"comment,omitempty"`
}

// ExecResult is the outcome of a non-interactive command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ExecOptions tune a non-interactive command. A nil Stdin sends no input.
type ExecOptions struct {
	Dir   string
	Env   map[string]string
	Stdin *string
}

type createSpriteRequest struct {
	Name        string      `json:"name"`
	URLSettings urlSettings `json:"url_settings"`
}

type urlSettings struct {
	Auth URLAuth `json:"auth"`
}

type checkpointRequest struct {
	Comment string `json:"comment,omitempty"`
}

// StreamEvent is one line of an NDJSON progress stream.
type StreamEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Text returns Data as a string, unquoting it when it is a JSON string.
func (e StreamEvent) Text() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}
