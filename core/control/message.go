// Package control defines the JSON side-channel frames that share a terminal
// byte stream with raw PTY data.
//
// Parse never fails: a frame is either one of the typed control variants or
// Raw, which carries the original bytes untouched.
package control

import (
	"bytes"
	"encoding/json"
	"strconv"
)

const (
	TypeResize      = "resize"
	TypeSessionInfo = "session_info"
)

// Message is a decoded frame. The concrete types are Resize, SessionInfo,
// Error and Raw.
type Message interface {
	Kind() string
	isMessage()
}

// Resize asks the upstream PTY to change geometry.
type Resize struct {
	Cols int
	Rows int
}

// SessionInfo is informational metadata sent once an upstream exec starts.
// Fields holds every member of the JSON object, type included.
type SessionInfo struct {
	Fields map[string]json.RawMessage
}

// Error signals a session-level failure reported by the upstream.
type Error struct {
	Message string
}

// Raw is terminal output or input that is not a control frame.
type Raw struct {
	Data []byte
}

func (Resize) Kind() string      { return TypeResize }
func (SessionInfo) Kind() string { return TypeSessionInfo }
func (Error) Kind() string       { return "error" }
func (Raw) Kind() string         { return "raw" }

func (Resize) isMessage()      {}
func (SessionInfo) isMessage() {}
func (Error) isMessage()       {}
func (Raw) isMessage()         {}

// IsControl reports whether m is anything other than Raw.
func IsControl(m Message) bool {
	_, raw := m.(Raw)
	return !raw
}

// Parse classifies a frame. Only a JSON object whose "type" is a known
// control type, or which carries a truthy "error" member, is control.
// A resize without integer geometry is Raw.
func Parse(data []byte) Message {
	raw := Raw{Data: data}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return raw
	}

	if t, ok := stringMember(obj, "type"); ok {
		switch t {
		case TypeResize:
			cols, okc := intMember(obj, "cols")
			rows, okr := intMember(obj, "rows")
			if okc && okr {
				return Resize{Cols: cols, Rows: rows}
			}
			return raw
		case TypeSessionInfo:
			return SessionInfo{Fields: obj}
		}
	}

	if msg, ok := errorMember(obj); ok {
		return Error{Message: msg}
	}
	return raw
}

func stringMember(obj map[string]json.RawMessage, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func intMember(obj map[string]json.RawMessage, key string) (int, bool) {
	v, ok := obj[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(v)))
	if err != nil {
		return 0, false
	}
	return n, true
}

// errorMember reports a truthy "error" member. Only null, false, "" and
// numeric zero are falsy; objects and arrays count even when empty. A
// non-string value is rendered as its JSON text.
func errorMember(obj map[string]json.RawMessage) (string, bool) {
	v, ok := obj["error"]
	if !ok {
		return "", false
	}
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0, bytes.Equal(v, []byte("null")), bytes.Equal(v, []byte("false")):
		return "", false
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, s != ""
	case v[0] == '-' || (v[0] >= '0' && v[0] <= '9'):
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil || f == 0 {
			return "", false
		}
	}
	return string(v), true
}

// Get returns a string member such as "shell" or "session_id", or "".
func (s SessionInfo) Get(key string) string {
	v, ok := stringMember(s.Fields, key)
	if !ok {
		return ""
	}
	return v
}
