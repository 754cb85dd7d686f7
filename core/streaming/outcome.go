package streaming

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// Side identifies what ended a session.
type Side string

const (
	SideClient   Side = "client"
	SideUpstream Side = "upstream"
	SideContext  Side = "context"
)

// ReportedError is an error the upstream announced with an {"error": ...}
// control frame.
type ReportedError struct {
	Message string
}

func (e *ReportedError) Error() string {
	return fmt.Sprintf("upstream reported error: %s", e.Message)
}

// Outcome describes how a bridge ended and which close codes were sent.
type Outcome struct {
	Side         Side
	Err          error
	ClientCode   int
	UpstreamCode int
}

// Normal reports whether the ending side closed in an orderly way.
func (o Outcome) Normal() bool {
	if o.Side == SideContext {
		return true
	}
	var reported *ReportedError
	if errors.As(o.Err, &reported) {
		return false
	}
	return isCloseCode(o.Err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// isCloseCode is websocket.IsCloseError that also sees through wrapping.
func isCloseCode(err error, codes ...int) bool {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return false
	}
	for _, code := range codes {
		if ce.Code == code {
			return true
		}
	}
	return false
}

// Reason is a short label suitable for logs and metric labels.
func (o Outcome) Reason() string {
	switch o.Side {
	case SideContext:
		return "cancelled"
	case SideClient:
		if o.Normal() || isCloseCode(o.Err, websocket.CloseNoStatusReceived) {
			return "client_closed"
		}
		return "client_error"
	case SideUpstream:
		if o.Normal() {
			return "upstream_closed"
		}
		return "upstream_error"
	}
	return "unknown"
}

func (o Outcome) clientReason() string {
	switch o.ClientCode {
	case websocket.CloseInternalServerErr:
		return UpstreamErrorReason
	case websocket.CloseGoingAway:
		return "Relay shutting down"
	}
	return ""
}
