package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"spriteconsole/core/control"
)

// UpstreamErrorReason is the close reason sent to the client when the
// upstream leg fails.
const UpstreamErrorReason = "Sprites connection error"

const defaultControlTimeout = time.Second

// Conn is the subset of *websocket.Conn the bridge uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Direction identifies one leg of the bridge.
type Direction string

const (
	ClientToUpstream Direction = "client_to_upstream"
	UpstreamToClient Direction = "upstream_to_client"
)

// Observer receives per-frame accounting. Calls come from the forwarding
// goroutines and must not block.
type Observer interface {
	ObserveFrame(dir Direction, messageType int, size int)
}

// Stats are cumulative counters for one bridge.
type Stats struct {
	ClientFrames   int64
	ClientBytes    int64
	UpstreamFrames int64
	UpstreamBytes  int64
}

// Bridge pumps frames between a client and an upstream connection.
type Bridge struct {
	client   Conn
	upstream Conn
	logger   zerolog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
	observer     Observer

	clientFrames   atomic.Int64
	clientBytes    atomic.Int64
	upstreamFrames atomic.Int64
	upstreamBytes  atomic.Int64

	once    sync.Once
	outcome Outcome
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithWriteTimeout bounds each write. A sink that stays blocked longer ends
// the session. Zero disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.writeTimeout = d }
}

// WithPingInterval pings the client periodically and expects a pong within
// two intervals. Zero disables keepalive.
func WithPingInterval(d time.Duration) Option {
	return func(b *Bridge) { b.pingInterval = d }
}

// WithReadLimit caps the size of a single client frame.
func WithReadLimit(n int64) Option {
	return func(b *Bridge) { b.readLimit = n }
}

// WithObserver registers a frame observer.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// NewBridge creates a bridge. It takes ownership of both connections.
func NewBridge(client, upstream Conn, logger zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{client: client, upstream: upstream, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run forwards frames until either side ends or ctx is cancelled. Both
// connections are closed when it returns.
func (b *Bridge) Run(ctx context.Context) Outcome {
	if b.readLimit > 0 {
		b.client.SetReadLimit(b.readLimit)
	}
	if b.pingInterval > 0 {
		wait := 2 * b.pingInterval
		_ = b.client.SetReadDeadline(time.Now().Add(wait))
		b.client.SetPongHandler(func(string) error {
			return b.client.SetReadDeadline(time.Now().Add(wait))
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer b.logger.Debug().Msg("Client->Upstream goroutine exiting")
		return b.end(b.clientToUpstream())
	})
	g.Go(func() error {
		defer b.logger.Debug().Msg("Upstream->Client goroutine exiting")
		return b.end(b.upstreamToClient())
	})
	if b.pingInterval > 0 {
		g.Go(func() error {
			return b.end(b.keepalive(gctx))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			b.end(Outcome{Side: SideContext, Err: context.Cause(ctx)})
		}
		return nil
	})

	_ = g.Wait()
	b.logger.Debug().Str("reason", b.outcome.Reason()).Err(b.outcome.Err).Msg("Bridge terminated")
	return b.outcome
}

// Stats returns a snapshot of the frame counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		ClientFrames:   b.clientFrames.Load(),
		ClientBytes:    b.clientBytes.Load(),
		UpstreamFrames: b.upstreamFrames.Load(),
		UpstreamBytes:  b.upstreamBytes.Load(),
	}
}

func (b *Bridge) clientToUpstream() Outcome {
	for {
		messageType, data, err := b.client.ReadMessage()
		if err != nil {
			return Outcome{Side: SideClient, Err: fmt.Errorf("client read: %w", err)}
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		outType := websocket.BinaryMessage
		if _, ok := control.Parse(data).(control.Resize); ok {
			outType = websocket.TextMessage
			b.logger.Debug().RawJSON("frame", data).Msg("Forwarding resize upstream")
		}

		if err := b.write(b.upstream, outType, data); err != nil {
			return Outcome{Side: SideUpstream, Err: fmt.Errorf("upstream write: %w", err)}
		}
		b.clientFrames.Add(1)
		b.clientBytes.Add(int64(len(data)))
		b.observe(ClientToUpstream, outType, len(data))
	}
}

func (b *Bridge) upstreamToClient() Outcome {
	for {
		messageType, data, err := b.upstream.ReadMessage()
		if err != nil {
			return Outcome{Side: SideUpstream, Err: fmt.Errorf("upstream read: %w", err)}
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if err := b.write(b.client, messageType, data); err != nil {
			return Outcome{Side: SideClient, Err: fmt.Errorf("client write: %w", err)}
		}
		b.upstreamFrames.Add(1)
		b.upstreamBytes.Add(int64(len(data)))
		b.observe(UpstreamToClient, messageType, len(data))

		if messageType == websocket.TextMessage {
			if e, ok := control.Parse(data).(control.Error); ok {
				return Outcome{Side: SideUpstream, Err: &ReportedError{Message: e.Message}}
			}
		}
	}
}

func (b *Bridge) keepalive(ctx context.Context) Outcome {
	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Outcome{Side: SideContext, Err: ctx.Err()}
		case <-ticker.C:
			if err := b.client.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.controlTimeout())); err != nil {
				return Outcome{Side: SideClient, Err: fmt.Errorf("client ping: %w", err)}
			}
		}
	}
}

func (b *Bridge) write(conn Conn, messageType int, data []byte) error {
	if b.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(messageType, data)
}

func (b *Bridge) observe(dir Direction, messageType, size int) {
	if b.observer != nil {
		b.observer.ObserveFrame(dir, messageType, size)
	}
}

func (b *Bridge) controlTimeout() time.Duration {
	if b.writeTimeout > 0 && b.writeTimeout < defaultControlTimeout {
		return b.writeTimeout
	}
	return defaultControlTimeout
}

// end records the first outcome and tears both connections down. Later
// calls are no-ops. The returned error is always non-nil so the errgroup
// cancels the remaining goroutines.
func (b *Bridge) end(o Outcome) error {
	b.once.Do(func() {
		o.ClientCode, o.UpstreamCode = closeCodes(o)
		b.outcome = o
		deadline := time.Now().Add(b.controlTimeout())

		if o.UpstreamCode != 0 {
			_ = b.upstream.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(o.UpstreamCode, ""), deadline)
		}
		if o.ClientCode != 0 {
			_ = b.client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(o.ClientCode, o.clientReason()), deadline)
		}
		_ = b.upstream.Close()
		_ = b.client.Close()
	})
	return errSessionEnded
}

var errSessionEnded = errors.New("session ended")

// closeCodes picks what each peer is told. A zero code means the peer
// already initiated the close handshake or its connection is unusable.
func closeCodes(o Outcome) (client, upstream int) {
	switch o.Side {
	case SideContext:
		return websocket.CloseGoingAway, websocket.CloseGoingAway
	case SideClient:
		return 0, websocket.CloseNormalClosure
	default:
		if o.Normal() {
			return websocket.CloseNormalClosure, 0
		}
		return websocket.CloseInternalServerErr, websocket.CloseNormalClosure
	}
}
