package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"spriteconsole/core/control"
)

const (
	// DefaultReconnectDelay is the fixed wait before the single reconnect
	// attempt that follows an unexpected close.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultResizeDebounce lets layout settle before geometry is read.
	DefaultResizeDebounce = 50 * time.Millisecond

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	defaultCols = 80
	defaultRows = 24
)

var (
	// ErrClosed is returned once Teardown has been called.
	ErrClosed = errors.New("terminal client closed")

	// ErrNotRunning is returned by input methods when no Run loop is active.
	ErrNotRunning = errors.New("terminal client not running")

	errAlreadyRunning = errors.New("terminal client already running")
)

// RemoteError is an {"error": ...} frame reported by the upstream exec.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "session error: " + e.Message
}

// Surface is where output is rendered and geometry is read from.
type Surface interface {
	io.Writer
	Size() (cols, rows int, err error)
}

// Options configures a Client. URL, Sprite, Surface and Credentials are
// required.
type Options struct {
	// URL is the relay endpoint, for example ws://localhost:3001/ws.
	URL       string
	Sprite    string
	SessionID string

	Surface     Surface
	Credentials CredentialSource
	Dialer      Dialer
	Clipboard   Clipboard
	Fallback    PasteFallback

	// OnStatus runs on the event loop after every state change and every
	// surfaced error. It must not block or call Teardown.
	OnStatus func(Status)

	ReconnectDelay time.Duration
	ResizeDebounce time.Duration
	WriteTimeout   time.Duration
}

// Client is a reconnecting terminal session against the relay.
//
// All connection state is owned by a single event loop started by Run. The
// socket reader goroutine and the timers only post events to it, and the
// exported input methods do the same, so nothing mutates terminal state
// concurrently. A Client makes at most one connection attempt at a time and
// schedules at most one reconnect.
type Client struct {
	opts   Options
	logger zerolog.Logger

	events  chan event
	closing chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	running   bool
	stopped   chan struct{}

	state   atomic.Int32
	errMu   sync.Mutex
	lastErr error

	// Owned by the event loop.
	gen          uint64
	conn         Conn
	cancelDial   context.CancelFunc
	reconnect    *time.Timer
	reconnectSeq uint64
	resize       *time.Timer
	resizeSeq    uint64
	mods         Modifiers
	loopStopped  chan struct{}
}

// NewClient validates opts and fills in defaults.
func NewClient(opts Options) (*Client, error) {
	switch {
	case opts.URL == "":
		return nil, errors.New("relay url is required")
	case opts.Sprite == "":
		return nil, errors.New("sprite name is required")
	case opts.Surface == nil:
		return nil, errors.New("surface is required")
	case opts.Credentials == nil:
		return nil, errors.New("credential source is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ResizeDebounce <= 0 {
		opts.ResizeDebounce = DefaultResizeDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	stopped := make(chan struct{})
	close(stopped)

	return &Client{
		opts:    opts,
		logger:  log.With().Str("sprite", opts.Sprite).Str("session_id", opts.SessionID).Logger(),
		events:  make(chan event, 64),
		closing: make(chan struct{}),
		stopped: stopped,
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// LastError returns the most recently surfaced error, or nil.
func (c *Client) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Client) setLastError(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// Run connects and processes events until Teardown is called (nil), ctx is
// cancelled (ctx.Err()), or the credential is refused (an error matching
// ErrAuthRequired). After an authentication failure the Client sits in
// StateDisconnected and Run may be called again.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errAlreadyRunning
	}
	select {
	case <-c.closing:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	if c.State() == StateClosedByUser {
		c.mu.Unlock()
		return ErrClosed
	}
	c.running = true
	stopped := make(chan struct{})
	c.stopped = stopped
	c.loopStopped = stopped
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		close(stopped)
		c.mu.Unlock()
	}()

	c.gen++
	c.connect(runCtx)

	for {
		select {
		case <-ctx.Done():
			c.closeOnce.Do(func() { close(c.closing) })
			c.teardown()
			return ctx.Err()
		case <-c.closing:
			c.teardown()
			return nil
		case ev := <-c.events:
			if done, err := c.handle(runCtx, ev); done {
				return err
			}
		}
	}
}

// Teardown closes the session for good: timers are cancelled, the socket is
// closed with a normal closure and the state becomes StateClosedByUser. It
// waits for the event loop to finish and is safe to call more than once.
func (c *Client) Teardown() {
	c.closeOnce.Do(func() { close(c.closing) })

	c.mu.Lock()
	stopped := c.stopped
	if !c.running && c.State() != StateClosedByUser {
		c.state.Store(int32(StateClosedByUser))
	}
	c.mu.Unlock()

	<-stopped
}

// Send forwards keyboard input through the active modifiers. Input arriving
// while not connected is dropped.
func (c *Client) Send(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return c.post(inputEvent{data: buf})
}

// NotifyResize reports that the surface may have changed size. Geometry is
// read once the debounce window passes without another notification.
func (c *Client) NotifyResize() error {
	return c.post(resizeEvent{})
}

// ToggleCtrl flips the sticky Ctrl modifier.
func (c *Client) ToggleCtrl() error {
	return c.post(toggleEvent{ctrl: true})
}

// ToggleAlt flips the sticky Alt modifier.
func (c *Client) ToggleAlt() error {
	return c.post(toggleEvent{})
}

// Paste reads the clipboard, falling back to the prompt when the clipboard
// is unavailable or empty, and forwards the text unmodified. An empty
// submission is a no-op. Paste blocks on the clipboard and the prompt, so it
// runs on the caller's goroutine, not the event loop.
func (c *Client) Paste(ctx context.Context) error {
	text, err := c.readClipboard(ctx)
	if err != nil || text == "" {
		if c.opts.Fallback == nil {
			return err
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("Clipboard unavailable, using paste prompt")
		}
		text, err = c.opts.Fallback.Prompt(ctx)
		if err != nil {
			return fmt.Errorf("paste prompt: %w", err)
		}
	}
	if text == "" {
		return nil
	}
	return c.post(inputEvent{data: []byte(text), raw: true})
}

// PressKey acts on a key bar entry.
func (c *Client) PressKey(ctx context.Context, k Key) error {
	switch k.Kind {
	case KeyCtrl:
		return c.ToggleCtrl()
	case KeyAlt:
		return c.ToggleAlt()
	case KeyPaste:
		return c.Paste(ctx)
	default:
		return c.Send(k.Code)
	}
}

func (c *Client) readClipboard(ctx context.Context) (string, error) {
	if c.opts.Clipboard == nil {
		return "", ErrClipboardUnavailable
	}
	return c.opts.Clipboard.Read(ctx)
}

// post delivers an event from outside the loop.
func (c *Client) post(ev event) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case <-stopped:
		return ErrNotRunning
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-stopped:
		return ErrNotRunning
	case <-c.closing:
		return ErrClosed
	}
}

// deliver posts from a goroutine started by the loop. It reports false once
// that loop has exited.
func (c *Client) deliver(stopped <-chan struct{}, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-stopped:
		return false
	}
}

func (c *Client) transition(to State, err error) {
	from := c.State()
	if !CanTransition(from, to) {
		c.logger.Warn().Err(&TransitionError{From: from, To: to}).Msg("Ignoring state change")
		return
	}
	c.state.Store(int32(to))
	c.setLastError(err)
	c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("Console state changed")
	c.emit()
}

func (c *Client) emit() {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(Status{State: c.State(), Err: c.LastError()})
	}
}

func (c *Client) geometry() (Geometry, bool) {
	cols, rows, err := c.opts.Surface.Size()
	g := Geometry{Cols: cols, Rows: rows}
	if err != nil || !g.Valid() {
		return Geometry{Cols: defaultCols, Rows: defaultRows}, false
	}
	return g, true
}

// connect starts one attempt. Credential lookup and the handshake run off
// the loop and report back with a dialedEvent.
func (c *Client) connect(ctx context.Context) {
	c.transition(StateConnecting, c.LastError())
	gen := c.gen
	g, _ := c.geometry()
	stopped := c.loopStopped

	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel

	go func() {
		conn, err := c.dial(attemptCtx, g)
		if !c.deliver(stopped, dialedEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Client) dial(ctx context.Context, g Geometry) (Conn, error) {
	cred, err := c.opts.Credentials.Credential(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("get console credential: %w", err)
	}
	target, err := BuildURL(c.opts.URL, c.opts.Sprite, c.opts.SessionID, g, cred)
	if err != nil {
		return nil, err
	}
	return c.opts.Dialer.Dial(ctx, target, nil)
}

// handle processes one event. done means Run should return err.
func (c *Client) handle(ctx context.Context, ev event) (bool, error) {
	switch ev := ev.(type) {
	case dialedEvent:
		return c.onDialed(ev)
	case frameEvent:
		if ev.gen == c.gen && c.State() == StateConnected {
			c.onFrame(ev.data)
		}
	case closedEvent:
		if ev.gen == c.gen && c.State() == StateConnected {
			return c.onClosed(ev.err)
		}
	case inputEvent:
		c.onInput(ev)
	case toggleEvent:
		if ev.ctrl {
			c.logger.Debug().Bool("ctrl", c.mods.ToggleCtrl()).Msg("Modifier toggled")
		} else {
			c.logger.Debug().Bool("alt", c.mods.ToggleAlt()).Msg("Modifier toggled")
		}
	case resizeEvent:
		c.scheduleResize()
	case resizeTickEvent:
		if ev.seq == c.resizeSeq {
			c.resize = nil
			c.sendResize()
		}
	case reconnectEvent:
		if ev.seq == c.reconnectSeq {
			c.reconnect = nil
			if c.State() == StateClosedUnexpectedly {
				c.gen++
				c.connect(ctx)
			}
		}
	}
	return false, nil
}

func (c *Client) onDialed(ev dialedEvent) (bool, error) {
	if ev.gen != c.gen || c.State() != StateConnecting {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return false, nil
	}
	c.cancelDial = nil

	if ev.err != nil {
		if errors.Is(ev.err, ErrAuthRequired) {
			return c.authFailed(ev.err)
		}
		c.logger.Warn().Err(ev.err).Msg("Console connection failed")
		c.dropped(ev.err)
		return false, nil
	}

	c.conn = ev.conn
	c.transition(StateConnected, nil)
	c.logger.Info().Msg("Console connected")

	go c.readLoop(c.gen, ev.conn, c.loopStopped)
	return false, nil
}

func (c *Client) readLoop(gen uint64, conn Conn, stopped <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.deliver(stopped, closedEvent{gen: gen, err: err})
			return
		}
		if !c.deliver(stopped, frameEvent{gen: gen, data: data}) {
			return
		}
	}
}

func (c *Client) onFrame(data []byte) {
	switch msg := control.Parse(data).(type) {
	case control.SessionInfo:
		c.logger.Debug().Str("shell", msg.Get("shell")).Msg("Session info received")
		c.sendResize()
	case control.Error:
		c.logger.Warn().Str("error", msg.Message).Msg("Session error reported")
		c.setLastError(&RemoteError{Message: msg.Message})
		c.emit()
	case control.Resize:
		// Geometry is only ever pushed upstream.
	default:
		if _, err := c.opts.Surface.Write(data); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to render output")
		}
	}
}

func (c *Client) onClosed(err error) (bool, error) {
	c.dropConn()

	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
		return c.authFailed(fmt.Errorf("%w: %s", ErrAuthRequired, ce.Text))
	}

	var remote *RemoteError
	if prev := c.LastError(); errors.As(prev, &remote) {
		err = prev
	}
	c.logger.Warn().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("Console disconnected")
	c.dropped(err)
	return false, nil
}

func (c *Client) onInput(ev inputEvent) {
	if c.State() != StateConnected {
		c.logger.Debug().Int("bytes", len(ev.data)).Msg("Dropping input while not connected")
		return
	}
	data := ev.data
	if !ev.raw {
		data = c.mods.Apply(data)
	}
	c.write(websocket.BinaryMessage, data)
}

func (c *Client) scheduleResize() {
	if c.resize != nil {
		c.resize.Stop()
	}
	c.resizeSeq++
	seq, stopped := c.resizeSeq, c.loopStopped
	c.resize = time.AfterFunc(c.opts.ResizeDebounce, func() {
		c.deliver(stopped, resizeTickEvent{seq: seq})
	})
}

func (c *Client) sendResize() {
	if c.State() != StateConnected {
		return
	}
	g, ok := c.geometry()
	if !ok {
		return
	}
	c.write(websocket.TextMessage, control.EncodeResize(g.Cols, g.Rows))
}

// dropped moves to StateClosedUnexpectedly and arms the reconnect timer,
// unless one is already armed.
func (c *Client) dropped(err error) {
	c.transition(StateClosedUnexpectedly, err)
	if c.reconnect != nil {
		return
	}
	c.reconnectSeq++
	seq, stopped := c.reconnectSeq, c.loopStopped
	c.reconnect = time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.deliver(stopped, reconnectEvent{seq: seq})
	})
}

func (c *Client) authFailed(err error) (bool, error) {
	c.stopTimers()
	c.logger.Warn().Err(err).Msg("Console credential rejected")
	c.transition(StateDisconnected, err)
	return true, err
}

func (c *Client) write(kind int, data []byte) {
	if c.conn == nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		// Closing unblocks the reader, which reports the drop.
		c.logger.Debug().Err(err).Msg("Write to relay failed")
		c.conn.Close()
	}
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) stopTimers() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.resize != nil {
		c.resize.Stop()
		c.resize = nil
	}
	c.reconnectSeq++
	c.resizeSeq++
}

func (c *Client) teardown() {
	c.stopTimers()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.dropConn()
	}
	c.gen++
	if c.State() != StateClosedByUser {
		c.transition(StateClosedByUser, c.LastError())
	}
	c.logger.Info().Msg("Console closed")
}

type event interface{}

type dialedEvent struct {
	gen  uint64
	conn Conn
	err  error
}

type frameEvent struct {
	gen  uint64
	data []byte
}

type closedEvent struct {
	gen uint64
	err error
}

type inputEvent struct {
	data []byte
	// raw skips the modifiers, as pasted text must arrive verbatim.
	raw bool
}

type toggleEvent struct {
	ctrl bool
}

type resizeEvent struct{}

type resizeTickEvent struct {
	seq uint64
}

type reconnectEvent struct {
	seq uint64
}
