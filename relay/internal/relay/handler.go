package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"spriteconsole/core/streaming"
	"spriteconsole/core/ticket"
	"spriteconsole/relay/internal/metrics"
	"spriteconsole/relay/pkg/config"
)

// Handler accepts client WebSockets and bridges each to a sprite exec session.
type Handler struct {
	cfg      *config.Config
	upgrader websocket.Upgrader
	dialer   UpstreamDialer
	tickets  *ticket.Issuer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
	active   atomic.Int64
}

// HandlerOption customizes a Handler.
type HandlerOption func(*Handler)

// WithDialer replaces the upstream dialer.
func WithDialer(d UpstreamDialer) HandlerOption {
	return func(h *Handler) { h.dialer = d }
}

// WithTicketIssuer replaces the verifier built from the configured secret.
func WithTicketIssuer(i *ticket.Issuer) HandlerOption {
	return func(h *Handler) { h.tickets = i }
}

// NewHandler creates a relay handler for cfg.
func NewHandler(cfg *config.Config, opts ...HandlerOption) (*Handler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			CheckOrigin:     originChecker(cfg.Relay.AllowedOrigins),
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Upstream.DialTimeout,
			ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Relay.Mode == config.ModeTicket && h.tickets == nil {
		issuer, err := ticket.NewIssuer(cfg.Ticket.Secret)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create ticket verifier: %w", err)
		}
		h.tickets = issuer
	}
	return h, nil
}

// ServeHTTP upgrades first and validates afterwards, so every rejection is
// visible to a browser as a WebSocket close code rather than an HTTP status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade to WebSocket")
		return
	}

	mode := string(h.cfg.Relay.Mode)
	logger := log.With().
		Str("session_id", uuid.NewString()).
		Str("remote_addr", r.RemoteAddr).
		Str("mode", mode).
		Logger()

	target, rej := h.authenticate(r)
	if rej != nil {
		metrics.RejectedTotal.WithLabelValues(mode, rej.Label).Inc()
		logger.Warn().Str("reason", rej.Reason).Msg("Rejected console connection")
		closeWith(conn, rej.Code, rej.Reason)
		return
	}

	logger = logger.With().
		Str("sprite", target.Sprite).
		Str("exec_session", target.SessionID).
		Int("cols", target.Cols).
		Int("rows", target.Rows).
		Logger()

	if !h.begin() {
		closeWith(conn, websocket.CloseGoingAway, "Relay shutting down")
		return
	}
	defer h.finish()

	upstream, rej := h.dialUpstream(target, logger)
	if rej != nil {
		metrics.RejectedTotal.WithLabelValues(mode, rej.Label).Inc()
		closeWith(conn, rej.Code, rej.Reason)
		return
	}

	h.active.Add(1)
	metrics.ActiveSessions.Inc()
	started := time.Now()
	logger.Info().Msg("Console session established")

	bridge := streaming.NewBridge(conn, upstream, logger,
		streaming.WithWriteTimeout(h.cfg.WebSocket.WriteTimeout),
		streaming.WithPingInterval(h.cfg.WebSocket.PingInterval),
		streaming.WithReadLimit(h.cfg.WebSocket.MessageSizeLimit),
		streaming.WithObserver(metrics.FrameObserver{}),
	)
	outcome := bridge.Run(h.ctx)

	h.active.Add(-1)
	metrics.ActiveSessions.Dec()
	metrics.SessionsTotal.WithLabelValues(mode, outcome.Reason()).Inc()
	metrics.SessionDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())

	stats := bridge.Stats()
	logger.Info().
		Str("reason", outcome.Reason()).
		Int("client_code", outcome.ClientCode).
		Int64("bytes_in", stats.ClientBytes).
		Int64("bytes_out", stats.UpstreamBytes).
		Dur("duration", time.Since(started)).
		Msg("Console session closed")
}

// ActiveSessions returns the number of currently bridged sessions.
func (h *Handler) ActiveSessions() int64 {
	return h.active.Load()
}

// Status is the body of GET /status.
type Status struct {
	Service        string `json:"service"`
	Mode           string `json:"mode"`
	Upstream       string `json:"upstream"`
	ActiveSessions int64  `json:"active_sessions"`
}

func (h *Handler) Status() Status {
	return Status{
		Service:        "relay",
		Mode:           string(h.cfg.Relay.Mode),
		Upstream:       h.cfg.Upstream.BaseURL,
		ActiveSessions: h.ActiveSessions(),
	}
}

// Shutdown refuses new sessions, closes live ones with 1001 and waits for
// them to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still open at shutdown: %w", ctx.Err())
	}
}

func (h *Handler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Handler) finish() {
	h.sessions.Done()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

// originChecker allows every origin when none are configured. Requests
// without an Origin header come from non-browser clients and are allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
