package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spriteconsole/core/control"
	"spriteconsole/core/ticket"
	"spriteconsole/relay/pkg/config"
)

const (
	testSecret       = "relay-test-secret"
	testServiceToken = "service-token"
)

// fakeSprite is an exec endpoint that records handshakes and hands the
// accepted connection to the test.
type fakeSprite struct {
	srv      *httptest.Server
	requests chan *http.Request
	conns    chan *websocket.Conn
	status   atomic.Int32
}

func newFakeSprite(t *testing.T) *fakeSprite {
	t.Helper()
	fs := &fakeSprite{
		requests: make(chan *http.Request, 4),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests <- r.Clone(context.Background())
		if code := int(fs.status.Load()); code != 0 {
			http.Error(w, "denied", code)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- c
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeSprite) baseURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/v1"
}

func (fs *fakeSprite) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("relay never dialed the sprite")
		return nil
	}
}

func (fs *fakeSprite) request(t *testing.T) *http.Request {
	t.Helper()
	select {
	case r := <-fs.requests:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no upstream handshake")
		return nil
	}
}

type countingDialer struct {
	inner UpstreamDialer
	calls atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, u string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return d.inner.DialContext(ctx, u, h)
}

func testConfig(mode config.Mode, base string) *config.Config {
	return &config.Config{
		Relay:    config.RelayConfig{Host: "127.0.0.1", Port: 3001, Mode: mode},
		Upstream: config.UpstreamConfig{BaseURL: base, Token: testServiceToken, Command: "/bin/bash", DialTimeout: 2 * time.Second},
		Ticket:   config.TicketConfig{Secret: testSecret},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			WriteTimeout:     time.Second,
			MessageSizeLimit: 1 << 16,
		},
	}
}

type relayHarness struct {
	handler *Handler
	dialer  *countingDialer
	srv     *httptest.Server
}

func startRelay(t *testing.T, cfg *config.Config) *relayHarness {
	t.Helper()
	dialer := &countingDialer{inner: &websocket.Dialer{HandshakeTimeout: 2 * time.Second}}
	h, err := NewHandler(cfg, WithDialer(dialer))
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		srv.Close()
	})
	return &relayHarness{handler: h, dialer: dialer, srv: srv}
}

func (rh *relayHarness) dial(t *testing.T, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(rh.srv.URL, "http") + "/ws?" + query.Encode()
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func expectClose(t *testing.T, c *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected a close frame, got %v", err)
		return ce
	}
}

func read(t *testing.T, c *websocket.Conn) (int, []byte) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	return mt, data
}

func signTicket(t *testing.T, now time.Time, claims ticket.Claims) string {
	t.Helper()
	issuer, err := ticket.NewIssuer(testSecret, ticket.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	tok, _, err := issuer.Sign(claims)
	require.NoError(t, err)
	return tok
}

func TestRelay_RejectsBeforeDial(t *testing.T) {
	expired := signTicket(t, time.Now().Add(-15*time.Minute), ticket.Claims{SpriteName: "demo", Cols: 80, Rows: 24})
	forged, _, _ := func() (string, time.Time, error) {
		other, _ := ticket.NewIssuer("some-other-secret")
		return other.Sign(ticket.Claims{SpriteName: "demo"})
	}()
	valid := signTicket(t, time.Now(), ticket.Claims{SpriteName: "demo"})

	tests := []struct {
		name   string
		mode   config.Mode
		query  url.Values
		reason string
	}{
		{name: "token mode without sprite", mode: config.ModeToken, query: url.Values{"token": {"abc"}}, reason: "Missing sprite parameter"},
		{name: "token mode without token", mode: config.ModeToken, query: url.Values{"sprite": {"demo"}}, reason: "Missing token"},
		{name: "token mode bad sprite name", mode: config.ModeToken, query: url.Values{"sprite": {"../etc"}, "token": {"abc"}}, reason: "Invalid sprite name"},
		{name: "ticket mode without ticket", mode: config.ModeTicket, query: url.Values{"sprite": {"demo"}}, reason: "Missing ticket"},
		{name: "ticket expired ten minutes ago", mode: config.ModeTicket, query: url.Values{"ticket": {expired}}, reason: "Ticket expired"},
		{name: "ticket with wrong signature", mode: config.ModeTicket, query: url.Values{"ticket": {forged}}, reason: "Invalid ticket"},
		{name: "ticket for another sprite", mode: config.ModeTicket, query: url.Values{"ticket": {valid}, "sprite": {"other"}}, reason: "Ticket does not match sprite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sprite := newFakeSprite(t)
			rh := startRelay(t, testConfig(tt.mode, sprite.baseURL()))

			c := rh.dial(t, tt.query)
			ce := expectClose(t, c)
			assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
			assert.Equal(t, tt.reason, ce.Text)
			assert.Zero(t, rh.dialer.calls.Load(), "no upstream dial may happen")
		})
	}
}

func TestRelay_TokenModeEndToEnd(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeToken, sprite.baseURL()))

	client := rh.dial(t, url.Values{"sprite": {"demo"}, "cols": {"80"}, "rows": {"24"}, "token": {"user-token"}})

	req := sprite.request(t)
	assert.Equal(t, "/v1/sprites/demo/exec", req.URL.Path)
	assert.Equal(t, "80", req.URL.Query().Get("cols"))
	assert.Equal(t, "24", req.URL.Query().Get("rows"))
	assert.Equal(t, "/bin/bash", req.URL.Query().Get("cmd"))
	assert.Equal(t, "true", req.URL.Query().Get("tty"))
	assert.Equal(t, "Bearer user-token", req.Header.Get("Authorization"))

	upstream := sprite.accept(t)

	require.NoError(t, upstream.WriteMessage(websocket.TextMessage, []byte(`{"type":"session_info","shell":"bash"}`)))
	mt, data := read(t, client)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, control.TypeSessionInfo, control.Parse(data).Kind())

	require.NoError(t, client.WriteMessage(websocket.TextMessage, control.EncodeResize(80, 24)))
	mt, data = read(t, upstream)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, control.Resize{Cols: 80, Rows: 24}, control.Parse(data))

	require.NoError(t, upstream.WriteMessage(websocket.BinaryMessage, []byte("$ ")))
	_, data = read(t, client)
	assert.Equal(t, []byte("$ "), data)

	assert.Eventually(t, func() bool { return rh.handler.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	ce := expectClose(t, upstream)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	assert.Eventually(t, func() bool { return rh.handler.ActiveSessions() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRelay_TokenFromAuthorizationHeader(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeToken, sprite.baseURL()))

	u := "ws" + strings.TrimPrefix(rh.srv.URL, "http") + "/ws?sprite=demo"
	c, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Authorization": {"Bearer header-token"}})
	require.NoError(t, err)
	defer c.Close()

	req := sprite.request(t)
	assert.Equal(t, "Bearer header-token", req.Header.Get("Authorization"))
}

func TestRelay_TicketModeUsesServiceToken(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeTicket, sprite.baseURL()))

	tok := signTicket(t, time.Now(), ticket.Claims{SpriteName: "demo", Cols: 132, Rows: 43})
	client := rh.dial(t, url.Values{"ticket": {tok}, "sprite": {"demo"}})

	req := sprite.request(t)
	assert.Equal(t, "/v1/sprites/demo/exec", req.URL.Path)
	assert.Equal(t, "132", req.URL.Query().Get("cols"))
	assert.Equal(t, "43", req.URL.Query().Get("rows"))
	assert.Equal(t, "Bearer "+testServiceToken, req.Header.Get("Authorization"))

	upstream := sprite.accept(t)
	require.NoError(t, upstream.WriteMessage(websocket.BinaryMessage, []byte("$ ")))
	_, data := read(t, client)
	assert.Equal(t, "$ ", string(data))
}

func TestRelay_TicketResumesSession(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeTicket, sprite.baseURL()))

	tok := signTicket(t, time.Now(), ticket.Claims{SpriteName: "demo", SessionID: "sess-9"})
	rh.dial(t, url.Values{"ticket": {tok}})

	req := sprite.request(t)
	assert.Equal(t, "/v1/sprites/demo/exec/sess-9", req.URL.Path)
	assert.Empty(t, req.URL.RawQuery)
}

func TestRelay_DialFailureIsInternalError(t *testing.T) {
	sprite := newFakeSprite(t)
	base := sprite.baseURL()
	sprite.srv.Close()

	rh := startRelay(t, testConfig(config.ModeToken, base))
	c := rh.dial(t, url.Values{"sprite": {"demo"}, "token": {"abc"}})

	ce := expectClose(t, c)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
	assert.Equal(t, "Sprites connection error", ce.Text)
	assert.Equal(t, int32(1), rh.dialer.calls.Load())
}

func TestRelay_UpstreamUnauthorizedIsPolicyViolation(t *testing.T) {
	sprite := newFakeSprite(t)
	sprite.status.Store(http.StatusUnauthorized)
	rh := startRelay(t, testConfig(config.ModeToken, sprite.baseURL()))

	c := rh.dial(t, url.Values{"sprite": {"demo"}, "token": {"revoked"}})
	ce := expectClose(t, c)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, "Unauthorized", ce.Text)
}

func TestRelay_UpstreamDropClosesClient(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeToken, sprite.baseURL()))

	client := rh.dial(t, url.Values{"sprite": {"demo"}, "token": {"abc"}})
	upstream := sprite.accept(t)
	require.NoError(t, upstream.UnderlyingConn().Close())

	ce := expectClose(t, client)
	assert.Equal(t, websocket.CloseInternalServerErr, ce.Code)
}

func TestRelay_ShutdownClosesSessions(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeToken, sprite.baseURL()))

	client := rh.dial(t, url.Values{"sprite": {"demo"}, "token": {"abc"}})
	upstream := sprite.accept(t)
	assert.Eventually(t, func() bool { return rh.handler.ActiveSessions() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = rh.handler.Shutdown(ctx) }()

	assert.Equal(t, websocket.CloseGoingAway, expectClose(t, client).Code)
	assert.Equal(t, websocket.CloseGoingAway, expectClose(t, upstream).Code)

	late := rh.dial(t, url.Values{"sprite": {"demo"}, "token": {"abc"}})
	assert.Equal(t, websocket.CloseGoingAway, expectClose(t, late).Code)
}

func TestRouter_HealthAndStatus(t *testing.T) {
	rh := startRelay(t, testConfig(config.ModeTicket, "wss://api.sprites.dev/v1"))

	resp, err := http.Get(rh.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(rh.srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, Status{Service: "relay", Mode: "ticket", Upstream: "wss://api.sprites.dev/v1"}, status)

	resp, err = http.Get(rh.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewHandler_TicketModeNeedsSecret(t *testing.T) {
	cfg := testConfig(config.ModeTicket, "wss://api.sprites.dev/v1")
	cfg.Ticket.Secret = ""
	_, err := NewHandler(cfg)
	assert.Error(t, err)
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		target Target
		want   string
	}{
		{
			name:   "new session",
			base:   "wss://api.sprites.dev/v1",
			target: Target{Sprite: "demo", Cols: 80, Rows: 24},
			want:   "wss://api.sprites.dev/v1/sprites/demo/exec?cmd=%2Fbin%2Fbash&cols=80&rows=24&tty=true",
		},
		{
			name:   "trailing slash",
			base:   "wss://api.sprites.dev/v1/",
			target: Target{Sprite: "demo", Cols: 100, Rows: 30},
			want:   "wss://api.sprites.dev/v1/sprites/demo/exec?cmd=%2Fbin%2Fbash&cols=100&rows=30&tty=true",
		},
		{
			name:   "resume",
			base:   "wss://api.sprites.dev/v1",
			target: Target{Sprite: "demo", SessionID: "abc 1", Cols: 80, Rows: 24},
			want:   "wss://api.sprites.dev/v1/sprites/demo/exec/abc%201",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UpstreamURL(tt.base, tt.target, "/bin/bash"))
		})
	}
}

func TestDimension(t *testing.T) {
	assert.Equal(t, 80, dimension("", 80))
	assert.Equal(t, 80, dimension("abc", 80))
	assert.Equal(t, 80, dimension("0", 80))
	assert.Equal(t, 80, dimension("-5", 80))
	assert.Equal(t, 120, dimension(" 120 ", 80))
	assert.Equal(t, maxDimension, dimension("99999", 80))
}

func TestOriginChecker(t *testing.T) {
	open := originChecker(nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.True(t, open(r))

	strict := originChecker([]string{"https://console.example"})
	assert.False(t, strict(r))
	r.Header.Set("Origin", "https://console.example")
	assert.True(t, strict(r))
	r.Header.Del("Origin")
	assert.True(t, strict(r), "non-browser clients send no Origin")
}
