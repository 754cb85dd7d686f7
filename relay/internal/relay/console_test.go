package relay

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spriteconsole/cli/pkg/terminal"
	"spriteconsole/core/control"
	"spriteconsole/core/ticket"
	"spriteconsole/relay/pkg/config"
)

// screen is a terminal.Surface with a fixed size.
type screen struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	cols int
	rows int
}

func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *screen) Size() (int, int, error) {
	return s.cols, s.rows, nil
}

func (s *screen) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// ticketSource mints a ticket per attempt the way the console does, with
// the issuer clock set to now.
type ticketSource struct {
	now   func() time.Time
	calls atomic.Int32
}

func (ts *ticketSource) Credential(_ context.Context, g terminal.Geometry) (terminal.Credential, error) {
	ts.calls.Add(1)
	issuer, err := ticket.NewIssuer(testSecret, ticket.WithClock(ts.now))
	if err != nil {
		return terminal.Credential{}, err
	}
	tok, _, err := issuer.Sign(ticket.Claims{SpriteName: "demo", Cols: g.Cols, Rows: g.Rows})
	if err != nil {
		return terminal.Credential{}, err
	}
	return terminal.Credential{Mode: terminal.ModeTicket, Value: tok}, nil
}

func newConsole(t *testing.T, rh *relayHarness, src terminal.CredentialSource, surface terminal.Surface) *terminal.Client {
	t.Helper()
	client, err := terminal.NewClient(terminal.Options{
		URL:            "ws" + strings.TrimPrefix(rh.srv.URL, "http") + "/ws",
		Sprite:         "demo",
		Surface:        surface,
		Credentials:    src,
		ReconnectDelay: 30 * time.Millisecond,
		ResizeDebounce: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestConsole_TicketSessionThroughRelay(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeTicket, sprite.baseURL()))
	surface := &screen{cols: 100, rows: 30}
	src := &ticketSource{now: time.Now}
	client := newConsole(t, rh, src, surface)

	errc := make(chan error, 1)
	go func() { errc <- client.Run(context.Background()) }()

	req := sprite.request(t)
	assert.Equal(t, "/v1/sprites/demo/exec", req.URL.Path)
	assert.Equal(t, "100", req.URL.Query().Get("cols"))
	assert.Equal(t, "30", req.URL.Query().Get("rows"))
	assert.Equal(t, "Bearer "+testServiceToken, req.Header.Get("Authorization"))

	upstream := sprite.accept(t)
	require.NoError(t, upstream.WriteMessage(websocket.TextMessage, control.EncodeSessionInfo(map[string]any{"shell": "bash"})))

	// session_info makes the client report its geometry.
	for {
		mt, data := read(t, upstream)
		if mt != websocket.TextMessage {
			continue
		}
		if rz, ok := control.Parse(data).(control.Resize); ok {
			assert.Equal(t, control.Resize{Cols: 100, Rows: 30}, rz)
			break
		}
	}

	require.NoError(t, upstream.WriteMessage(websocket.BinaryMessage, []byte("$ ")))
	assert.Eventually(t, func() bool { return surface.String() == "$ " }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, terminal.StateConnected, client.State())

	require.NoError(t, client.Send([]byte("ls\r")))
	_, data := read(t, upstream)
	assert.Equal(t, []byte("ls\r"), data)

	client.Teardown()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Teardown")
	}
	assert.Equal(t, terminal.StateClosedByUser, client.State())
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestConsole_ExpiredTicketDoesNotReconnect(t *testing.T) {
	sprite := newFakeSprite(t)
	rh := startRelay(t, testConfig(config.ModeTicket, sprite.baseURL()))
	src := &ticketSource{now: func() time.Time { return time.Now().Add(-15 * time.Minute) }}
	client := newConsole(t, rh, src, &screen{cols: 80, rows: 24})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := client.Run(ctx)
	require.ErrorIs(t, err, terminal.ErrAuthRequired)
	assert.Contains(t, err.Error(), "Ticket expired")
	assert.Equal(t, terminal.StateDisconnected, client.State())

	// Several reconnect delays pass without another attempt.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Zero(t, rh.dialer.calls.Load(), "the sprite is never dialed")
	client.Teardown()
}
