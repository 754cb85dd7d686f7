package sim

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spriteconsole/core/control"
)

func dialExec(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.StatusCode == http.StatusInternalServerError {
		t.Skip("PTY is not available in this environment")
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSessionInfo(t *testing.T, conn *websocket.Conn) control.SessionInfo {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	info, ok := control.Parse(data).(control.SessionInfo)
	require.True(t, ok, "first frame should be session_info, got %q", data)
	return info
}

// readUntil collects output frames until want appears.
func readUntil(t *testing.T, conn *websocket.Conn, want string) string {
	t.Helper()
	var out strings.Builder
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for !strings.Contains(out.String(), want) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "output so far: %q", out.String())
		out.Write(data)
	}
	return out.String()
}

func TestExecSocket_UnknownSprite(t *testing.T) {
	_, srv := newTestServer(t, Config{})
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/v1/sprites/ghost/exec", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecSocket_RequiresToken(t *testing.T) {
	s, srv := newTestServer(t, Config{})
	_, err := s.Store().Create("alpha", "")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/v1/sprites/alpha/exec", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExecSocket_SessionResizeAndReattach(t *testing.T) {
	s, srv := newTestServer(t, Config{})
	_, err := s.Store().Create("alpha", "")
	require.NoError(t, err)

	first := dialExec(t, wsURL(srv.URL)+"/v1/sprites/alpha/exec?cmd=/bin/sh&tty=true&cols=90&rows=20")
	info := readSessionInfo(t, first)
	sessionID := info.Get("session_id")
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "alpha", info.Get("sprite"))

	require.NoError(t, first.WriteMessage(websocket.TextMessage, control.EncodeResize(100, 30)))
	require.NoError(t, first.WriteMessage(websocket.BinaryMessage, []byte("stty size\n")))
	assert.Contains(t, readUntil(t, first, "30 100"), "30 100")

	second := dialExec(t, wsURL(srv.URL)+"/v1/sprites/alpha/exec/"+sessionID)
	again := readSessionInfo(t, second)
	assert.Equal(t, sessionID, again.Get("session_id"))

	// The first socket is replaced.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, []byte("echo marker-$((40+2))\n")))
	readUntil(t, second, "marker-42")

	require.NoError(t, second.WriteMessage(websocket.BinaryMessage, []byte("exit\n")))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	var closeErr *websocket.CloseError
	for {
		_, _, err := second.ReadMessage()
		if err != nil {
			require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
			break
		}
	}
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "process exited", closeErr.Text)

	assert.Eventually(t, func() bool { return s.sessions.count("alpha") == 0 }, 5*time.Second, 10*time.Millisecond)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+testToken)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL)+"/v1/sprites/alpha/exec/"+sessionID, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}
