package sim

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"spriteconsole/console/pkg/sprites"
	"spriteconsole/core/control"
)

const (
	defaultCols  = 80
	defaultRows  = 24
	maxDimension = 1000
	writeTimeout = 10 * time.Second
)

// execCommand runs a command to completion and reports its output.
func (s *Server) execCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.store.Get(name); err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	argv := q["cmd"]
	if len(argv) == 0 {
		http.Error(w, "cmd is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = q.Get("dir")
	cmd.Env = append(os.Environ(), q["env"]...)
	if q.Get("stdin") == "true" {
		cmd.Stdin = r.Body
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.store.SetStatus(name, StatusRunning)
	err := cmd.Run()
	s.store.SetStatus(name, StatusWarm)

	result := sprites.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		http.Error(w, "exec timed out", http.StatusGatewayTimeout)
		return
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case err != nil:
		result.ExitCode = 127
		result.Stderr += err.Error()
	}
	log.Debug().Str("sprite", name).Strs("cmd", argv).Int("exit_code", result.ExitCode).Msg("Exec finished")
	writeJSON(w, http.StatusOK, result)
}

// execSocket starts a PTY session and attaches the caller to it.
func (s *Server) execSocket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.store.Get(name); err != nil {
		writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	argv := commandLine(q["cmd"], s.cfg.Shell)
	cols := dimension(q.Get("cols"), defaultCols)
	rows := dimension(q.Get("rows"), defaultRows)

	sess, err := startSession(name, argv, cols, rows)
	if err != nil {
		log.Error().Err(err).Str("sprite", name).Strs("cmd", argv).Msg("Failed to start PTY")
		http.Error(w, "failed to start command", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade exec connection")
		sess.kill()
		go sess.pump(func() {})
		return
	}

	s.sessions.add(sess)
	s.store.SetStatus(name, StatusRunning)
	go sess.pump(func() {
		s.sessions.remove(sess.id)
		if s.sessions.count(name) == 0 {
			s.store.SetStatus(name, StatusWarm)
		}
	})
	log.Info().Str("sprite", name).Str("session_id", sess.id).Strs("cmd", argv).Msg("Started exec session")
	sess.attach(conn)
}

// attachSocket joins an existing session by id.
func (s *Server) attachSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sess := s.sessions.get(vars["name"], vars["session"])
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade exec connection")
		return
	}
	log.Info().Str("sprite", sess.sprite).Str("session_id", sess.id).Msg("Attached to exec session")
	sess.attach(conn)
}

// commandLine accepts either repeated cmd values or one value holding a
// whole command line.
func commandLine(values []string, shell string) []string {
	switch len(values) {
	case 0:
		return []string{shell}
	case 1:
		if fields := strings.Fields(values[0]); len(fields) > 0 {
			return fields
		}
		return []string{shell}
	default:
		return values
	}
}

func dimension(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return min(n, maxDimension)
}

// execSession is one command running on a PTY. At most one WebSocket is
// attached at a time; output produced while detached is dropped.
type execSession struct {
	id     string
	sprite string
	argv   []string
	cmd    *exec.Cmd
	ptmx   *os.File
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
	cols int
	rows int
}

func startSession(sprite string, argv []string, cols, rows int) (*execSession, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &execSession{
		id:     uuid.NewString(),
		sprite: sprite,
		argv:   argv,
		cmd:    cmd,
		ptmx:   ptmx,
		done:   make(chan struct{}),
		cols:   cols,
		rows:   rows,
	}, nil
}

// pump copies PTY output to the attached socket until the command exits.
func (e *execSession) pump(onExit func()) {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.ptmx.Read(buf)
		if n > 0 {
			e.forward(buf[:n])
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := e.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	e.ptmx.Close()

	e.mu.Lock()
	if e.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited")
		_ = e.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		e.conn.Close()
		e.conn = nil
	}
	e.mu.Unlock()

	close(e.done)
	log.Info().Str("sprite", e.sprite).Str("session_id", e.id).Int("exit_code", code).Msg("Exec session ended")
	onExit()
}

func (e *execSession) forward(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return
	}
	_ = e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := e.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		log.Debug().Err(err).Str("session_id", e.id).Msg("Dropping attached socket")
		e.conn.Close()
		e.conn = nil
	}
}

// attach makes conn the session's socket, sends session_info and feeds
// input to the PTY until the socket closes. A previous socket is closed.
func (e *execSession) attach(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "attached elsewhere")
		_ = e.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		e.conn.Close()
	}
	select {
	case <-e.done:
		e.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	default:
	}
	e.conn = conn
	info := control.EncodeSessionInfo(map[string]any{
		"session_id": e.id,
		"sprite":     e.sprite,
		"command":    strings.Join(e.argv, " "),
		"cols":       e.cols,
		"rows":       e.rows,
		"tty":        true,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := conn.WriteMessage(websocket.TextMessage, info)
	e.mu.Unlock()
	if err != nil {
		e.detach(conn)
		return
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind == websocket.TextMessage {
			if rz, ok := control.Parse(data).(control.Resize); ok {
				e.resize(rz.Cols, rz.Rows)
				continue
			}
		}
		if _, err := e.ptmx.Write(data); err != nil {
			break
		}
	}
	e.detach(conn)
}

func (e *execSession) resize(cols, rows int) {
	if cols < 1 || rows < 1 || cols > maxDimension || rows > maxDimension {
		log.Debug().Int("cols", cols).Int("rows", rows).Msg("Ignoring out-of-range resize")
		return
	}
	if err := pty.Setsize(e.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		log.Debug().Err(err).Str("session_id", e.id).Msg("Failed to resize PTY")
		return
	}
	e.mu.Lock()
	e.cols, e.rows = cols, rows
	e.mu.Unlock()
}

func (e *execSession) detach(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn == conn {
		e.conn = nil
	}
	e.mu.Unlock()
	conn.Close()
}

func (e *execSession) kill() {
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
}

type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*execSession
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: make(map[string]*execSession)}
}

func (t *sessionTable) add(e *execSession) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[e.id] = e
}

func (t *sessionTable) get(sprite, id string) *execSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[id]
	if !ok || e.sprite != sprite {
		return nil
	}
	return e
}

func (t *sessionTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

func (t *sessionTable) count(sprite string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.sessions {
		if e.sprite == sprite {
			n++
		}
	}
	return n
}

func (t *sessionTable) closeSprite(sprite string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sessions {
		if e.sprite == sprite {
			e.kill()
		}
	}
}

func (t *sessionTable) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sessions {
		e.kill()
	}
}
