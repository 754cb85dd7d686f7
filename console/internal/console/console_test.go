package console

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spriteconsole/console/internal/database"
	"spriteconsole/console/pkg/config"
	"spriteconsole/core/auth"
	"spriteconsole/core/ticket"
)

const (
	goodToken  = "good-token"
	emptyToken = "empty-token"
)

// fakeSprites is a minimal Sprites API that accepts a fixed set of tokens.
type fakeSprites struct {
	mu       sync.Mutex
	comments []string
	execs    [][]string
	execDirs []string
	deleted  []string
	requests int
}

func (f *fakeSprites) handler() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.requests++
			f.mu.Unlock()
			switch req.Header.Get("Authorization") {
			case "Bearer " + goodToken, "Bearer " + emptyToken:
				next.ServeHTTP(w, req)
			default:
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			}
		})
	})

	r.HandleFunc("/v1/sprites", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") == "Bearer "+emptyToken {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"id":"s-1","name":"demo","status":"running","org":"acme"}]`))
	}).Methods("GET")

	r.HandleFunc("/v1/sprites", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id": "s-new", "name": body.Name, "status": "running", "url": "https://" + body.Name + ".sprites.app",
		})
	}).Methods("POST")

	spriteExists := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			if mux.Vars(req)["name"] == "ghost" {
				http.Error(w, "sprite not found", http.StatusNotFound)
				return
			}
			next(w, req)
		}
	}

	r.HandleFunc("/v1/sprites/{name}", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"id":"s-1","name":"` + mux.Vars(req)["name"] + `","status":"running"}`))
	})).Methods("GET")

	r.HandleFunc("/v1/sprites/{name}", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, mux.Vars(req)["name"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})).Methods("DELETE")

	r.HandleFunc("/v1/sprites/{name}/checkpoint", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Comment string `json:"comment"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.comments = append(f.comments, body.Comment)
		f.mu.Unlock()
		io.WriteString(w, `{"type":"info","data":"working"}`+"\n"+`{"type":"complete","data":"Checkpoint v3 created"}`+"\n")
	})).Methods("POST")

	r.HandleFunc("/v1/sprites/{name}/checkpoints", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`[{"id":"v3","create_time":"2026-01-01T00:00:00Z","comment":"Checkpoint: manual"}]`))
	})).Methods("GET")

	r.HandleFunc("/v1/sprites/{name}/checkpoints/{id}/restore", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		io.WriteString(w, `{"type":"complete","data":"Restored"}`+"\n")
	})).Methods("POST")

	r.HandleFunc("/v1/sprites/{name}/exec", spriteExists(func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.execs = append(f.execs, req.URL.Query()["cmd"])
		f.execDirs = append(f.execDirs, req.URL.Query().Get("dir"))
		f.mu.Unlock()
		w.Write([]byte(`{"stdout":"","stderr":"","exit_code":0}`))
	})).Methods("POST")

	return r
}

func (f *fakeSprites) recorded() (comments []string, execs [][]string, dirs []string, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments, f.execs, f.execDirs, f.deleted
}

func (f *fakeSprites) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *fakeSprites) resetExecs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs, f.execDirs = nil, nil
}

type testEnv struct {
	router  *mux.Router
	fake    *fakeSprites
	cfg     *config.Config
	tickets *ticket.Issuer
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	fake := &fakeSprites{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Console:  config.ConsoleConfig{Port: 3000},
		Sprites:  config.SpritesConfig{APIBase: srv.URL + "/v1", Timeout: 5 * time.Second},
		Session:  config.SessionConfig{Secret: "0123456789abcdef0123456789abcdef", CookieName: "sprites_session", TTL: time.Hour},
		Ticket:   config.TicketConfig{Secret: "ticket-secret", TTL: 5 * time.Minute},
		Relay:    config.RelayConfig{PublicURL: "ws://relay.test/ws"},
		Database: config.DatabaseConfig{DSN: ":memory:"},
	}
	for _, m := range mutate {
		m(cfg)
	}

	db, err := database.New(cfg.Database.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h, err := NewHandler(cfg, db)
	require.NoError(t, err)

	var issuer *ticket.Issuer
	if cfg.TicketsEnabled() {
		issuer, err = ticket.NewIssuer(cfg.Ticket.Secret)
		require.NoError(t, err)
	}
	return &testEnv{router: NewRouter(h), fake: fake, cfg: cfg, tickets: issuer}
}

type requestOption func(*http.Request)

func bearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[map[string]string](t, rec)["error"]
}

// signIn returns the identity cookie for token.
func (e *testEnv) signIn(t *testing.T, token string) *http.Cookie {
	t.Helper()
	rec := e.do(t, "POST", "/api/auth/token", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sprites_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestSignIn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/auth/token", map[string]string{"token": goodToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "org": "acme"}, decode[map[string]any](t, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sprites_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.NotContains(t, cookies[0].Value, goodToken)

	empty := env.do(t, "POST", "/api/auth/token", map[string]string{"token": emptyToken})
	require.Equal(t, http.StatusOK, empty.Code)
	assert.Equal(t, "", decode[map[string]any](t, empty)["org"])

	bad := env.do(t, "POST", "/api/auth/token", map[string]string{"token": "nope"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, "Invalid token", errorBody(t, bad))

	missing := env.do(t, "POST", "/api/auth/token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "Token is required", errorBody(t, missing))
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, goodToken)

	rec := env.do(t, "GET", "/api/auth/user", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, auth.Identity{UserID: auth.UserIDForToken(goodToken), Org: "acme"}, decode[auth.Identity](t, rec))

	viaBearer := env.do(t, "GET", "/api/auth/user", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, viaBearer.Code)
	assert.Equal(t, auth.UserIDForToken(goodToken), decode[auth.Identity](t, viaBearer).UserID)

	tests := []struct {
		name string
		opts []requestOption
	}{
		{"no credentials", nil},
		{"invalid bearer", []requestOption{bearer("nope")}},
		{"malformed header", []requestOption{func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }}},
		{"forged cookie", []requestOption{withCookie(&http.Cookie{Name: "sprites_session", Value: "garbage"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "GET", "/api/auth/user", nil, tt.opts...)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Unauthorized", errorBody(t, rec))
		})
	}
}

func TestSignOut(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/auth/signout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sprites_session", cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSprites_CredentialRequired(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, goodToken)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{"GET", "/api/sprites", nil},
		{"POST", "/api/sprites", map[string]string{"name": "fresh"}},
		{"GET", "/api/sprites/demo", nil},
		{"DELETE", "/api/sprites/demo", nil},
		{"POST", "/api/sprites/demo/checkpoints", nil},
	}
	before := env.fake.requestCount()
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body, withCookie(cookie))
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "cookie alone carries no credential")
			assert.Equal(t, "Unauthorized", errorBody(t, rec))
		})
	}
	assert.Equal(t, before, env.fake.requestCount(), "no upstream call made for a cookie-only caller")
}

func TestSprites_CRUD(t *testing.T) {
	env := newTestEnv(t)

	list := env.do(t, "GET", "/api/sprites", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]map[string]any](t, list), 1)

	created := env.do(t, "POST", "/api/sprites", map[string]string{"name": "fresh"}, bearer(goodToken))
	require.Equal(t, http.StatusCreated, created.Code)
	assert.Equal(t, "fresh", decode[map[string]any](t, created)["name"])

	noName := env.do(t, "POST", "/api/sprites", map[string]string{}, bearer(goodToken))
	assert.Equal(t, http.StatusBadRequest, noName.Code)
	assert.Equal(t, "Sprite name is required", errorBody(t, noName))

	got := env.do(t, "GET", "/api/sprites/demo", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, got.Code)

	ghost := env.do(t, "GET", "/api/sprites/ghost", nil, bearer(goodToken))
	assert.Equal(t, http.StatusNotFound, ghost.Code)
	assert.Equal(t, "Not found", errorBody(t, ghost))

	deleted := env.do(t, "DELETE", "/api/sprites/demo", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, deleted.Code)
	_, _, _, names := env.fake.recorded()
	assert.Equal(t, []string{"demo"}, names)
}

func TestCheckpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/sprites/demo/checkpoints", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]string{"checkpoint_id": "v3"}, decode[map[string]string](t, rec))

	rec = env.do(t, "POST", "/api/sprites/demo/checkpoints", map[string]string{"comment": "before deploy"}, bearer(goodToken))
	require.Equal(t, http.StatusOK, rec.Code)
	comments, _, _, _ := env.fake.recorded()
	assert.Equal(t, []string{"Checkpoint: manual", "before deploy"}, comments)

	list := env.do(t, "GET", "/api/sprites/demo/checkpoints", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, "v3", decode[[]map[string]any](t, list)[0]["id"])

	restore := env.do(t, "POST", "/api/sprites/demo/checkpoints/v3/restore", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, restore.Code)
	assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, restore))

	ghost := env.do(t, "POST", "/api/sprites/ghost/checkpoints/v3/restore", nil, bearer(goodToken))
	assert.Equal(t, http.StatusNotFound, ghost.Code)
}

func TestInitSprite(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/sprites/demo/init", map[string]any{
		"clone_repo": true,
		"repo_url":   "https://example.com/app.git",
	}, bearer(goodToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, execs, dirs, _ := env.fake.recorded()
	assert.Equal(t, [][]string{
		{"apt-get", "update"},
		{"apt-get", "install", "-y", "git", "curl", "build-essential"},
		{"git", "clone", "https://example.com/app.git", "."},
	}, execs)
	assert.Equal(t, []string{"", "", "/home"}, dirs)

	env.fake.resetExecs()
	rec = env.do(t, "POST", "/api/sprites/demo/init", map[string]any{"clone_repo": true}, bearer(goodToken))
	require.Equal(t, http.StatusOK, rec.Code)
	_, execs, _, _ = env.fake.recorded()
	assert.Len(t, execs, 2, "no clone without a repo URL")
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, goodToken)

	noName := env.do(t, "POST", "/api/projects", map[string]string{}, withCookie(cookie))
	assert.Equal(t, http.StatusBadRequest, noName.Code)
	assert.Equal(t, "Project name is required", errorBody(t, noName))

	created := env.do(t, "POST", "/api/projects", map[string]string{"name": "api"}, withCookie(cookie))
	require.Equal(t, http.StatusCreated, created.Code)
	project := decode[map[string]any](t, created)
	assert.Equal(t, "main", project["default_branch"])
	assert.Nil(t, project["repo_url"])
	assert.Equal(t, auth.UserIDForToken(goodToken), project["owner_user_id"])
	id := project["id"].(string)

	list := env.do(t, "GET", "/api/projects", nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]map[string]any](t, list), 1)

	patched := env.do(t, "PATCH", "/api/projects/"+id, map[string]string{"repo_url": "https://example.com/api.git"}, withCookie(cookie))
	require.Equal(t, http.StatusOK, patched.Code)
	assert.Equal(t, "api", decode[map[string]any](t, patched)["name"])
	assert.Equal(t, "https://example.com/api.git", decode[map[string]any](t, patched)["repo_url"])

	// Another user cannot see the project.
	other := env.signIn(t, emptyToken)
	hidden := env.do(t, "GET", "/api/projects/"+id, nil, withCookie(other))
	assert.Equal(t, http.StatusNotFound, hidden.Code)
	assert.Equal(t, "Not found", errorBody(t, hidden))
	otherList := env.do(t, "GET", "/api/projects", nil, withCookie(other))
	assert.Empty(t, decode[[]map[string]any](t, otherList))

	deleted := env.do(t, "DELETE", "/api/projects/"+id, nil, withCookie(cookie))
	require.Equal(t, http.StatusOK, deleted.Code)
	gone := env.do(t, "GET", "/api/projects/"+id, nil, withCookie(cookie))
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestProjectSprites(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Sprites.Org = "acme-org" })

	created := env.do(t, "POST", "/api/projects", map[string]string{"name": "api"}, bearer(goodToken))
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode[map[string]any](t, created)["id"].(string)

	unknown := env.do(t, "POST", "/api/projects/missing/sprites", map[string]string{"sprite_name": "x"}, bearer(goodToken))
	assert.Equal(t, http.StatusNotFound, unknown.Code)
	assert.Equal(t, "Project not found", errorBody(t, unknown))

	noName := env.do(t, "POST", "/api/projects/"+id+"/sprites", map[string]string{}, bearer(goodToken))
	assert.Equal(t, http.StatusBadRequest, noName.Code)
	assert.Equal(t, "Sprite name is required", errorBody(t, noName))

	rec := env.do(t, "POST", "/api/projects/"+id+"/sprites", map[string]string{"sprite_name": "api-dev"}, bearer(goodToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	record := decode[map[string]any](t, rec)
	assert.Equal(t, id, record["project_id"])
	assert.Equal(t, "api-dev", record["sprite_name"])
	assert.Equal(t, "acme-org", record["org"])
	assert.Equal(t, "https://api-dev.sprites.app", record["url"])

	list := env.do(t, "GET", "/api/projects/"+id+"/sprites", nil, bearer(goodToken))
	require.Equal(t, http.StatusOK, list.Code)
	assert.Len(t, decode[[]map[string]any](t, list), 1)
}

func TestMintTicket(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/console/ticket", map[string]any{
		"sprite": "demo", "session_id": "sess-9", "cols": 5000, "rows": 0,
	}, bearer(goodToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ticketResponse](t, rec)
	assert.Equal(t, "ws://relay.test/ws", resp.RelayURL)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, 5*time.Second)

	claims, err := env.tickets.Verify(resp.Ticket)
	require.NoError(t, err)
	assert.Equal(t, "demo", claims.SpriteName)
	assert.Equal(t, "sess-9", claims.SessionID)
	assert.Equal(t, 1000, claims.Cols)
	assert.Equal(t, 24, claims.Rows)

	noSprite := env.do(t, "POST", "/api/console/ticket", map[string]any{}, bearer(goodToken))
	assert.Equal(t, http.StatusBadRequest, noSprite.Code)

	ghost := env.do(t, "POST", "/api/console/ticket", map[string]any{"sprite": "ghost"}, bearer(goodToken))
	assert.Equal(t, http.StatusNotFound, ghost.Code)

	unauth := env.do(t, "POST", "/api/console/ticket", map[string]any{"sprite": "demo"})
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)

	cookie := env.signIn(t, goodToken)
	before := env.fake.requestCount()
	for _, sprite := range []string{"demo", "ghost"} {
		viaCookie := env.do(t, "POST", "/api/console/ticket", map[string]any{"sprite": sprite}, withCookie(cookie))
		assert.Equal(t, http.StatusUnauthorized, viaCookie.Code, sprite)
		assert.Equal(t, "Unauthorized", errorBody(t, viaCookie))
	}
	assert.Equal(t, before, env.fake.requestCount())
}

func TestMintTicket_Disabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Ticket.Secret = "" })
	rec := env.do(t, "POST", "/api/console/ticket", map[string]any{"sprite": "demo"}, bearer(goodToken))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_HealthAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	health := env.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, health)["status"])

	missing := env.do(t, "GET", "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "Not found", errorBody(t, missing))

	metrics := env.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.True(t, strings.Contains(metrics.Body.String(), "console_http_requests_total"))
}

func TestAddCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	open := AddCORS(nil, next)
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))

	restricted := AddCORS([]string{"https://console.example"}, next)
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	preflight := httptest.NewRequest("OPTIONS", "/api/sprites", nil)
	preflight.Header.Set("Origin", "https://console.example")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://console.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
