package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/zedctl/internal/auth"
	"grimm.is/zedctl/internal/clock"
	"grimm.is/zedctl/internal/config"
	"grimm.is/zedctl/internal/events"
	"grimm.is/zedctl/internal/rcon"
	"grimm.is/zedctl/internal/secrets"
	"grimm.is/zedctl/internal/store"
	"grimm.is/zedctl/internal/supervisor"
	"grimm.is/zedctl/internal/workshop"
)

// fakeGame accepts supervisor dials and speaks the RCON wire protocol.
type fakeGame struct {
	password string

	mu       sync.Mutex
	handlers map[string]string
	commands []string
}

func newFakeGame(password string) *fakeGame {
	return &fakeGame{
		password: password,
		handlers: map[string]string{
			"players":     "Players connected (0):\n",
			"showoptions": "* MaxPlayers=32\n",
		},
	}
}

func (g *fakeGame) dial(ctx context.Context, addr string) (net.Conn, error) {
	client, server := net.Pipe()
	go g.serve(server)
	return client, nil
}

func (g *fakeGame) serve(conn net.Conn) {
	defer conn.Close()
	for {
		var req rcon.Packet
		if _, err := req.ReadFrom(conn); err != nil {
			return
		}

		if req.Type == rcon.TypeAuth {
			id := req.ID
			if string(req.Body) != g.password {
				id = -1
			}
			g.reply(conn, rcon.Packet{ID: id, Type: rcon.TypeAuthResponse})
			continue
		}

		cmd := string(req.Body)
		g.mu.Lock()
		g.commands = append(g.commands, cmd)
		resp, ok := g.handlers[cmd]
		g.mu.Unlock()
		if !ok {
			resp = "ok"
		}
		g.reply(conn, rcon.Packet{ID: req.ID, Type: rcon.TypeResponseValue, Body: []byte(resp)})
	}
}

func (g *fakeGame) reply(conn net.Conn, p rcon.Packet) {
	if b, err := p.Encode(); err == nil {
		conn.Write(b)
	}
}

func (g *fakeGame) setHandler(cmd, resp string) {
	g.mu.Lock()
	g.handlers[cmd] = resp
	g.mu.Unlock()
}

func (g *fakeGame) sawCommandPrefix(prefix string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.commands {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// fakeResolver serves canned workshop metadata.
type fakeResolver struct {
	mu   sync.Mutex
	mods map[string]*workshop.Mod
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, idOrURL string) (*workshop.Mod, error) {
	id, err := workshop.ExtractID(idOrURL)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	mod, ok := f.mods[id]
	if !ok {
		return nil, workshop.ErrNotFound
	}
	return mod, nil
}

type testAPI struct {
	t        *testing.T
	ts       *httptest.Server
	api      *Server
	store    *store.Store
	manager  *supervisor.Manager
	hub      *events.Hub
	game     *fakeGame
	resolver *fakeResolver
	token    string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	box, err := secrets.NewBox(key)
	require.NoError(t, err)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	sessions := auth.NewStore("admin", hash, time.Hour, nil)

	hub := events.NewHub()
	manager := supervisor.NewManager(hub, &clock.RealClock{})
	t.Cleanup(manager.DisconnectAll)

	history := events.NewHistory(hub, 100)
	t.Cleanup(history.Close)

	cfg := config.Default()
	cfg.Workshop.PolitenessDelay = "1ms"

	resolver := &fakeResolver{mods: map[string]*workshop.Mod{}}

	api := NewServer(Options{
		Config:   cfg,
		Store:    st,
		Box:      box,
		Sessions: sessions,
		Manager:  manager,
		History:  history,
		Resolver: resolver,
	})

	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)

	a := &testAPI{
		t:        t,
		ts:       ts,
		api:      api,
		store:    st,
		manager:  manager,
		hub:      hub,
		game:     newFakeGame("sekrit"),
		resolver: resolver,
	}
	a.token = a.login("admin", "hunter2")
	return a
}

func (a *testAPI) login(username, password string) string {
	a.t.Helper()
	resp, body := a.rawRequest(http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": username, "password": password})
	require.Equal(a.t, http.StatusOK, resp.StatusCode, "login failed: %s", body)
	var out loginResponse
	require.NoError(a.t, json.Unmarshal(body, &out))
	return out.Token
}

func (a *testAPI) rawRequest(method, path, token string, payload interface{}) (*http.Response, []byte) {
	a.t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(a.t, err)
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, body)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp, data
}

func (a *testAPI) request(method, path string, payload interface{}) (*http.Response, []byte) {
	return a.rawRequest(method, path, a.token, payload)
}

// createServer registers a server over the API and returns its id.
func (a *testAPI) createServer(name string) string {
	a.t.Helper()
	resp, body := a.request(http.MethodPost, "/api/servers", map[string]interface{}{
		"name":     name,
		"host":     "127.0.0.1",
		"port":     27015,
		"username": "admin",
		"password": "sekrit",
	})
	require.Equal(a.t, http.StatusCreated, resp.StatusCode, "create failed: %s", body)
	var srv store.Server
	require.NoError(a.t, json.Unmarshal(body, &srv))
	return srv.ID
}

// connect brings up a supervised connection through the fake game,
// bypassing the network dial the API would normally perform.
func (a *testAPI) connect(serverID string) {
	a.t.Helper()
	_, err := a.manager.Connect(context.Background(), supervisor.Config{
		ServerID:    serverID,
		Host:        "127.0.0.1",
		Port:        27015,
		Password:    "sekrit",
		QuietPeriod: 20 * time.Millisecond,
		Dial:        a.game.dial,
	})
	require.NoError(a.t, err)
}

func TestHealthIsPublic(t *testing.T) {
	a := newTestAPI(t)
	resp, body := a.rawRequest(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestProtectedEndpointsRejectAnonymous(t *testing.T) {
	a := newTestAPI(t)
	for _, path := range []string{"/api/servers", "/api/status", "/api/logs"} {
		resp, _ := a.rawRequest(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestAuthFlow(t *testing.T) {
	a := newTestAPI(t)

	resp, _ := a.rawRequest(http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := a.request(http.MethodGet, "/api/auth/verify", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"username":"admin"`)

	resp, _ = a.request(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = a.request(http.MethodGet, "/api/auth/verify", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRateLimited(t *testing.T) {
	a := newTestAPI(t)

	// The successful harness login reset the bucket; burn it dry.
	var last int
	for i := 0; i < loginRateLimit+1; i++ {
		resp, _ := a.rawRequest(http.MethodPost, "/api/auth/login", "",
			map[string]string{"username": "admin", "password": "wrong"})
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestServerCRUD(t *testing.T) {
	a := newTestAPI(t)
	id := a.createServer("alpha")

	// Credentials are stored encrypted.
	raw, err := a.store.GetServer(id)
	require.NoError(t, err)
	assert.NotEqual(t, "admin", raw.Username)
	assert.NotEqual(t, "sekrit", raw.Password)

	resp, _ := a.request(http.MethodPost, "/api/servers", map[string]interface{}{
		"name": "alpha", "host": "127.0.0.1", "port": 27015,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate name")

	resp, body := a.request(http.MethodGet, "/api/servers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Servers []store.Server `json:"servers"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Servers, 1)
	assert.Equal(t, "alpha", listed.Servers[0].Name)

	resp, body = a.request(http.MethodPut, "/api/servers/"+id, map[string]interface{}{
		"name": "renamed", "port": 27016,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"name":"renamed"`)

	resp, _ = a.request(http.MethodDelete, "/api/servers/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = a.request(http.MethodGet, "/api/servers/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateServerValidation(t *testing.T) {
	a := newTestAPI(t)

	resp, _ := a.request(http.MethodPost, "/api/servers", map[string]interface{}{
		"host": "127.0.0.1", "port": 27015,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing name")

	resp, _ = a.request(http.MethodPost, "/api/servers", map[string]interface{}{
		"name": "x", "host": "127.0.0.1", "port": 99999,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bad port")
}

func TestExecuteRequiresConnection(t *testing.T) {
	a := newTestAPI(t)
	id := a.createServer("alpha")

	resp, _ := a.request(http.MethodPost, "/api/servers/"+id+"/execute",
		map[string]string{"command": "players"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestExecuteAndCommandHistory(t *testing.T) {
	a := newTestAPI(t)
	id := a.createServer("alpha")
	a.connect(id)

	resp, body := a.request(http.MethodPost, "/api/servers/"+id+"/execute",
		map[string]string{"command": "save"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "execute: %s", body)
	assert.Contains(t, string(body), `"response":"ok"`)

	resp, body = a.request(http.MethodGet, "/api/servers/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist struct {
		History []store.CommandEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist.History, 1)
	assert.Equal(t, "save", hist.History[0].Command)
	assert.True(t, hist.History[0].Success)
}

func TestServerStatusAndOptions(t *testing.T) {
	a := newTestAPI(t)
	id := a.createServer("alpha")

	resp, body := a.request(http.MethodGet, "/api/servers/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"disconnected"`)

	a.connect(id)
	a.game.setHandler("showoptions", "* Mods=Brita\n* WorkshopItems=111\n* MaxPlayers=32\n")

	resp, body = a.request(http.MethodGet, "/api/servers/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"state":"connected"`)

	resp, body = a.request(http.MethodGet, "/api/servers/"+id+"/options", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var opts struct {
		Options       map[string]string `json:"options"`
		Mods          string            `json:"mods"`
		WorkshopItems string            `json:"workshop_items"`
	}
	require.NoError(t, json.Unmarshal(body, &opts))
	assert.Equal(t, "Brita", opts.Mods)
	assert.Equal(t, "111", opts.WorkshopItems)
	assert.Equal(t, "32", opts.Options["MaxPlayers"])
}

func TestPlayerHistoryDisabled(t *testing.T) {
	a := newTestAPI(t)
	id := a.createServer("alpha")

	resp, _ := a.request(http.MethodGet, "/api/servers/"+id+"/players/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestLogsEndpoint(t *testing.T) {
	a := newTestAPI(t)
	resp, body := a.request(http.MethodGet, "/api/logs?limit=10", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"entries"`)
}
