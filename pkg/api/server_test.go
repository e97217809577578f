package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/console"
	"github.com/cuemby/minepanel/pkg/events"
	"github.com/cuemby/minepanel/pkg/manager"
	"github.com/cuemby/minepanel/pkg/runtime/runtimetest"
	"github.com/cuemby/minepanel/pkg/session"
	"github.com/cuemby/minepanel/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *runtimetest.Fake, string) {
	t.Helper()
	dir := t.TempDir()

	rt := runtimetest.New()
	rt.AddImage(types.DefaultImage)

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:      dir,
		Image:        types.DefaultImage,
		InternalPort: types.DefaultInternalPort,
	}, rt)
	require.NoError(t, err)

	store, err := config.Open(dir, config.WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	sessions := session.NewManager(store, session.NewMemoryRegistry())
	relay := console.NewRelay(rt)

	s := NewServer(Config{Manager: mgr, Sessions: sessions, Relay: relay, LoginBurst: 100})
	t.Cleanup(func() {
		s.Close()
		relay.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	token, err := sessions.Login(config.DefaultUsername, config.DefaultPassword)
	require.NoError(t, err)
	return s, rt, token.Value
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

// deployAndWait deploys through the API and waits for the terminal event
func deployAndWait(t *testing.T, s *Server, token string, req types.DeployRequest) types.Instance {
	t.Helper()
	sub := s.manager.Broker().Subscribe(types.CanonicalName(req.Name))
	defer s.manager.Broker().Unsubscribe(sub)

	w := do(t, s, http.MethodPost, "/api/servers", token, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var inst types.Instance
	require.NoError(t, json.NewDecoder(w.Body).Decode(&inst))

	for {
		select {
		case ev := <-sub.C:
			if ev.Terminal {
				require.Equal(t, events.EventDeploySucceeded, ev.Type, ev.Message)
				return inst
			}
		case <-time.After(5 * time.Second):
			t.Fatal("deploy did not finish")
		}
	}
}

func TestLogin(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "admin", Password: "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	var token session.Token
	require.NoError(t, json.NewDecoder(w.Body).Decode(&token))
	assert.NotEmpty(t, token.Value)

	w = do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "admin", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Code)
}

func TestLoginRateLimited(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.limiter.limit = 0
	s.limiter.burst = 2

	for i := 0; i < 2; i++ {
		w := do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "admin", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := do(t, s, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "admin", Password: "admin"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s, _, token := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/servers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, w).Code)

	w = do(t, s, http.MethodPut, "/api/settings", token, map[string]any{"single_session": true})
	require.Equal(t, http.StatusOK, w.Code)

	first, err := s.sessions.Login("admin", "admin")
	require.NoError(t, err)
	second, err := s.sessions.Login("admin", "admin")
	require.NoError(t, err)

	// only the latest login authenticates
	w = do(t, s, http.MethodGet, "/api/servers", first.Value, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session_superseded", decodeError(t, w).Code)

	w = do(t, s, http.MethodGet, "/api/servers", second.Value, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogout(t *testing.T) {
	s, _, token := newTestServer(t)

	w := do(t, s, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s, http.MethodGet, "/api/servers", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "session_expired", decodeError(t, w).Code)
}

func TestSettings(t *testing.T) {
	s, _, token := newTestServer(t)

	w := do(t, s, http.MethodGet, "/api/settings", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var policy config.SessionPolicy
	require.NoError(t, json.NewDecoder(w.Body).Decode(&policy))
	assert.Equal(t, config.DefaultTimeoutMinutes, policy.TimeoutMinutes)

	w = do(t, s, http.MethodPut, "/api/settings", token, map[string]any{"timeout_minutes": 30})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&policy))
	assert.Equal(t, 30, policy.TimeoutMinutes)
	assert.Equal(t, int64(config.DefaultMemoryMB), policy.DefaultMemoryMB)

	w = do(t, s, http.MethodPut, "/api/settings", token, map[string]any{"timeout_minutes": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// a zero timeout would expire every later login at once
	w = do(t, s, http.MethodPut, "/api/settings", token, map[string]any{"timeout_minutes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 30, s.sessions.Policy().TimeoutMinutes)
}

func TestDeployAndList(t *testing.T) {
	s, _, token := newTestServer(t)

	inst := deployAndWait(t, s, token, types.DeployRequest{Name: "Survival Mabar", Port: "19132", Memory: "2048"})
	assert.Equal(t, "mc-survival-mabar", inst.CanonicalName)
	assert.Equal(t, types.StatusCreating, inst.Status)

	w := do(t, s, http.MethodGet, "/api/servers", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []types.Instance
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, types.StatusRunning, list[0].Status)

	w = do(t, s, http.MethodPost, "/api/servers", token, types.DeployRequest{Name: "Other", Port: "19132"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "port_conflict", decodeError(t, w).Code)

	w = do(t, s, http.MethodPost, "/api/servers", token, types.DeployRequest{Name: "", Port: "19132"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeployRuntimeUnavailable(t *testing.T) {
	s, rt, token := newTestServer(t)
	rt.Unavailable = true

	w := do(t, s, http.MethodPost, "/api/servers", token, types.DeployRequest{Name: "Down", Port: "19132"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "runtime_unavailable", decodeError(t, w).Code)
}

func TestServerActions(t *testing.T) {
	s, _, token := newTestServer(t)
	inst := deployAndWait(t, s, token, types.DeployRequest{Name: "Survival Mabar", Port: "19132"})

	w := do(t, s, http.MethodPost, "/api/servers/"+inst.ID+"/stop", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got types.Instance
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, types.StatusStopped, got.Status)

	w = do(t, s, http.MethodPost, "/api/servers/"+inst.ID+"/explode", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/servers/missing/start", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodDelete, "/api/servers/"+inst.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, types.StatusDeleted, got.Status)
}

func TestProperties(t *testing.T) {
	s, _, token := newTestServer(t)
	inst := deployAndWait(t, s, token, types.DeployRequest{Name: "Survival Mabar", Port: "19132"})

	w := do(t, s, http.MethodPut, "/api/servers/"+inst.ID+"/properties", token, map[string]string{"max-players": "10"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/servers/"+inst.ID+"/properties", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var props map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&props))
	assert.Equal(t, "10", props["max-players"])
	assert.Equal(t, "19132", props["server-port"])

	w = do(t, s, http.MethodPut, "/api/servers/"+inst.ID+"/properties", token, map[string]string{"bad key": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func worldUpload(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	for name, content := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("world", "world.zip")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestWorldTransfer(t *testing.T) {
	s, _, token := newTestServer(t)
	inst := deployAndWait(t, s, token, types.DeployRequest{Name: "Survival Mabar", Port: "19132"})
	path := "/api/servers/" + inst.ID + "/world"

	w := do(t, s, http.MethodGet, path, token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "instance_running", decodeError(t, w).Code)

	w = do(t, s, http.MethodPost, "/api/servers/"+inst.ID+"/stop", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body, contentType := worldUpload(t, map[string]string{"worlds/Bedrock level/level.dat": "level"})
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w = do(t, s, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "mc-survival-mabar-world.zip")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "Bedrock level/level.dat")

	body, contentType = worldUpload(t, map[string]string{"../escape.txt": "x"})
	req = httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "path_traversal", decodeError(t, rec).Code)
}

func wsURL(srv *httptest.Server, path, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token
}

func TestEventStream(t *testing.T) {
	s, _, token := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/events", token)+"&topic=mc-survival-mabar", nil)
	require.NoError(t, err)
	defer conn.Close()

	// wait for the subscription before deploying
	require.Eventually(t, func() bool { return s.manager.Broker().SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := do(t, s, http.MethodPost, "/api/servers", token, types.DeployRequest{Name: "Survival Mabar", Port: "19132"})
	require.Equal(t, http.StatusAccepted, w.Code)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	last := -1
	for {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, "mc-survival-mabar", ev.Topic)
		assert.GreaterOrEqual(t, ev.Progress, last)
		last = ev.Progress
		if ev.Terminal {
			assert.Equal(t, events.EventDeploySucceeded, ev.Type)
			assert.Equal(t, 100, ev.Progress)
			return
		}
	}
}

func TestEventStreamRequiresToken(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/events", "bogus"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConsoleStream(t *testing.T) {
	s, rt, token := newTestServer(t)
	inst := deployAndWait(t, s, token, types.DeployRequest{Name: "Survival Mabar", Port: "19132"})
	rt.ExecOutput = []byte("Set the time to 1000\n")

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/servers/"+inst.ID+"/console", token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return rt.Calls("AttachOutput") == 1 }, 2*time.Second, 10*time.Millisecond)
	rt.Emit(inst.ID, "Server started.")

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var line console.Line
	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, "Server started.", line.Text)

	require.NoError(t, conn.WriteJSON(consoleCommand{Command: "time set 1000"}))

	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, "> time set 1000", line.Text)
	require.NoError(t, conn.ReadJSON(&line))
	assert.Equal(t, "Set the time to 1000", line.Text)

	execs := rt.Execs()
	require.Len(t, execs, 1)
	assert.Equal(t, "time set 1000", execs[0].Command)
}
