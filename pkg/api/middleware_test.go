package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/minepanel/pkg/session"
	"github.com/cuemby/minepanel/pkg/types"
)

type staticAuth struct {
	id *session.Identity
}

func (a staticAuth) Authenticate(token string) (*session.Identity, error) {
	if token != "good" {
		return nil, types.ErrUnauthenticated
	}
	return a.id, nil
}

func TestAuthMiddlewareCarriesIdentity(t *testing.T) {
	want := &session.Identity{Username: "admin", SessionID: "s-1"}
	var got *session.Identity
	h := authMiddleware(staticAuth{id: want})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, want, got)

	got = nil
	req = httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, got)

	_, ok := IdentityFrom(req.Context())
	assert.False(t, ok)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "Bearer abc", "", "abc"},
		{"query for websockets", "", "token=xyz", "xyz"},
		{"header wins over query", "Bearer abc", "token=xyz", "abc"},
		{"other scheme", "Basic abc", "", ""},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/events?"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(req))
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{types.Validationf("bad"), http.StatusBadRequest, "validation"},
		{fmt.Errorf("port 19132: %w", types.ErrPortConflict), http.StatusConflict, "port_conflict"},
		{types.ErrAlreadyExists, http.StatusConflict, "already_exists"},
		{types.ErrInstanceRunning, http.StatusConflict, "instance_running"},
		{types.ErrInstanceBusy, http.StatusConflict, "instance_busy"},
		{types.ErrSessionSuperseded, http.StatusUnauthorized, "session_superseded"},
		{types.ErrSessionExpired, http.StatusUnauthorized, "session_expired"},
		{types.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
		{types.ErrWorldNotFound, http.StatusNotFound, "world_not_found"},
		{types.ErrNotFound, http.StatusNotFound, "not_found"},
		{types.ErrRuntimeUnavailable, http.StatusServiceUnavailable, "runtime_unavailable"},
		{types.ErrPathTraversal, http.StatusUnprocessableEntity, "path_traversal"},
		{types.ErrCorruptArchive, http.StatusUnprocessableEntity, "corrupt_archive"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://panel.local/api/events", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	same := originChecker(nil)
	assert.True(t, same(req("")))
	assert.True(t, same(req("http://panel.local")))
	assert.False(t, same(req("http://evil.example")))

	listed := originChecker([]string{"http://localhost:5173"})
	assert.True(t, listed(req("http://localhost:5173")))

	open := originChecker([]string{"*"})
	assert.True(t, open(req("http://evil.example")))
}
