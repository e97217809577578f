package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/session"
	"github.com/cuemby/minepanel/pkg/types"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.sessions.Login(req.Username, req.Password)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		writeError(w, err)
		return
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, token)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type settingsRequest struct {
	TimeoutMinutes  int    `json:"timeout_minutes"`
	SingleSession   bool   `json:"single_session"`
	DefaultMemoryMB int64  `json:"default_memory_mb"`
	NewPassword     string `json:"new_password,omitempty"`
	RotateSecret    bool   `json:"rotate_secret,omitempty"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Policy())
}

// updateSettings applies a partial update: fields missing from the body keep
// their current value
func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	current := s.sessions.Policy()
	req := settingsRequest{
		TimeoutMinutes:  current.TimeoutMinutes,
		SingleSession:   current.SingleSession,
		DefaultMemoryMB: current.DefaultMemoryMB,
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := s.sessions.UpdatePolicy(session.PolicyUpdate{
		Policy: config.SessionPolicy{
			TimeoutMinutes:  req.TimeoutMinutes,
			SingleSession:   req.SingleSession,
			DefaultMemoryMB: req.DefaultMemoryMB,
		},
		NewPassword:  req.NewPassword,
		RotateSecret: req.RotateSecret,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "update_settings", "settings")
	writeJSON(w, http.StatusOK, s.sessions.Policy())
}

func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.ListInstances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// deployServer accepts a deploy and returns before provisioning finishes.
// Progress is streamed on /api/events under the instance's canonical name.
func (s *Server) deployServer(w http.ResponseWriter, r *http.Request) {
	var req types.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.manager.Deploy(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "deploy", inst.CanonicalName)
	writeJSON(w, http.StatusAccepted, inst)
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) serverAction(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.Action(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "action"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, chi.URLParam(r, "action"), inst.CanonicalName)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) deleteServer(w http.ResponseWriter, r *http.Request) {
	inst, err := s.manager.Action(r.Context(), chi.URLParam(r, "id"), string(types.ActionDelete))
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, string(types.ActionDelete), inst.CanonicalName)
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) getProperties(w http.ResponseWriter, r *http.Request) {
	props, err := s.manager.GetProperties(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (s *Server) updateProperties(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, err)
		return
	}
	props, err := s.manager.SetProperties(r.Context(), chi.URLParam(r, "id"), values)
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "update_properties", chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, props)
}

// exportWorld builds the archive in memory so failures still map to a status code
func (s *Server) exportWorld(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	inst, err := s.manager.ExportWorld(r.Context(), chi.URLParam(r, "id"), &buf)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", inst.CanonicalName+"-world.zip"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) importWorld(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWorldUpload)
	file, _, err := r.FormFile("world")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, types.Validationf("world archive exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, types.Validationf("missing world archive: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, types.Validationf("failed to read world archive: %v", err))
		return
	}

	inst, err := s.manager.ImportWorld(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	s.audit(r, "import_world", inst.CanonicalName)
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("World of %s imported", inst.Name)})
}

// audit records a state-changing request together with the operator session behind it
func (s *Server) audit(r *http.Request, action, target string) {
	ev := s.logger.Info().Str("action", action).Str("target", target)
	if id, ok := IdentityFrom(r.Context()); ok {
		ev = ev.Str("operator", id.Username).Str("session_id", id.SessionID)
	}
	ev.Msg("Operator request")
}
