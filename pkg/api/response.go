package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/types"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorStatus maps a sentinel error onto a status code and error code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, types.ErrPortConflict):
		return http.StatusConflict, "port_conflict"
	case errors.Is(err, types.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, types.ErrInstanceRunning):
		return http.StatusConflict, "instance_running"
	case errors.Is(err, types.ErrInstanceBusy):
		return http.StatusConflict, "instance_busy"
	case errors.Is(err, types.ErrSessionSuperseded):
		return http.StatusUnauthorized, "session_superseded"
	case errors.Is(err, types.ErrSessionExpired):
		return http.StatusUnauthorized, "session_expired"
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, types.ErrWorldNotFound):
		return http.StatusNotFound, "world_not_found"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "runtime_unavailable"
	case errors.Is(err, types.ErrPathTraversal):
		return http.StatusUnprocessableEntity, "path_traversal"
	case errors.Is(err, types.ErrArchive):
		return http.StatusUnprocessableEntity, "corrupt_archive"
	}
	return http.StatusInternalServerError, ""
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Logger.Error().Err(err).Msg("Internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.Validationf("invalid request body: %v", err)
	}
	return nil
}

func decodeMessage(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return types.Validationf("invalid message: %v", err)
	}
	return nil
}
