package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jjudge-oj/identity/types"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps account errors to a status and message. Anything
// that is not a semantic rejection is reported as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if types.IsInfrastructure(err) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case errors.Is(err, types.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrInvalidCredentials),
		errors.Is(err, types.ErrUnauthorized),
		errors.Is(err, types.ErrTokenMalformed),
		errors.Is(err, types.ErrSignatureInvalid):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidToken),
		errors.Is(err, types.ErrTokenExpired),
		errors.Is(err, types.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
