package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"jobd/internal/engine"
)

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respondOK(w http.ResponseWriter, data any) {
	respond(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func respondMsg(w http.ResponseWriter, status int, msg string) {
	respond(w, status, apiResponse{Success: status < 400, Message: msg})
}

func respond(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondErr maps engine errors to HTTP statuses.
func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalid),
		errors.Is(err, engine.ErrExecutorUnresolved):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	respondMsg(w, status, err.Error())
}
