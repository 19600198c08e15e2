package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/tidegates/internal/monitoring"
	"github.com/banshee-data/tidegates/internal/optipass"
)

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// StatusForError maps a pipeline fault to its response status: client
// input faults are 400, a missing optimizer is 501 and anything else is 500.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, optipass.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, optipass.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error with the status from StatusForError.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSONError(w, StatusForError(err), err.Error())
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
