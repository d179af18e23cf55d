package shared

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// WriteJSON serialises v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": message}. Business-rule errors keep
// their message and a 4xx status; anything else is logged and reported as a
// generic 500 so internals never leak to the client.
func WriteError(logger *slog.Logger, w http.ResponseWriter, err error) {
	if IsBusinessError(err) {
		WriteJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	logger.Error("request failed", slog.Any("error", err))
	WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// WriteValidationError renders a 422 for malformed or invalid payloads.
func WriteValidationError(w http.ResponseWriter, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConcurrency):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
