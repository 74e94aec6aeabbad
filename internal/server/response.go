package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope is the uniform JSON wrapper of the query API.
type envelope struct {
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Success bool   `json:"success"`
}

// respondData writes a successful response wrapped in the JSON envelope.
func respondData(w http.ResponseWriter, logger *slog.Logger, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		logger.Error("encode response", slog.Any("error", err))
	}
}

// respondError writes an error response wrapped in the JSON envelope.
func respondError(w http.ResponseWriter, logger *slog.Logger, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: msg}); err != nil {
		logger.Error("encode error response", slog.Any("error", err))
	}
}
