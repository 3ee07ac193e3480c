package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/corvid-labs/ragd/internal/answer"
	"github.com/corvid-labs/ragd/internal/index"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/model"
	"github.com/corvid-labs/ragd/internal/search"
	"github.com/corvid-labs/ragd/internal/store"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response. The body is marshaled into a buffer
// first so an encoding failure becomes a clean 500 instead of a truncated
// 200.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError maps err to an HTTP status and writes the error body.
// 5xx causes are logged but not leaked to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		switch status {
		case http.StatusBadGateway:
			msg = "upstream model service unavailable"
		case http.StatusGatewayTimeout:
			msg = "upstream model service timed out"
		default:
			msg = "internal server error"
		}
	}
	writeJSON(w, logger, status, errorResponse{
		Error:     msg,
		RequestID: requestIDFrom(r.Context()),
	})
}

// statusFor classifies sentinel errors into HTTP statuses.
// Checked most-specific first: an ingestion failure caused by a model
// timeout reports the timeout.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrUnavailable),
		errors.Is(err, model.ErrEmptyResponse):
		return http.StatusBadGateway
	case errors.Is(err, answer.ErrNoContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrNoSource),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, answer.ErrEmptyQuestion),
		errors.Is(err, index.ErrInvalidTopK),
		errors.Is(err, model.ErrInputTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
