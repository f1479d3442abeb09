// Package httpx holds the JSON envelope helpers shared by HTTP handlers.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/variants/internal/platform/requestctx"
)

// Error is the canonical JSON error envelope returned by the API.
type Error struct {
	Code    string
	Message string
	Status  int
	Fields  []FieldError
}

// FieldError points at the offending part of a request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorPayload struct {
	Error     string       `json:"error"`
	Message   string       `json:"message"`
	Status    int          `json:"status"`
	RequestID string       `json:"request_id,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
	Fields    []FieldError `json:"fields,omitempty"`
}

// NewError constructs an envelope; a zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithFields attaches per-field validation failures.
func (e Error) WithFields(fields ...FieldError) Error {
	if len(fields) == 0 {
		return e
	}
	e.Fields = make([]FieldError, 0, len(fields))
	for _, f := range fields {
		e.Fields = append(e.Fields, FieldError{Field: sanitize(f.Field, 128), Message: sanitize(f.Message, 256)})
	}
	return e
}

// WriteError writes the structured error, stamping request and trace identifiers from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorPayload{
		Error:     err.Code,
		Message:   err.Message,
		Status:    status,
		RequestID: sanitize(middleware.GetReqID(ctx), 80),
		TraceID:   sanitize(requestctx.TraceID(ctx), 64),
		Fields:    err.Fields,
	})
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.NewReplacer("\n", " ", "\r", " ").Replace(value)
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
