// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
)

// HeaderRequestID carries the request correlation id on every response.
const HeaderRequestID = "X-Request-Id"

// HeaderIdempotencyReplayed is set to "true" when a stored idempotent
// response is returned instead of re-executing the request.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// ErrorBody is the uniform error envelope.
type ErrorBody struct {
	Code         string                  `json:"code"`
	Message      string                  `json:"message"`
	FailureCause *apierrors.FailureCause `json:"failure_cause"`
	RequestID    string                  `json:"request_id"`
}

// Meta contains cursor pagination metadata.
type Meta struct {
	NextCursor string `json:"next_cursor,omitempty"`
}

// listEnvelope wraps list responses with pagination metadata.
type listEnvelope struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderRequestID, chimiddleware.GetReqID(r.Context()))
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"code":"INTERNAL_ERROR","message":"Failed to encode response"}`, http.StatusInternalServerError)
	}
}

// JSONWithMeta writes a list response with pagination metadata.
func JSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *Meta) {
	JSON(w, r, status, listEnvelope{Data: data, Meta: meta})
}

// Error writes the uniform error body for any error value.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := apierrors.AsAPIError(err)

	body := ErrorBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		RequestID: chimiddleware.GetReqID(r.Context()),
	}
	if apiErr.FailureCause != "" {
		cause := apiErr.FailureCause
		body.FailureCause = &cause
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderRequestID, body.RequestID)
	w.WriteHeader(apiErr.StatusCode)
	json.NewEncoder(w).Encode(body)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(HeaderRequestID, chimiddleware.GetReqID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
