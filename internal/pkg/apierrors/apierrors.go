// Package apierrors provides the standardized API error taxonomy.
package apierrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// FailureCause classifies why a policy refusal happened.
type FailureCause string

const (
	// CausePolicyChange marks refusals caused by a recently tightened
	// guardrail (the request would have passed under the prior policy).
	CausePolicyChange FailureCause = "POLICY_CHANGE"
	// CauseUserError marks refusals the caller can fix themselves.
	CauseUserError FailureCause = "USER_ERROR"
)

// APIError represents a standardized API error response.
type APIError struct {
	Code         string       `json:"code"`
	Message      string       `json:"message"`
	FailureCause FailureCause `json:"failure_cause,omitempty"`
	StatusCode   int          `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(format string, args ...any) *APIError {
	return &APIError{
		Code:         e.Code,
		Message:      fmt.Sprintf(format, args...),
		FailureCause: e.FailureCause,
		StatusCode:   e.StatusCode,
	}
}

// WithCause returns a copy of the error with a failure cause attached.
func (e *APIError) WithCause(cause FailureCause) *APIError {
	return &APIError{
		Code:         e.Code,
		Message:      e.Message,
		FailureCause: cause,
		StatusCode:   e.StatusCode,
	}
}

// Standard error definitions. Order loosely follows the admission
// pipeline so the file reads like the check sequence.
var (
	// ErrUnauthorized is returned when the bearer token is missing,
	// malformed, or expired.
	ErrUnauthorized = &APIError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrForbidden is returned when the token verified but its audience
	// or issuer is not accepted, or the principal is outside the
	// resource's delivery group.
	ErrForbidden = &APIError{
		Code:       "FORBIDDEN",
		Message:    "You don't have permission to perform this action",
		StatusCode: http.StatusForbidden,
	}

	// ErrMutationsDisabled is returned while the kill switch is set.
	ErrMutationsDisabled = &APIError{
		Code:       "MUTATIONS_DISABLED",
		Message:    "Mutating operations are temporarily disabled",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrRateLimited is returned when the sliding-window rate is exceeded.
	ErrRateLimited = &APIError{
		Code:       "RATE_LIMITED",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrQuotaExceeded is returned when a per-principal daily cap is hit.
	ErrQuotaExceeded = &APIError{
		Code:       "QUOTA_EXCEEDED",
		Message:    "Daily quota exceeded",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrIdempotencyKeyRequired is returned when a mutating request
	// carries no Idempotency-Key header.
	ErrIdempotencyKeyRequired = &APIError{
		Code:       "IDMP_KEY_REQUIRED",
		Message:    "Idempotency-Key header is required for mutating requests",
		StatusCode: http.StatusBadRequest,
	}

	// ErrBuildRegistrationConflict is returned when an idempotency key is
	// replayed with a different build registration payload.
	ErrBuildRegistrationConflict = &APIError{
		Code:       "BUILD_REGISTRATION_CONFLICT",
		Message:    "Idempotency key was already used with a different payload",
		StatusCode: http.StatusConflict,
	}

	// ErrIdempotencyConflict is the non-build variant of the same refusal:
	// a reused key with a different payload, or one still in flight.
	ErrIdempotencyConflict = &APIError{
		Code:       "IDEMPOTENCY_CONFLICT",
		Message:    "Idempotency key was already used with a different payload",
		StatusCode: http.StatusConflict,
	}

	// ErrRoleForbidden is returned when the principal's roles do not
	// allow the operation.
	ErrRoleForbidden = &APIError{
		Code:       "ROLE_FORBIDDEN",
		Message:    "Your role does not permit this operation",
		StatusCode: http.StatusForbidden,
	}

	// ErrCIOnly is returned on CI-only endpoints when the caller does not
	// match any configured CI publisher.
	ErrCIOnly = &APIError{
		Code:       "CI_ONLY",
		Message:    "This endpoint is restricted to matched CI publishers",
		StatusCode: http.StatusForbidden,
	}

	// ErrInvalidRequest is returned for malformed or incomplete input.
	ErrInvalidRequest = &APIError{
		Code:       "INVALID_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidEnvironment is returned for an unsupported target
	// environment.
	ErrInvalidEnvironment = &APIError{
		Code:       "INVALID_ENVIRONMENT",
		Message:    "Unsupported environment",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidArtifact is returned when the artifact descriptor fails
	// validation (digest, size, content type, or ref scheme).
	ErrInvalidArtifact = &APIError{
		Code:       "INVALID_ARTIFACT",
		Message:    "Artifact descriptor failed validation",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidVersionFormat is returned when a version string is not
	// semver-shaped.
	ErrInvalidVersionFormat = &APIError{
		Code:       "INVALID_VERSION_FORMAT",
		Message:    "Version must be MAJOR.MINOR.PATCH with an optional pre-release suffix",
		StatusCode: http.StatusBadRequest,
	}

	// ErrServiceNotAllowlisted is returned for services outside the
	// registry allowlist.
	ErrServiceNotAllowlisted = &APIError{
		Code:       "SERVICE_NOT_ALLOWLISTED",
		Message:    "Service is not allowlisted",
		StatusCode: http.StatusForbidden,
	}

	// ErrRecipeNotAllowed is returned when the recipe is deprecated or
	// not permitted in the delivery group.
	ErrRecipeNotAllowed = &APIError{
		Code:       "RECIPE_NOT_ALLOWED",
		Message:    "Recipe is not allowed for this delivery group",
		StatusCode: http.StatusForbidden,
	}

	// ErrRecipeIncompatible is returned when the service and recipe
	// capabilities do not match.
	ErrRecipeIncompatible = &APIError{
		Code:       "RECIPE_INCOMPATIBLE",
		Message:    "Recipe is incompatible with this service",
		StatusCode: http.StatusBadRequest,
	}

	// ErrVersionNotFound is returned when no Build record exists for the
	// requested (service, version).
	ErrVersionNotFound = &APIError{
		Code:       "VERSION_NOT_FOUND",
		Message:    "No registered build found for this version",
		StatusCode: http.StatusBadRequest,
	}

	// ErrConcurrencyLimit is returned when a non-terminal deployment
	// already holds the (group, environment) slot.
	ErrConcurrencyLimit = &APIError{
		Code:       "CONCURRENCY_LIMIT_REACHED",
		Message:    "Another deployment is already in flight for this delivery group and environment",
		StatusCode: http.StatusConflict,
	}

	// ErrDeploymentLocked is the legacy alias for ErrConcurrencyLimit,
	// kept for clients that still match on the old code.
	ErrDeploymentLocked = &APIError{
		Code:       "DEPLOYMENT_LOCKED",
		Message:    "Another deployment is already in flight for this delivery group and environment",
		StatusCode: http.StatusConflict,
	}

	// ErrEngineTriggerFailed is returned when the execution engine did
	// not accept the trigger.
	ErrEngineTriggerFailed = &APIError{
		Code:       "ENGINE_TRIGGER_FAILED",
		Message:    "Execution engine did not accept the trigger",
		StatusCode: http.StatusBadGateway,
	}

	// ErrTimeout is returned when the request deadline expired.
	ErrTimeout = &APIError{
		Code:       "TIMEOUT",
		Message:    "Request deadline exceeded",
		StatusCode: http.StatusGatewayTimeout,
	}

	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = &APIError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrInternal is returned for unexpected server errors. Internals are
	// never leaked; the request id is the correlation handle.
	ErrInternal = &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return ErrNotFound.WithMessage("%s not found", resource)
}

// NewValidationError creates an INVALID_REQUEST error for a specific field.
func NewValidationError(field, message string) *APIError {
	return ErrInvalidRequest.WithMessage("Validation failed on %q: %s", field, message)
}

// IsAPIError checks if an error is an APIError.
func IsAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// AsAPIError converts an error to an APIError if possible. A request
// deadline expiry maps to TIMEOUT; anything else untagged is internal.
func AsAPIError(err error) *APIError {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}
