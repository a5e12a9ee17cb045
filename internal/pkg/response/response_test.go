package response

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
)

func renderError(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	Error(rec, req, err)

	var body ErrorBody
	if decErr := json.NewDecoder(rec.Body).Decode(&body); decErr != nil {
		t.Fatalf("decode: %v", decErr)
	}
	return rec, body
}

func TestErrorEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "api error passes through",
			err:        apierrors.ErrCIOnly,
			wantStatus: http.StatusForbidden,
			wantCode:   "CI_ONLY",
		},
		{
			name:       "deadline expiry maps to timeout",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
		},
		{
			name:       "wrapped deadline expiry maps to timeout",
			err:        fmt.Errorf("resolve principal: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
		},
		{
			name:       "untagged error stays internal",
			err:        fmt.Errorf("pool exhausted"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := renderError(t, tt.err)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestErrorFailureCause(t *testing.T) {
	_, body := renderError(t, apierrors.ErrRecipeNotAllowed.WithCause(apierrors.CausePolicyChange))
	if body.FailureCause == nil || *body.FailureCause != apierrors.CausePolicyChange {
		t.Errorf("failure_cause = %v", body.FailureCause)
	}

	_, body = renderError(t, apierrors.ErrNotFound)
	if body.FailureCause != nil {
		t.Errorf("failure_cause = %v, want absent", *body.FailureCause)
	}
}
