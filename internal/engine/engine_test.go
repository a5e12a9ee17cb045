package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/models"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		code string
		want models.FailureCategory
	}{
		{"VALIDATION_SCHEMA", models.FailureValidation},
		{"INPUT_MALFORMED", models.FailureValidation},
		{"policy_denied", models.FailurePolicy},
		{"ARTIFACT_MISSING", models.FailureArtifact},
		{"DIGEST_MISMATCH", models.FailureArtifact},
		{"INFRA_CAPACITY", models.FailureInfrastructure},
		{"NETWORK_PARTITION", models.FailureInfrastructure},
		{"CONFIG_INVALID", models.FailureConfig},
		{"SECRET_MISSING", models.FailureConfig},
		{"HEALTHCHECK_FAILED", models.FailureApp},
		{"CRASH_LOOP", models.FailureApp},
		{"TIMEOUT", models.FailureTimeout},
		{"DEADLINE_EXCEEDED", models.FailureTimeout},
		{"ROLLBACK_STUCK", models.FailureRollback},
		{"SOMETHING_ELSE", models.FailureUnknown},
		{"", models.FailureUnknown},
	}
	for _, tt := range tests {
		if got := categoryOf(tt.code); got != tt.want {
			t.Errorf("categoryOf(%q) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestNormalizeHidesEngineText(t *testing.T) {
	raw := RawFailure{
		Code:    "INFRA_CAPACITY",
		Stage:   "provision",
		Message: "i-0abc terminated: InsufficientInstanceCapacity in us-east-1a",
	}
	at := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	ev := Normalize("dep_X", 0, raw, at)

	if ev.Category != models.FailureInfrastructure {
		t.Errorf("category = %s", ev.Category)
	}
	if ev.Summary == "" || ev.ActionHint == "" {
		t.Errorf("summary/hint missing: %+v", ev)
	}
	for _, field := range []string{ev.Summary, ev.Detail, ev.ActionHint} {
		if strings.Contains(field, "InsufficientInstanceCapacity") || strings.Contains(field, "i-0abc") {
			t.Errorf("engine text leaked: %q", field)
		}
	}
	if ev.Detail != "stage: provision" {
		t.Errorf("detail = %q", ev.Detail)
	}
	if ev.DeploymentID != "dep_X" || ev.Seq != 0 || !ev.OccurredAt.Equal(at) {
		t.Errorf("event = %+v", ev)
	}
}

func TestHTTPAdapterTrigger(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq TriggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Engine-Token")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(triggerResponse{ExecutionID: "exec-42"})
	}))
	defer srv.Close()

	a := NewHTTPAdapter(config.EngineConfig{
		Endpoint:    srv.URL,
		HeaderName:  "X-Engine-Token",
		HeaderValue: "secret",
	})

	id, err := a.Trigger(context.Background(), TriggerRequest{
		Kind:        "deploy",
		Application: "demo-service",
		Pipeline:    "default",
		Parameters:  map[string]string{"version": "0.1.42"},
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if id != "exec-42" {
		t.Errorf("execution id = %q", id)
	}
	if gotAuth != "secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/v1/executions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.Application != "demo-service" || gotReq.Parameters["version"] != "0.1.42" {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHTTPAdapterStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/executions/exec-1":
			_ = json.NewEncoder(w).Encode(ExecutionStatus{
				ExecutionID: "exec-1",
				State:       ExecFailed,
				Failures:    []RawFailure{{Code: "TIMEOUT", Stage: "bake"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := NewHTTPAdapter(config.EngineConfig{Endpoint: srv.URL})

	status, err := a.Status(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != ExecFailed || len(status.Failures) != 1 {
		t.Errorf("status = %+v", status)
	}

	_, err = a.Status(context.Background(), "exec-gone")
	if !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("missing execution err = %v", err)
	}
}

func TestHTTPAdapterServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(config.EngineConfig{Endpoint: srv.URL})
	_, err := a.Trigger(context.Background(), TriggerRequest{Kind: "deploy"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("5xx err = %v, want ErrUnavailable", err)
	}
}

func TestHTTPAdapterCircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPAdapter(config.EngineConfig{Endpoint: srv.URL})
	for i := 0; i < 5; i++ {
		_, _ = a.Status(context.Background(), "exec-1")
	}
	// The breaker is open; the request must not reach the server.
	srv.Close()
	_, err := a.Status(context.Background(), "exec-1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open circuit err = %v", err)
	}
}

func TestMemoryAdapterScripts(t *testing.T) {
	m := NewMemory()
	id := m.Script(ExecRunning, ExecRunning)
	m.FailWith(id, RawFailure{Code: "APP_CRASH", Stage: "deploy"})

	got, err := m.Trigger(context.Background(), TriggerRequest{Kind: "deploy"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got != id {
		t.Fatalf("execution id = %q, want %q", got, id)
	}

	states := []ExecutionState{}
	for i := 0; i < 4; i++ {
		status, err := m.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("status %d: %v", i, err)
		}
		states = append(states, status.State)
	}
	want := []ExecutionState{ExecRunning, ExecRunning, ExecFailed, ExecFailed}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}
