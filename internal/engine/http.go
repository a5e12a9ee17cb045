package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dxcp-labs/dxcp/internal/config"
)

// HTTPAdapter drives the execution engine over its HTTP API. A circuit
// breaker shields the control plane when the engine degrades; an open
// circuit surfaces as ErrUnavailable.
type HTTPAdapter struct {
	endpoint    string
	headerName  string
	headerValue string
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewHTTPAdapter creates an adapter from engine configuration.
func NewHTTPAdapter(cfg config.EngineConfig) *HTTPAdapter {
	return &HTTPAdapter{
		endpoint:    cfg.Endpoint,
		headerName:  cfg.HeaderName,
		headerValue: cfg.HeaderValue,
		client:      &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "execution-engine",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
			// Only availability problems should trip the circuit.
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrUnavailable)
			},
		}),
	}
}

type triggerResponse struct {
	ExecutionID string `json:"execution_id"`
}

func (a *HTTPAdapter) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	data, err := a.do(ctx, http.MethodPost, a.endpoint+"/v1/executions", body)
	if err != nil {
		return "", err
	}
	var resp triggerResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("engine: decode trigger response: %w", err)
	}
	if resp.ExecutionID == "" {
		return "", fmt.Errorf("engine: trigger response missing execution id")
	}
	return resp.ExecutionID, nil
}

func (a *HTTPAdapter) Status(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	data, err := a.do(ctx, http.MethodGet, a.endpoint+"/v1/executions/"+executionID, nil)
	if err != nil {
		return nil, err
	}
	var status ExecutionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("engine: decode status response: %w", err)
	}
	return &status, nil
}

func (a *HTTPAdapter) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	result, err := a.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if a.headerName != "" {
			req.Header.Set(a.headerName, a.headerValue)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrExecutionNotFound
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: engine returned %d", ErrUnavailable, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("engine: request rejected with %d", resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result.([]byte), nil
}
