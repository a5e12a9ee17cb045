// Package handler exposes the control plane HTTP API and enforces the
// ordered admission pipeline on every mutating request.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dxcp-labs/dxcp/internal/config"
	"github.com/dxcp-labs/dxcp/internal/idempotency"
	"github.com/dxcp-labs/dxcp/internal/identity"
	"github.com/dxcp-labs/dxcp/internal/limiter"
	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
	"github.com/dxcp-labs/dxcp/internal/service"
)

// maxBodyBytes bounds mutating request bodies.
const maxBodyBytes = 1 << 20

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck func(ctx context.Context) error

// Handler aggregates the API surface.
type Handler struct {
	deploys  service.DeploymentService
	builds   service.BuildService
	recipes  service.RecipeService
	groups   service.GroupService
	registry service.RegistryService
	system   service.SystemService
	audit    service.AuditService

	resolver identity.Resolver
	idmp     *idempotency.Manager
	limiter  *limiter.Limiter
	cfg      *config.Config
	logger   *slog.Logger
	ready    map[string]ReadyCheck
}

// New creates the API handler.
func New(
	deploys service.DeploymentService,
	builds service.BuildService,
	recipes service.RecipeService,
	groups service.GroupService,
	registry service.RegistryService,
	system service.SystemService,
	audit service.AuditService,
	resolver identity.Resolver,
	idmp *idempotency.Manager,
	lim *limiter.Limiter,
	cfg *config.Config,
	logger *slog.Logger,
	ready map[string]ReadyCheck,
) *Handler {
	return &Handler{
		deploys:  deploys,
		builds:   builds,
		recipes:  recipes,
		groups:   groups,
		registry: registry,
		system:   system,
		audit:    audit,
		resolver: resolver,
		idmp:     idmp,
		limiter:  lim,
		cfg:      cfg,
		logger:   logger,
		ready:    ready,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, map[string]string{"status": "ok"})
}

// Ready handles GET /ready. It probes every wired dependency.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.ready))
	healthy := true
	for name, check := range h.ready {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, map[string]any{"ready": healthy, "checks": checks})
}

// Whoami handles GET /v1/whoami.
func (h *Handler) Whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	response.OK(w, r, p)
}

// ConfigSanity handles GET /v1/config/sanity. Secrets never appear;
// only presence booleans and numeric limits.
func (h *Handler) ConfigSanity(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, h.cfg.Sanity())
}

// mutationGate refuses every mutating request while the kill switch is
// engaged.
func (h *Handler) mutationGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h.system.CheckMutationsAllowed(r.Context()); err != nil {
			response.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordingWriter captures the response for idempotent replay.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// idempotent enforces the Idempotency-Key contract on mutating
// requests: a missing key is refused, a matching replay returns the
// stored response, a payload mismatch conflicts, and completed
// responses are stored for the replay window.
func (h *Handler) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := middleware.PrincipalFrom(r.Context())
		if !ok {
			response.Error(w, r, apierrors.ErrUnauthorized)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			response.Error(w, r, apierrors.ErrIdempotencyKeyRequired)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			response.Error(w, r, apierrors.ErrInvalidRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)

		// Build registration keeps its dedicated conflict code; every
		// other mutating route reports the neutral one.
		conflict := apierrors.ErrIdempotencyConflict
		if strings.HasPrefix(r.URL.Path, "/v1/builds/") {
			conflict = apierrors.ErrBuildRegistrationConflict
		}

		stored, err := h.idmp.Begin(r.Context(), p.Subject, key, fingerprint)
		if err != nil {
			switch {
			case errors.Is(err, idempotency.ErrFingerprintMismatch):
				response.Error(w, r, conflict)
			case errors.Is(err, idempotency.ErrInFlight):
				response.Error(w, r, conflict.WithMessage(
					"A request with this idempotency key is still in flight"))
			default:
				response.Error(w, r, err)
			}
			return
		}
		if stored != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(response.HeaderIdempotencyReplayed, "true")
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// A 5xx outcome must not be replayed; drop the claim so the
		// client can retry.
		if rec.status >= http.StatusInternalServerError {
			if err := h.idmp.Abort(r.Context(), p.Subject, key); err != nil {
				h.logger.Error("idempotency abort failed", "key", key, "error", err)
			}
			return
		}
		if err := h.idmp.Complete(r.Context(), p.Subject, key, fingerprint, rec.status, rec.body.Bytes()); err != nil {
			h.logger.Error("idempotency complete failed", "key", key, "error", err)
		}
	})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apierrors.ErrInvalidRequest.WithMessage("Malformed JSON body")
	}
	return nil
}
