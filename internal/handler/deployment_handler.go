package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
	"github.com/dxcp-labs/dxcp/internal/repository"
)

// SubmitDeployment handles POST /v1/deployments.
func (h *Handler) SubmitDeployment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var intent models.DeploymentIntent
	if err := decode(r, &intent); err != nil {
		response.Error(w, r, err)
		return
	}

	record, err := h.deploys.Submit(r.Context(), p, intent)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, record)
}

// ValidateDeployment handles POST /v1/deployments/validate. A dry run:
// it bills the read budget and consumes no quota or concurrency slot.
func (h *Handler) ValidateDeployment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var intent models.DeploymentIntent
	if err := decode(r, &intent); err != nil {
		response.Error(w, r, err)
		return
	}

	if err := h.deploys.Validate(r.Context(), p, intent); err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, map[string]bool{"valid": true})
}

// ListDeployments handles GET /v1/deployments.
func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DeploymentFilter{
		Service:     q.Get("service"),
		Environment: q.Get("environment"),
		GroupID:     q.Get("delivery_group"),
	}
	if s := q.Get("state"); s != "" {
		filter.State = models.DeploymentState(s)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	records, next, err := h.deploys.List(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSONWithMeta(w, r, http.StatusOK, records, &response.Meta{NextCursor: next})
}

// GetDeployment handles GET /v1/deployments/{id}.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	record, err := h.deploys.Get(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, record)
}

// ListDeploymentFailures handles GET /v1/deployments/{id}/failures.
func (h *Handler) ListDeploymentFailures(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	events, err := h.deploys.Failures(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if events == nil {
		events = []*models.FailureEvent{}
	}
	response.OK(w, r, events)
}

// RollbackDeployment handles POST /v1/deployments/{id}/rollback.
func (h *Handler) RollbackDeployment(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}

	record, err := h.deploys.Rollback(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, record)
}

// GetCurrent handles GET /v1/services/{name}/current.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	state, err := h.deploys.Current(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, state)
}
