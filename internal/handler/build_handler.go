package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
	"github.com/dxcp-labs/dxcp/internal/service"
)

// RegisterBuild handles POST /v1/builds/register.
func (h *Handler) RegisterBuild(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var req service.RegisterBuildRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	build, err := h.builds.Register(r.Context(), p, req)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, build)
}

type uploadCapabilityRequest struct {
	Service string `json:"service"`
}

// IssueUploadCapability handles POST /v1/builds/upload-capability.
func (h *Handler) IssueUploadCapability(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var req uploadCapabilityRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	grant, err := h.builds.IssueUploadCapability(r.Context(), p, req.Service)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.Created(w, r, grant)
}

// ListBuilds handles GET /v1/builds/{service}.
func (h *Handler) ListBuilds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	builds, next, err := h.builds.ListByService(r.Context(), chi.URLParam(r, "service"), q.Get("cursor"), limit)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSONWithMeta(w, r, http.StatusOK, builds, &response.Meta{NextCursor: next})
}

// GetBuild handles GET /v1/builds/{service}/{version}.
func (h *Handler) GetBuild(w http.ResponseWriter, r *http.Request) {
	build, err := h.builds.Get(r.Context(), chi.URLParam(r, "service"), chi.URLParam(r, "version"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, build)
}
