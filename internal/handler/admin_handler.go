package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dxcp-labs/dxcp/internal/middleware"
	"github.com/dxcp-labs/dxcp/internal/models"
	"github.com/dxcp-labs/dxcp/internal/pkg/apierrors"
	"github.com/dxcp-labs/dxcp/internal/pkg/response"
)

// UpsertService handles PUT /v1/services/{name}.
func (h *Handler) UpsertService(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var svc models.Service
	if err := decode(r, &svc); err != nil {
		response.Error(w, r, err)
		return
	}
	svc.Name = chi.URLParam(r, "name")

	saved, err := h.registry.Upsert(r.Context(), p, svc)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, saved)
}

// GetService handles GET /v1/services/{name}.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.registry.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, svc)
}

// ListServices handles GET /v1/services.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.registry.List(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, services)
}

type killSwitchRequest struct {
	Engaged bool   `json:"engaged"`
	Reason  string `json:"reason,omitempty"`
}

// GetKillSwitch handles GET /v1/admin/system/mutations-disabled.
func (h *Handler) GetKillSwitch(w http.ResponseWriter, r *http.Request) {
	ks, err := h.system.KillSwitch(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, ks)
}

// SetKillSwitch handles PUT /v1/admin/system/mutations-disabled.
func (h *Handler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var req killSwitchRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, r, err)
		return
	}

	ks, err := h.system.SetKillSwitch(r.Context(), p, req.Engaged, req.Reason)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, ks)
}

// GetCIPublishers handles GET /v1/admin/system/ci-publishers.
func (h *Handler) GetCIPublishers(w http.ResponseWriter, r *http.Request) {
	publishers, err := h.system.CIPublishers(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if publishers == nil {
		publishers = []models.CIPublisher{}
	}
	response.OK(w, r, publishers)
}

// SetCIPublishers handles PUT /v1/admin/system/ci-publishers.
func (h *Handler) SetCIPublishers(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		response.Error(w, r, apierrors.ErrUnauthorized)
		return
	}
	var publishers []models.CIPublisher
	if err := decode(r, &publishers); err != nil {
		response.Error(w, r, err)
		return
	}

	if err := h.system.SetCIPublishers(r.Context(), p, publishers); err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, publishers)
}

// ListAudit handles GET /v1/admin/audit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	events, next, err := h.audit.List(r.Context(), q.Get("cursor"), limit)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSONWithMeta(w, r, http.StatusOK, events, &response.Meta{NextCursor: next})
}
