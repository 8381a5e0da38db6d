package order

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/tiny-treasure/internal/common"
)

// AdminHandler provides administrative order management endpoints.
type AdminHandler struct {
	Svc *Service
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// List handles GET /api/v1/admin/orders?status=&store=&page=&limit=.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var f Filter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", map[string]any{"field": "status"})
			return
		}
		f.Status = st
	}
	f.StoreID = strings.TrimSpace(r.URL.Query().Get("store"))
	page, perPage := common.ParsePagination(r, 20, 100)
	items, meta := common.Paginate(h.Svc.List(r.Context(), f), page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

// PatchStatus handles PATCH /api/v1/admin/orders/{id}/status. Any status may be set.
// A saved change whose events failed answers 500 FOLLOW_UP_FAILED with the
// saved order in the error details.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order service not configured", nil)
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Status == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "status is required", nil)
		return
	}
	target, err := ParseStatus(req.Status)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", map[string]any{"field": "status"})
		return
	}
	o, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), target)
	if errors.Is(err, ErrFollowUpFailed) {
		common.JSONError(w, http.StatusInternalServerError, "FOLLOW_UP_FAILED", err.Error(), map[string]any{
			"order":   o,
			"orderId": o.ID,
			"status":  o.Status,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}
