package commission

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/order"
)

// AdminHandler exposes the commission console under /api/v1/admin/commission.
type AdminHandler struct {
	Svc *Service
}

func (h *AdminHandler) ready(w http.ResponseWriter) bool {
	if h.Svc == nil || h.Svc.Ledger == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "commission service not configured", nil)
		return false
	}
	return true
}

// Summary handles GET /summary.
func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	s := h.Svc.Ledger.Summary()
	common.JSON(w, http.StatusOK, map[string]any{
		"data": s,
		"display": map[string]string{
			"totalCompanyIncome": FormatDA(s.TotalCompanyIncome),
			"totalDistributed":   FormatDA(s.TotalDistributed),
		},
	})
}

// Transactions handles GET /transactions?status=&order=&page=&limit=.
func (h *AdminHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var f TransactionFilter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unsupported status", map[string]any{"field": "status"})
			return
		}
		f.Status = st
	}
	f.OrderID = strings.TrimSpace(r.URL.Query().Get("order"))
	page, perPage := common.ParsePagination(r, 20, 100)
	items, meta := common.Paginate(h.Svc.Ledger.Transactions(f), page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

// Distributions handles GET /distributions.
func (h *AdminHandler) Distributions(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	page, perPage := common.ParsePagination(r, 20, 100)
	items, meta := common.Paginate(h.Svc.Ledger.Distributions(), page, perPage)
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

// PatchTransaction handles PATCH /transactions/{id} with body {"status": "..."}.
func (h *AdminHandler) PatchTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tx, err := h.Svc.Ledger.SetTransactionStatus(r.Context(), chi.URLParam(r, "id"), Status(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": tx})
}

// Distribute handles POST /transactions/{id}/distribute.
func (h *AdminHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	d, err := h.Svc.Ledger.Distribute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": d})
}

// ProcessOrder handles POST /orders/{id}/process.
func (h *AdminHandler) ProcessOrder(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	txs, err := h.Svc.ProcessOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": txs})
}

// ProcessDelivered handles POST /orders/process-delivered.
func (h *AdminHandler) ProcessDelivered(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	res, err := h.Svc.ProcessDelivered(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

// Team handles GET /team.
func (h *AdminHandler) Team(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Svc.Ledger.TeamMembers()})
}

// AddMember handles POST /team with body {"name": "..."}.
func (h *AdminHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.Svc.Ledger.AddTeamMember(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": m})
}

// UpdateMember handles PATCH /team/{id}.
func (h *AdminHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var patch MemberPatch
	if err := common.DecodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.Svc.Ledger.UpdateTeamMember(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": m})
}

// MemberIncome handles GET /team/{id}/income.
func (h *AdminHandler) MemberIncome(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	id := chi.URLParam(r, "id")
	income, err := h.Svc.Ledger.MemberIncome(id)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"memberId":    id,
		"totalEarned": income,
		"display":     FormatDA(income),
	}})
}

// GetSettings handles GET /settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Svc.Ledger.Settings()})
}

// UpdateSettings handles PUT /settings; omitted fields keep their value.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var patch SettingsPatch
	if err := common.DecodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	s, err := h.Svc.Ledger.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": s})
}

// Monthly handles GET /monthly.
func (h *AdminHandler) Monthly(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.Svc.Ledger.MonthlyStats()})
}

func writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMemberNotFound), errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrAlreadyDistributed), errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, ErrNoActiveMembers), errors.Is(err, ErrNotDistributable), errors.Is(err, ErrOrderNotDelivered):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
