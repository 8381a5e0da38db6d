package queue

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/common"
)

// AdminHandler exposes queue inspection and DLQ replay.
type AdminHandler struct {
	Inspector Inspector
	PageSize  int
	Logger    zerolog.Logger
}

// Stats handles GET /queue/stats?kind=...
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Inspector.Stats(r.Context(), strings.TrimSpace(r.URL.Query().Get("kind")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

// ListDLQ handles GET /queue/dlq?kind=...&limit=...
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	limit := common.QueryLimit(r.URL.Query(), "limit", h.pageSize(), 200)
	items, err := h.Inspector.DeadLetters(r.Context(), strings.TrimSpace(r.URL.Query().Get("kind")), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": len(items)})
}

// ReplayDLQ handles POST /queue/dlq/replay with body {"kind": "...", "limit": n}.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind  string `json:"kind"`
		Limit int    `json:"limit"`
	}
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = h.pageSize()
	}
	moved, err := h.Inspector.Replay(r.Context(), strings.TrimSpace(req.Kind), req.Limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.Logger.Info().Str("kind", req.Kind).Int("replayed", moved).Msg("queue: dlq replayed")
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"replayed": moved}})
}

func (h *AdminHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrKindRequired) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "kind is required", nil)
		return
	}
	h.Logger.Error().Err(err).Msg("queue admin")
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "queue unavailable", nil)
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize <= 0 {
		return 50
	}
	return h.PageSize
}
