package audit

import (
	"net/http"
	"slices"
	"strings"

	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/events"
)

// Handler exposes the admin audit trail and the recent domain event log.
type Handler struct {
	Log events.Reader
}

// List handles GET /admin/audit?limit=.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	h.find(w, r, events.TopicAdminAudit)
}

// Events handles GET /admin/events?topic=&limit=.
func (h Handler) Events(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic != "" && !slices.Contains(events.DefaultTopics(), topic) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown topic", map[string]any{"topics": events.DefaultTopics()})
		return
	}
	h.find(w, r, topic)
}

func (h Handler) find(w http.ResponseWriter, r *http.Request, topic string) {
	if h.Log == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "event log not configured", nil)
		return
	}
	limit := common.QueryLimit(r.URL.Query(), "limit", 50, 200)
	found, err := h.Log.Find(r.Context(), topic, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch events", nil)
		return
	}
	if found == nil {
		found = []events.Event{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": found})
}
