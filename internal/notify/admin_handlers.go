package notify

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/tiny-treasure/internal/common"
)

// AdminHandler exposes webhook endpoint management and the delivery log.
type AdminHandler struct {
	Registry *Registry
	Disp     *Dispatcher
}

type endpointView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Active    bool      `json:"active"`
	Topics    []string  `json:"topics"`
	Breaker   string    `json:"breaker,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *AdminHandler) view(ep Endpoint) endpointView {
	v := endpointView{
		ID:        ep.ID,
		Name:      ep.Name,
		URL:       ep.URL,
		Secret:    maskSecret(ep.Secret),
		Active:    ep.Active,
		Topics:    ep.Topics,
		CreatedAt: ep.CreatedAt,
		UpdatedAt: ep.UpdatedAt,
	}
	if v.Topics == nil {
		v.Topics = []string{}
	}
	if h.Disp != nil {
		if state, ok := h.Disp.BreakerStates()[ep.ID]; ok {
			v.Breaker = state.String()
		}
	}
	return v
}

func maskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// CreateEndpoint handles POST /webhooks.
func (h *AdminHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req EndpointInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	ep, err := h.Registry.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.view(ep)})
}

// UpdateEndpoint handles PUT /webhooks/{id}.
func (h *AdminHandler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	var req EndpointInput
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteAppError(w, err)
		return
	}
	ep, err := h.Registry.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.view(ep)})
}

// ListEndpoints handles GET /webhooks.
func (h *AdminHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints := h.Registry.List()
	out := make([]endpointView, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, h.view(ep))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// DeleteEndpoint handles DELETE /webhooks/{id}.
func (h *AdminHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := h.Registry.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDeliveries handles GET /webhooks/deliveries?endpointId=&result=&limit=.
func (h *AdminHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := common.QueryLimit(q, "limit", 50, 200)
	attempts := h.Disp.Attempts(strings.TrimSpace(q.Get("endpointId")), strings.TrimSpace(q.Get("result")), limit)
	if attempts == nil {
		attempts = []Attempt{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": attempts})
}

// Redeliver handles POST /webhooks/deliveries/{id}/redeliver.
func (h *AdminHandler) Redeliver(w http.ResponseWriter, r *http.Request) {
	if err := h.Disp.Redeliver(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]any{"scheduled": true}})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidEndpoint):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, ErrEndpointNotFound), errors.Is(err, ErrDeliveryNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
