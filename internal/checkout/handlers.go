package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/tiny-treasure/internal/cart"
	"github.com/noah-isme/tiny-treasure/internal/common"
	"github.com/noah-isme/tiny-treasure/internal/order"
	"github.com/noah-isme/tiny-treasure/internal/shipping"
)

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc *Service
}

// Checkout handles POST /api/v1/checkout.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload Input
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	orders, err := h.Svc.Compose(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var grand int64
	for _, o := range orders {
		grand += o.FinalTotal
	}
	common.JSON(w, http.StatusCreated, map[string]any{
		"data": map[string]any{"orders": orders, "grandTotal": grand},
	})
}

// Quote handles POST /api/v1/carts/{id}/quote: a per-store shipping preview.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var payload struct {
		Region       string `json:"region"`
		DeliveryType string `json:"deliveryType"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	dt, err := shipping.ParseDeliveryType(payload.DeliveryType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), chi.URLParam(r, "id"), payload.Region, dt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
		return
	}
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, "EMPTY_CART", err.Error(), nil)
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, shipping.ErrUnknownRegion), errors.Is(err, shipping.ErrInvalidDeliveryType), errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, order.ErrDuplicate):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "order could not be committed", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
