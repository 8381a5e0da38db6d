package shipping

import (
	"errors"
	"net/http"

	"github.com/noah-isme/tiny-treasure/internal/common"
)

// Handler exposes the region table and shipping quotes.
type Handler struct {
	Rates RateTable
}

// Regions handles GET /api/v1/regions.
func (h *Handler) Regions(w http.ResponseWriter, r *http.Request) {
	common.JSON(w, http.StatusOK, map[string]any{"data": Regions()})
}

type quoteRequest struct {
	Region       string `json:"region"`
	DeliveryType string `json:"deliveryType"`
}

// Quote handles POST /api/v1/shipping/quote for a single shipment. An empty
// region yields a pending quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dt, err := ParseDeliveryType(req.DeliveryType)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Rates.Quote(req.Region, dt)
	if err != nil {
		writeError(w, err)
		return
	}
	q.EstimatedDays = EstimatedDays(dt)
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

func writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrUnknownRegion):
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_REGION", err.Error(), map[string]any{"field": "region"})
	case errors.Is(err, ErrInvalidDeliveryType):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), map[string]any{"field": "deliveryType"})
	case errors.Is(err, ErrRegionRequired):
		common.JSONError(w, http.StatusUnprocessableEntity, "REGION_REQUIRED", err.Error(), map[string]any{"field": "region"})
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
