package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/platform/httpx"
	"github.com/phonemart/api/internal/services"
)

type estimateShippingRequest struct {
	Address string `json:"address"`
	Carrier string `json:"carrier"`
}

type estimateShippingResponse struct {
	Carrier           string `json:"carrier"`
	Region            string `json:"region"`
	Fee               int64  `json:"fee"`
	LeadDays          int    `json:"lead_days"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

// ShippingHandlers exposes the public shipping estimator.
type ShippingHandlers struct {
	shipping services.ShippingService
}

// NewShippingHandlers constructs a new ShippingHandlers instance.
func NewShippingHandlers(shipping services.ShippingService) *ShippingHandlers {
	return &ShippingHandlers{shipping: shipping}
}

// Routes registers the /shipping endpoints. Estimation is pure and public.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/estimate", h.estimate)
}

func (h *ShippingHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req estimateShippingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	estimate, err := h.shipping.Estimate(ctx, req.Address, domain.Carrier(strings.TrimSpace(req.Carrier)))
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, estimateShippingResponse{
		Carrier:           string(estimate.Carrier),
		Region:            string(estimate.Region),
		Fee:               estimate.Fee,
		LeadDays:          estimate.LeadDays,
		EstimatedDelivery: formatTime(estimate.EstimatedDelivery),
	})
}
