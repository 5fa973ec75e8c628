package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/platform/auth"
	"github.com/phonemart/api/internal/platform/httpx"
	"github.com/phonemart/api/internal/services"
)

type previewDiscountRequest struct {
	Code  string `json:"code"`
	Lines []struct {
		ProductID       string `json:"product_id"`
		Quantity        int    `json:"quantity"`
		UnitPrice       int64  `json:"unit_price"`
		PromotionActive bool   `json:"promotion_active"`
	} `json:"lines"`
}

type previewDiscountResponse struct {
	Code             string  `json:"code"`
	Percentage       float64 `json:"percentage"`
	Subtotal         int64   `json:"subtotal"`
	DiscountAmount   int64   `json:"discount_amount"`
	LineDiscounts    []int64 `json:"line_discounts"`
	PerUnitDeduction []int64 `json:"per_unit_deduction"`
	FinalTotal       int64   `json:"final_total"`
}

// DiscountHandlers exposes the customer-facing discount surface: the
// non-mutating preview quote and the promotional lucky draw.
type DiscountHandlers struct {
	discounts services.DiscountService
}

// NewDiscountHandlers constructs a new DiscountHandlers instance.
func NewDiscountHandlers(discounts services.DiscountService) *DiscountHandlers {
	return &DiscountHandlers{discounts: discounts}
}

// Routes registers the /discounts endpoints.
func (h *DiscountHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireAuthenticated())
	r.Post("/preview", h.preview)
	r.Get("/spin", h.spin)
}

func (h *DiscountHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req previewDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	lines := make([]services.DiscountLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.DiscountLine{
			ProductID:       strings.TrimSpace(line.ProductID),
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			PromotionActive: line.PromotionActive,
		})
	}

	eval, err := h.discounts.Evaluate(ctx, req.Code, lines)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, previewDiscountResponse{
		Code:             eval.Discount.Code,
		Percentage:       eval.Discount.Percentage,
		Subtotal:         eval.Subtotal,
		DiscountAmount:   eval.DiscountAmount,
		LineDiscounts:    eval.LineDiscounts,
		PerUnitDeduction: eval.PerUnitDeduction,
		FinalTotal:       eval.FinalTotal,
	})
}

func (h *DiscountHandlers) spin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	discount, err := h.discounts.SpinRandom(ctx)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, discountResponse{Discount: buildDiscountPayload(discount)})
}

type discountResponse struct {
	Discount discountPayload `json:"discount"`
}

type discountListResponse struct {
	Items         []discountPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type discountPayload struct {
	ID                string  `json:"id"`
	Code              string  `json:"code"`
	Percentage        float64 `json:"percentage"`
	ValidFrom         string  `json:"valid_from"`
	ValidTo           string  `json:"valid_to"`
	MinOrderValue     int64   `json:"min_order_value"`
	ProbabilityWeight int     `json:"probability_weight"`
	Used              bool    `json:"used"`
	CreatedAt         string  `json:"created_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

func buildDiscountPayload(discount domain.Discount) discountPayload {
	return discountPayload{
		ID:                discount.ID,
		Code:              discount.Code,
		Percentage:        discount.Percentage,
		ValidFrom:         formatTime(discount.ValidFrom),
		ValidTo:           formatTime(discount.ValidTo),
		MinOrderValue:     discount.MinOrderValue,
		ProbabilityWeight: discount.ProbabilityWeight,
		Used:              discount.Used,
		CreatedAt:         formatTime(discount.CreatedAt),
		UpdatedAt:         formatTime(discount.UpdatedAt),
	}
}

func writeDiscountError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDiscountInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("discount_used", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDiscountOutOfWindow), errors.Is(err, services.ErrDiscountBelowMinimum), errors.Is(err, services.ErrDiscountConflict):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_applicable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDiscountCodeExists):
		httpx.WriteError(ctx, w, httpx.NewError("discount_code_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDiscountNoneAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_none_available", "no active discount codes", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to manage discounts", http.StatusForbidden))
	case errors.Is(err, services.ErrDiscountUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("discount_unavailable", "discount storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("discount_error", "failed to process discount request", http.StatusInternalServerError))
	}
}
