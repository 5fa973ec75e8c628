package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/platform/auth"
	"github.com/phonemart/api/internal/platform/httpx"
	"github.com/phonemart/api/internal/services"
)

type upsertDiscountRequest struct {
	Code              string  `json:"code"`
	Percentage        float64 `json:"percentage"`
	ValidFrom         string  `json:"valid_from"`
	ValidTo           string  `json:"valid_to"`
	MinOrderValue     int64   `json:"min_order_value"`
	ProbabilityWeight int     `json:"probability_weight"`
}

type adjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type configureStockRequest struct {
	Quantity    int `json:"quantity"`
	MaxQuantity int `json:"max_quantity"`
	MinQuantity int `json:"min_quantity"`
}

// AdminHandlers exposes the back-office surface: discount management and
// manual stock control.
type AdminHandlers struct {
	discounts services.DiscountService
	stock     services.StockService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(discounts services.DiscountService, stock services.StockService) *AdminHandlers {
	return &AdminHandlers{
		discounts: discounts,
		stock:     stock,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireAuthenticated())
	r.Use(auth.RequireRole(auth.RoleStaff, auth.RoleAdmin))

	r.Post("/discounts", h.createDiscount)
	r.Get("/discounts", h.listDiscounts)
	r.Put("/discounts/{discountID}", h.updateDiscount)
	r.Delete("/discounts/{discountID}", h.deleteDiscount)

	r.Post("/stock/{productID}:adjust", h.adjustStock)
	r.Get("/stock/{productID}", h.getStock)
	r.Put("/stock/{productID}", h.configureStock)
	r.Get("/stock/{productID}/log", h.listStockLog)
}

func (h *AdminHandlers) createDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	cmd, err := parseDiscountRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	discount, err := h.discounts.Create(ctx, actor, cmd)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, discountResponse{Discount: buildDiscountPayload(discount)})
}

func (h *AdminHandlers) updateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	cmd, err := parseDiscountRequest(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	discount, err := h.discounts.Update(ctx, actor, services.DiscountUpdateCommand{
		ID:                strings.TrimSpace(chi.URLParam(r, "discountID")),
		Code:              cmd.Code,
		Percentage:        cmd.Percentage,
		ValidFrom:         cmd.ValidFrom,
		ValidTo:           cmd.ValidTo,
		MinOrderValue:     cmd.MinOrderValue,
		ProbabilityWeight: cmd.ProbabilityWeight,
	})
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, discountResponse{Discount: buildDiscountPayload(discount)})
}

func (h *AdminHandlers) deleteDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	if err := h.discounts.Delete(ctx, actor, chi.URLParam(r, "discountID")); err != nil {
		writeDiscountError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) listDiscounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.discounts.List(ctx, actor, pager)
	if err != nil {
		writeDiscountError(ctx, w, err)
		return
	}

	items := make([]discountPayload, 0, len(page.Items))
	for _, discount := range page.Items {
		items = append(items, buildDiscountPayload(discount))
	}
	httpx.WriteJSON(w, http.StatusOK, discountListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	stock, log, err := h.stock.Adjust(ctx, services.StockAdjustCommand{
		ProductID: chi.URLParam(r, "productID"),
		Delta:     req.Delta,
		Reason:    req.Reason,
		ActorID:   actor.UserID,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, stockAdjustResponse{
		Stock: buildStockPayload(stock),
		Log:   buildStockLogPayload(log),
	})
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stock, err := h.stock.Get(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockResponse{Stock: buildStockPayload(stock)})
}

func (h *AdminHandlers) configureStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req configureStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	stock, err := h.stock.Configure(ctx, services.StockConfigureCommand{
		ProductID:   chi.URLParam(r, "productID"),
		Quantity:    req.Quantity,
		MaxQuantity: req.MaxQuantity,
		MinQuantity: req.MinQuantity,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stockResponse{Stock: buildStockPayload(stock)})
}

func (h *AdminHandlers) listStockLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.stock.ListAdjustments(ctx, chi.URLParam(r, "productID"), pager)
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	items := make([]stockLogPayload, 0, len(page.Items))
	for _, log := range page.Items {
		items = append(items, buildStockLogPayload(log))
	}
	httpx.WriteJSON(w, http.StatusOK, stockLogListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func parseDiscountRequest(r *http.Request) (services.DiscountCreateCommand, error) {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		return services.DiscountCreateCommand{}, err
	}
	var req upsertDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return services.DiscountCreateCommand{}, errors.New("invalid JSON body")
	}

	validFrom, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ValidFrom))
	if err != nil {
		return services.DiscountCreateCommand{}, errors.New("valid_from must be a valid RFC3339 timestamp")
	}
	validTo, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ValidTo))
	if err != nil {
		return services.DiscountCreateCommand{}, errors.New("valid_to must be a valid RFC3339 timestamp")
	}

	return services.DiscountCreateCommand{
		Code:              req.Code,
		Percentage:        req.Percentage,
		ValidFrom:         validFrom,
		ValidTo:           validTo,
		MinOrderValue:     req.MinOrderValue,
		ProbabilityWeight: req.ProbabilityWeight,
	}, nil
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockAdjustResponse struct {
	Stock stockPayload    `json:"stock"`
	Log   stockLogPayload `json:"log"`
}

type stockLogListResponse struct {
	Items         []stockLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type stockPayload struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	MaxQuantity int    `json:"max_quantity"`
	MinQuantity int    `json:"min_quantity"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type stockLogPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	OldQuantity int    `json:"old_quantity"`
	NewQuantity int    `json:"new_quantity"`
	Reason      string `json:"reason"`
	ActorID     string `json:"actor_id,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

func buildStockPayload(stock domain.StockRecord) stockPayload {
	return stockPayload{
		ProductID:   stock.ProductID,
		Quantity:    stock.Quantity,
		MaxQuantity: stock.MaxQuantity,
		MinQuantity: stock.MinQuantity,
		UpdatedAt:   formatTime(stock.UpdatedAt),
	}
}

func buildStockLogPayload(log domain.StockAdjustment) stockLogPayload {
	return stockLogPayload{
		ID:          log.ID,
		ProductID:   log.ProductID,
		OldQuantity: log.OldQuantity,
		NewQuantity: log.NewQuantity,
		Reason:      log.Reason,
		ActorID:     log.ActorID,
		OccurredAt:  formatTime(log.OccurredAt),
	}
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("stock_insufficient", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockExceedsMaximum):
		httpx.WriteError(ctx, w, httpx.NewError("stock_exceeds_maximum", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("stock_unavailable", "stock storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "failed to process stock request", http.StatusInternalServerError))
	}
}
