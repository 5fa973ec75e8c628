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

const maxOrderBodySize = 64 * 1024

type createOrderRequest struct {
	Lines []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"lines"`
	Address       string `json:"address"`
	PhoneNumber   string `json:"phone_number"`
	Carrier       string `json:"carrier"`
	DiscountCode  string `json:"discount_code"`
	PaymentMethod string `json:"payment_method"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type createShippingRequest struct {
	Carrier     string `json:"carrier"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phone_number"`
}

type updateShippingRequest struct {
	Carrier           string `json:"carrier"`
	TrackingNumber    string `json:"tracking_number"`
	EstimatedDelivery string `json:"estimated_delivery"`
}

// OrderHandlers exposes the /orders surface: order assembly, lifecycle,
// and the per-order shipping and payment sub-records.
type OrderHandlers struct {
	orders   services.OrderService
	shipping services.ShippingService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, shipping services.ShippingService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		shipping: shipping,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireAuthenticated())
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:confirm", h.confirmOrder)
	r.Post("/{orderID}/status", h.updateOrderStatus)

	r.Get("/{orderID}/shipping", h.getShipping)
	r.Get("/{orderID}/payment", h.getPayment)

	r.Group(func(staff chi.Router) {
		staff.Use(auth.RequireRole(auth.RoleStaff, auth.RoleAdmin))
		staff.Post("/{orderID}/shipping", h.createShipping)
		staff.Put("/{orderID}/shipping", h.updateShipping)
		staff.Delete("/{orderID}/shipping", h.deleteShipping)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
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
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	lines := make([]services.OrderLineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.OrderLineRequest{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}

	order, err := h.orders.Create(ctx, actor, services.OrderCreateCommand{
		Lines:         lines,
		Address:       req.Address,
		PhoneNumber:   req.PhoneNumber,
		Carrier:       domain.Carrier(strings.TrimSpace(req.Carrier)),
		DiscountCode:  req.DiscountCode,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
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

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.ToUpper(strings.TrimSpace(value))
			if value != "" {
				statuses = append(statuses, domain.OrderStatus(value))
			}
		}
	}

	page, err := h.orders.List(ctx, actor, services.OrderListCommand{
		Status:     statuses,
		CustomerID: strings.TrimSpace(query.Get("customer_id")),
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	order, err := h.orders.Get(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	order, err := h.orders.Cancel(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	order, err := h.orders.Confirm(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
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
	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	order, err := h.orders.UpdateStatus(ctx, actor, chi.URLParam(r, "orderID"), next)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	shipping, err := h.shipping.GetByOrder(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, shippingResponse{Shipping: buildShippingPayload(shipping)})
}

func (h *OrderHandlers) createShipping(w http.ResponseWriter, r *http.Request) {
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
	var req createShippingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	shipping, err := h.shipping.Create(ctx, actor, services.ShippingCreateCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		Carrier:     domain.Carrier(strings.TrimSpace(req.Carrier)),
		Address:     req.Address,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, shippingResponse{Shipping: buildShippingPayload(shipping)})
}

func (h *OrderHandlers) updateShipping(w http.ResponseWriter, r *http.Request) {
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
	var req updateShippingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.ShippingUpdateCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		Carrier:        domain.Carrier(strings.TrimSpace(req.Carrier)),
		TrackingNumber: req.TrackingNumber,
	}
	if raw := strings.TrimSpace(req.EstimatedDelivery); raw != "" {
		eta, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDelivery = &eta
	}

	shipping, err := h.shipping.Update(ctx, actor, cmd)
	if err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, shippingResponse{Shipping: buildShippingPayload(shipping)})
}

func (h *OrderHandlers) deleteShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	if err := h.shipping.Delete(ctx, actor, chi.URLParam(r, "orderID")); err != nil {
		writeShippingError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := actorFromContext(ctx)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}

	payment, err := h.payments.GetByOrder(ctx, actor, chi.URLParam(r, "orderID"))
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	CustomerID   string             `json:"customer_id"`
	Status       string             `json:"status"`
	Lines        []orderLinePayload `json:"lines"`
	Shipping     *shippingPayload   `json:"shipping,omitempty"`
	TotalPrice   int64              `json:"total_price"`
	ShippingFee  int64              `json:"shipping_fee"`
	DiscountCode string             `json:"discount_code,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
}

type orderLinePayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type shippingResponse struct {
	Shipping shippingPayload `json:"shipping"`
}

type shippingPayload struct {
	OrderID           string `json:"order_id"`
	Carrier           string `json:"carrier"`
	Address           string `json:"address"`
	PhoneNumber       string `json:"phone_number"`
	Fee               int64  `json:"fee"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}

	payload := orderPayload{
		ID:           order.ID,
		CustomerID:   order.CustomerID,
		Status:       string(order.Status),
		Lines:        lines,
		TotalPrice:   order.TotalPrice,
		ShippingFee:  order.ShippingFee,
		DiscountCode: order.DiscountCode,
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
	if order.Shipping != nil {
		shipping := buildShippingPayload(*order.Shipping)
		payload.Shipping = &shipping
	}
	return payload
}

func buildShippingPayload(shipping domain.ShippingInfo) shippingPayload {
	return shippingPayload{
		OrderID:           shipping.OrderID,
		Carrier:           string(shipping.Carrier),
		Address:           shipping.Address,
		PhoneNumber:       shipping.PhoneNumber,
		Fee:               shipping.Fee,
		EstimatedDelivery: formatTime(shipping.EstimatedDelivery),
		TrackingNumber:    shipping.TrackingNumber,
	}
}

func buildPaymentPayload(payment domain.Payment) paymentPayload {
	return paymentPayload{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Method:        string(payment.Method),
		Status:        string(payment.Status),
		TransactionID: payment.TransactionID,
		CreatedAt:     formatTime(payment.CreatedAt),
		UpdatedAt:     formatTime(payment.UpdatedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to act on this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("order_out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflictingPromotion):
		httpx.WriteError(ctx, w, httpx.NewError("discount_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidPaymentMethod):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_method", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order storage unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrDiscountInvalidInput), errors.Is(err, services.ErrShippingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDiscountNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_found", "discount code not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDiscountAlreadyUsed):
		httpx.WriteError(ctx, w, httpx.NewError("discount_used", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDiscountOutOfWindow), errors.Is(err, services.ErrDiscountBelowMinimum), errors.Is(err, services.ErrDiscountConflict):
		httpx.WriteError(ctx, w, httpx.NewError("discount_not_applicable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShippingInvalidCarrier):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_carrier", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeShippingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrShippingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingInvalidCarrier):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_carrier", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShippingOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShippingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_not_found", "shipping record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShippingExists):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_exists", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShippingForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to manage shipping", http.StatusForbidden))
	case errors.Is(err, services.ErrShippingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("shipping_unavailable", "shipping storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "failed to process shipping request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to view this payment", http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_unavailable", "payment storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
