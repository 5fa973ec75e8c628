package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/platform/httpx"
	"github.com/phonemart/api/internal/services"
)

type gatewayCallbackRequest struct {
	OrderID       string `json:"order_id"`
	ResultCode    int    `json:"result_code"`
	TransactionID string `json:"transaction_id"`
}

// WebhookHandlers receives hosted payment gateway callbacks. Signature
// verification happens in the webhook middleware group.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.paymentCallback)
}

func (h *WebhookHandlers) paymentCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req gatewayCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.ApplyGatewayResult(ctx, services.GatewayResultCommand{
		OrderID:       req.OrderID,
		ResultCode:    req.ResultCode,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}
