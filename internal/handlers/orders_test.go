package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/platform/auth"
	"github.com/phonemart/api/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.Actor, services.OrderCreateCommand) (domain.Order, error)
	getFn    func(context.Context, services.Actor, string) (domain.Order, error)
	listFn   func(context.Context, services.Actor, services.OrderListCommand) (domain.CursorPage[domain.Order], error)
	cancelFn func(context.Context, services.Actor, string) (domain.Order, error)
	statusFn func(context.Context, services.Actor, string, domain.OrderStatus) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, actor services.Actor, cmd services.OrderCreateCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, actor, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, actor services.Actor, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, actor services.Actor, cmd services.OrderListCommand) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, cmd)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, actor services.Actor, orderID string) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, actor, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Confirm(ctx context.Context, actor services.Actor, orderID string) (domain.Order, error) {
	return s.UpdateStatus(ctx, actor, orderID, domain.OrderStatusConfirmed)
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, actor services.Actor, orderID string, next domain.OrderStatus) (domain.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, actor, orderID, next)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubShippingService struct {
	estimateFn func(context.Context, string, domain.Carrier) (domain.ShippingEstimate, error)
	createFn   func(context.Context, services.Actor, services.ShippingCreateCommand) (domain.ShippingInfo, error)
	deleteFn   func(context.Context, services.Actor, string) error
	getFn      func(context.Context, services.Actor, string) (domain.ShippingInfo, error)
}

func (s *stubShippingService) Estimate(ctx context.Context, address string, carrier domain.Carrier) (domain.ShippingEstimate, error) {
	if s.estimateFn != nil {
		return s.estimateFn(ctx, address, carrier)
	}
	return domain.ShippingEstimate{}, errors.New("not implemented")
}

func (s *stubShippingService) Create(ctx context.Context, actor services.Actor, cmd services.ShippingCreateCommand) (domain.ShippingInfo, error) {
	if s.createFn != nil {
		return s.createFn(ctx, actor, cmd)
	}
	return domain.ShippingInfo{}, errors.New("not implemented")
}

func (s *stubShippingService) Update(context.Context, services.Actor, services.ShippingUpdateCommand) (domain.ShippingInfo, error) {
	return domain.ShippingInfo{}, errors.New("not implemented")
}

func (s *stubShippingService) Delete(ctx context.Context, actor services.Actor, orderID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, actor, orderID)
	}
	return errors.New("not implemented")
}

func (s *stubShippingService) GetByOrder(ctx context.Context, actor services.Actor, orderID string) (domain.ShippingInfo, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return domain.ShippingInfo{}, errors.New("not implemented")
}

type stubPaymentService struct {
	getFn     func(context.Context, services.Actor, string) (domain.Payment, error)
	gatewayFn func(context.Context, services.GatewayResultCommand) (domain.Payment, error)
}

func (s *stubPaymentService) GetByOrder(ctx context.Context, actor services.Actor, orderID string) (domain.Payment, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) ApplyGatewayResult(ctx context.Context, cmd services.GatewayResultCommand) (domain.Payment, error) {
	if s.gatewayFn != nil {
		return s.gatewayFn(ctx, cmd)
	}
	return domain.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentService) UpdateStatus(context.Context, services.Actor, string, domain.PaymentStatus) (domain.Payment, error) {
	return domain.Payment{}, errors.New("not implemented")
}

func newOrderRouter(orders services.OrderService, shipping services.ShippingService, payments services.PaymentService) chi.Router {
	handler := NewOrderHandlers(orders, shipping, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func asCustomer(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Role: auth.RoleCustomer}))
}

func asStaff(req *http.Request) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "usr_staff", Role: auth.RoleStaff}))
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	var captured services.OrderCreateCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, actor services.Actor, cmd services.OrderCreateCommand) (domain.Order, error) {
			if actor.UserID != "usr_001" {
				t.Fatalf("expected actor usr_001, got %q", actor.UserID)
			}
			captured = cmd
			return domain.Order{
				ID:         "ord_001",
				CustomerID: "usr_001",
				Status:     domain.OrderStatusPending,
				Lines: []domain.OrderLine{
					{ProductID: "prd_a", ProductName: "iPhone 15", Quantity: 1, UnitPrice: 70000},
				},
				TotalPrice:  185000,
				ShippingFee: 25000,
				CreatedAt:   now,
			}, nil
		},
	}
	router := newOrderRouter(service, &stubShippingService{}, &stubPaymentService{})

	payload := `{
		"lines": [{"product_id": "prd_a", "quantity": 1}, {"product_id": "prd_b", "quantity": 3}],
		"address": "Hoàn Kiếm, Hà Nội",
		"phone_number": "0901234567",
		"carrier": "GHN",
		"discount_code": "SUMMER20"
	}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(payload)), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Lines) != 2 || captured.Lines[1].Quantity != 3 {
		t.Fatalf("unexpected command lines: %+v", captured.Lines)
	}
	if captured.Carrier != domain.CarrierGHN || captured.DiscountCode != "SUMMER20" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_001" || resp.Order.TotalPrice != 185000 {
		t.Fatalf("unexpected response: %+v", resp.Order)
	}
}

func TestOrderHandlersCreateOrderRequiresAuth(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubShippingService{}, &stubPaymentService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderOutOfStock(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.Actor, services.OrderCreateCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: iPhone 15", services.ErrOrderOutOfStock)
		},
	}
	router := newOrderRouter(service, &stubShippingService{}, &stubPaymentService{})

	payload := `{"lines": [{"product_id": "prd_a", "quantity": 99}], "address": "Hà Nội", "phone_number": "0901234567", "carrier": "GHN"}`
	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/", bytes.NewBufferString(payload)), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListCommand
	service := &stubOrderService{
		listFn: func(_ context.Context, _ services.Actor, cmd services.OrderListCommand) (domain.CursorPage[domain.Order], error) {
			captured = cmd
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{{ID: "ord_001", Status: domain.OrderStatusPending}},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newOrderRouter(service, &stubShippingService{}, &stubPaymentService{})

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/orders/?status=pending,confirmed&page_size=10&page_token=tok123", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending {
		t.Fatalf("unexpected status filter: %+v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.Actor, string) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: cannot cancel order in SHIPPED", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(service, &stubShippingService{}, &stubPaymentService{})

	req := asCustomer(httptest.NewRequest(http.MethodPost, "/orders/ord_001:cancel", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	service := &stubOrderService{
		statusFn: func(_ context.Context, _ services.Actor, orderID string, next domain.OrderStatus) (domain.Order, error) {
			if orderID != "ord_001" || next != domain.OrderStatusCompleted {
				t.Fatalf("unexpected transition request: %s -> %s", orderID, next)
			}
			return domain.Order{ID: orderID, Status: next}, nil
		},
	}
	router := newOrderRouter(service, &stubShippingService{}, &stubPaymentService{})

	req := asStaff(httptest.NewRequest(http.MethodPost, "/orders/ord_001/status", bytes.NewBufferString(`{"status": "completed"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCompleted) {
		t.Fatalf("unexpected response: %+v", resp.Order)
	}
}

func TestOrderHandlersShippingRoutesRequireStaff(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, &stubShippingService{}, &stubPaymentService{})

	req := asCustomer(httptest.NewRequest(http.MethodDelete, "/orders/ord_001/shipping", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersDeleteShipping(t *testing.T) {
	var deleted string
	shipping := &stubShippingService{
		deleteFn: func(_ context.Context, _ services.Actor, orderID string) error {
			deleted = orderID
			return nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, shipping, &stubPaymentService{})

	req := asStaff(httptest.NewRequest(http.MethodDelete, "/orders/ord_001/shipping", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "ord_001" {
		t.Fatalf("expected deletion of ord_001, got %q", deleted)
	}
}

func TestOrderHandlersGetPayment(t *testing.T) {
	payments := &stubPaymentService{
		getFn: func(context.Context, services.Actor, string) (domain.Payment, error) {
			return domain.Payment{ID: "pay_001", OrderID: "ord_001", Method: domain.PaymentMethodCOD, Status: domain.PaymentStatusPending}, nil
		},
	}
	router := newOrderRouter(&stubOrderService{}, &stubShippingService{}, payments)

	req := asCustomer(httptest.NewRequest(http.MethodGet, "/orders/ord_001/payment", nil), "usr_001")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp paymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Payment.Method != string(domain.PaymentMethodCOD) {
		t.Fatalf("unexpected response: %+v", resp.Payment)
	}
}
