package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

const (
	eventPaymentGateway = "payment.gateway_result"
	eventPaymentStatus  = "payment.status"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid arguments.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates no payment record exists for the order.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentForbidden indicates the actor may not view or change the record.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentUnavailable indicates a transient persistence failure.
	ErrPaymentUnavailable = errors.New("payment: storage unavailable")
)

// PaymentServiceDeps bundles the collaborators required to construct a payment service.
type PaymentServiceDeps struct {
	Payments repositories.PaymentRepository
	Orders   repositories.OrderRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments repositories.PaymentRepository
	orders   repositories.OrderRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments: deps.Payments,
		orders:   deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *paymentService) GetByOrder(ctx context.Context, actor Actor, orderID string) (domain.Payment, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	if !actor.IsStaff() {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return domain.Payment{}, s.mapRepositoryError(err)
		}
		if order.CustomerID != actor.UserID {
			return domain.Payment{}, fmt.Errorf("%w: actor %s", ErrPaymentForbidden, actor.UserID)
		}
	}

	payment, err := s.payments.FindByOrder(ctx, orderID)
	if err != nil {
		return domain.Payment{}, s.mapRepositoryError(err)
	}
	return payment, nil
}

// ApplyGatewayResult records the outcome of a hosted gateway callback. A zero
// result code marks the payment PAID with the gateway transaction id, any
// other code marks it FAILED.
func (s *paymentService) ApplyGatewayResult(ctx context.Context, cmd GatewayResultCommand) (domain.Payment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	status := domain.PaymentStatusPaid
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if cmd.ResultCode != 0 {
		status = domain.PaymentStatusFailed
	}

	now := s.clock()
	payment, err := s.payments.UpdateStatus(ctx, orderID, status, transactionID, now)
	if err != nil {
		return domain.Payment{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventPaymentGateway, map[string]any{
		"order_id":    orderID,
		"result_code": cmd.ResultCode,
		"status":      string(status),
	})
	return payment, nil
}

func (s *paymentService) UpdateStatus(ctx context.Context, actor Actor, orderID string, status domain.PaymentStatus) (domain.Payment, error) {
	if !actor.IsStaff() {
		return domain.Payment{}, fmt.Errorf("%w: actor %s", ErrPaymentForbidden, actor.UserID)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	switch status {
	case domain.PaymentStatusPending, domain.PaymentStatusProcessing, domain.PaymentStatusPaid,
		domain.PaymentStatusAwaitingDelivery, domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
	default:
		return domain.Payment{}, fmt.Errorf("%w: unknown status %q", ErrPaymentInvalidInput, status)
	}

	now := s.clock()
	payment, err := s.payments.UpdateStatus(ctx, orderID, status, "", now)
	if err != nil {
		return domain.Payment{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventPaymentStatus, map[string]any{
		"order_id": orderID,
		"status":   string(status),
		"actor_id": actor.UserID,
	})
	return payment, nil
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound, repositories.OrderErrorPaymentNotFound:
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, orderErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
		}
	}
	return err
}
