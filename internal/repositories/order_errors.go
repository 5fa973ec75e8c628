package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorDiscountUsed indicates the referenced discount code was already consumed.
	OrderErrorDiscountUsed OrderErrorCode = "order_discount_used"
	// OrderErrorShippingExists indicates the order already carries a shipping record.
	OrderErrorShippingExists OrderErrorCode = "order_shipping_exists"
	// OrderErrorShippingNotFound indicates the order has no shipping record.
	OrderErrorShippingNotFound OrderErrorCode = "order_shipping_not_found"
	// OrderErrorPaymentNotFound indicates the order has no payment record.
	OrderErrorPaymentNotFound OrderErrorCode = "order_payment_not_found"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
