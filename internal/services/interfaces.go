package services

import (
	"context"
	"strings"
	"time"

	"github.com/phonemart/api/internal/domain"
)

// Actor is the authenticated principal invoking a service operation.
type Actor struct {
	UserID string
	Role   string
}

// IsStaff reports whether the actor belongs to back-office personnel.
func (a Actor) IsStaff() bool {
	return strings.EqualFold(a.Role, domain.RoleStaff) || strings.EqualFold(a.Role, domain.RoleAdmin)
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return strings.EqualFold(a.Role, domain.RoleAdmin)
}

// StockAdjustCommand requests one bounded stock change.
type StockAdjustCommand struct {
	ProductID string
	Delta     int
	Reason    string
	ActorID   string
}

// StockConfigureCommand upserts the stock record bounds for a product.
type StockConfigureCommand struct {
	ProductID   string
	Quantity    int
	MaxQuantity int
	MinQuantity int
}

// StockService owns per-product quantities and their audit trail.
type StockService interface {
	Adjust(ctx context.Context, cmd StockAdjustCommand) (domain.StockRecord, domain.StockAdjustment, error)
	Get(ctx context.Context, productID string) (domain.StockRecord, error)
	Configure(ctx context.Context, cmd StockConfigureCommand) (domain.StockRecord, error)
	ListAdjustments(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error)
}

// DiscountLine is one priced cart line submitted for discount evaluation.
// UnitPrice must be the undiscounted catalog price.
type DiscountLine struct {
	ProductID       string
	Quantity        int
	UnitPrice       int64
	PromotionActive bool
}

// DiscountEvaluation is the result of applying a code to a set of lines.
type DiscountEvaluation struct {
	Discount       domain.Discount
	Subtotal       int64
	DiscountAmount int64
	// PerUnitDeduction maps line index to the amount subtracted from each
	// unit of that line, already clamped so prices never go negative.
	PerUnitDeduction []int64
	// LineDiscounts maps line index to the line's total share of the discount.
	LineDiscounts []int64
	FinalTotal    int64
}

// DiscountCreateCommand carries the admin-entered fields of a new code.
type DiscountCreateCommand struct {
	Code              string
	Percentage        float64
	ValidFrom         time.Time
	ValidTo           time.Time
	MinOrderValue     int64
	ProbabilityWeight int
}

// DiscountUpdateCommand edits an existing code by ID.
type DiscountUpdateCommand struct {
	ID                string
	Code              string
	Percentage        float64
	ValidFrom         time.Time
	ValidTo           time.Time
	MinOrderValue     int64
	ProbabilityWeight int
}

// DiscountService validates and prorates single-use discount codes. Evaluate
// never consumes a code; the used flag flips inside the order-assembly
// transaction.
type DiscountService interface {
	Evaluate(ctx context.Context, code string, lines []DiscountLine) (DiscountEvaluation, error)
	Create(ctx context.Context, actor Actor, cmd DiscountCreateCommand) (domain.Discount, error)
	Update(ctx context.Context, actor Actor, cmd DiscountUpdateCommand) (domain.Discount, error)
	Delete(ctx context.Context, actor Actor, id string) error
	List(ctx context.Context, actor Actor, pager domain.Pagination) (domain.CursorPage[domain.Discount], error)
	SpinRandom(ctx context.Context) (domain.Discount, error)
}

// RegionClassifier buckets a free-text delivery address into a region tier.
// The default implementation is a normalized substring heuristic; swap it for
// real geocoding without touching the estimator contract.
type RegionClassifier interface {
	Classify(address string) domain.RegionTier
}

// ShippingCreateCommand attaches a shipping record to an existing order.
type ShippingCreateCommand struct {
	OrderID     string
	Carrier     domain.Carrier
	Address     string
	PhoneNumber string
}

// ShippingUpdateCommand edits carrier, tracking number, or ETA on an order's
// shipping record.
type ShippingUpdateCommand struct {
	OrderID           string
	Carrier           domain.Carrier
	TrackingNumber    string
	EstimatedDelivery *time.Time
}

// ShippingService estimates fees and manages per-order shipping records.
type ShippingService interface {
	Estimate(ctx context.Context, address string, carrier domain.Carrier) (domain.ShippingEstimate, error)
	Create(ctx context.Context, actor Actor, cmd ShippingCreateCommand) (domain.ShippingInfo, error)
	Update(ctx context.Context, actor Actor, cmd ShippingUpdateCommand) (domain.ShippingInfo, error)
	Delete(ctx context.Context, actor Actor, orderID string) error
	GetByOrder(ctx context.Context, actor Actor, orderID string) (domain.ShippingInfo, error)
}

// OrderLineRequest is one product/quantity pair of a cart submission.
type OrderLineRequest struct {
	ProductID string
	Quantity  int
}

// OrderCreateCommand is the cart submission entering order assembly.
type OrderCreateCommand struct {
	Lines         []OrderLineRequest
	Address       string
	PhoneNumber   string
	Carrier       domain.Carrier
	DiscountCode  string
	PaymentMethod string
}

// OrderListCommand filters order listings.
type OrderListCommand struct {
	Status     []domain.OrderStatus
	CustomerID string
	Pagination domain.Pagination
}

// OrderService assembles orders and drives their lifecycle.
type OrderService interface {
	Create(ctx context.Context, actor Actor, cmd OrderCreateCommand) (domain.Order, error)
	Get(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	List(ctx context.Context, actor Actor, cmd OrderListCommand) (domain.CursorPage[domain.Order], error)
	Cancel(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	Confirm(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, actor Actor, orderID string, next domain.OrderStatus) (domain.Order, error)
}

// GatewayResultCommand is the callback payload from a hosted payment gateway.
type GatewayResultCommand struct {
	OrderID       string
	ResultCode    int
	TransactionID string
}

// PaymentService exposes the per-order payment record surface.
type PaymentService interface {
	GetByOrder(ctx context.Context, actor Actor, orderID string) (domain.Payment, error)
	ApplyGatewayResult(ctx context.Context, cmd GatewayResultCommand) (domain.Payment, error)
	UpdateStatus(ctx context.Context, actor Actor, orderID string, status domain.PaymentStatus) (domain.Payment, error)
}

// StockEventMessage is published after a successful stock adjustment.
type StockEventMessage struct {
	ProductID   string    `json:"productId"`
	OldQuantity int       `json:"oldQuantity"`
	NewQuantity int       `json:"newQuantity"`
	Reason      string    `json:"reason,omitempty"`
	ActorID     string    `json:"actorId,omitempty"`
	LowStock    bool      `json:"lowStock"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// OrderEventMessage is published after an order changes state.
type OrderEventMessage struct {
	OrderID    string             `json:"orderId"`
	CustomerID string             `json:"customerId"`
	Status     domain.OrderStatus `json:"status"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// EventPublisher emits domain events for out-of-scope consumers such as the
// notification service. Publication failures are logged, never fatal.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, message StockEventMessage) (string, error)
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}
