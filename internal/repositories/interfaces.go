package repositories

import (
	"context"
	"time"

	"github.com/phonemart/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockAdjustRequest describes one bounded stock mutation plus its audit entry.
type StockAdjustRequest struct {
	ProductID string
	Delta     int
	Reason    string
	ActorID   string
	Now       time.Time
}

// StockAdjustResult returns the post-adjustment record and the appended log entry.
type StockAdjustResult struct {
	Stock domain.StockRecord
	Log   domain.StockAdjustment
}

// StockRepository owns authoritative product quantities and their audit trail.
// Adjust runs as one atomic unit: quantity update, product stock mirror, and
// log append all commit together or not at all.
type StockRepository interface {
	Adjust(ctx context.Context, req StockAdjustRequest) (StockAdjustResult, error)
	Get(ctx context.Context, productID string) (domain.StockRecord, error)
	Put(ctx context.Context, stock domain.StockRecord) error
	ListAdjustments(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.StockAdjustment], error)
}

// DiscountRepository persists single-use discount codes.
type DiscountRepository interface {
	Insert(ctx context.Context, discount domain.Discount) error
	Update(ctx context.Context, discount domain.Discount) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (domain.Discount, error)
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Discount], error)
	ListActive(ctx context.Context, now time.Time, minPercentage float64) ([]domain.Discount, error)
}

// CatalogRepository exposes the read-only product view the engine consumes.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CustomerRepository resolves buying profiles. Loyalty awards are folded into
// the order status transaction by OrderRepository.ApplyStatusUpdate.
type CustomerRepository interface {
	ResolveByUser(ctx context.Context, userID string, now time.Time) (domain.Customer, error)
}

// OrderLineInput carries a priced line into order assembly.
type OrderLineInput struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
}

// OrderAssemblyRequest bundles every durable effect of order creation. The
// repository commits all of it inside a single transaction: stock decrements
// with their audit entries, the discount used flag, the order aggregate, the
// shipping record, and the payment stub.
type OrderAssemblyRequest struct {
	Order      domain.Order
	Shipping   domain.ShippingInfo
	Payment    domain.Payment
	StockLogs  []StockAdjustRequest
	DiscountID string
	Now        time.Time
}

// OrderStatusUpdate captures a lifecycle transition with its side effects so
// they commit atomically with the status change.
type OrderStatusUpdate struct {
	OrderID       string
	Status        domain.OrderStatus
	StockLogs     []StockAdjustRequest
	PaymentStatus *domain.PaymentStatus
	LoyaltyAward  int
	CustomerID    string
	Now           time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID string
	Status     []domain.OrderStatus
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderRepository persists order aggregates and their sub-records.
type OrderRepository interface {
	Assemble(ctx context.Context, req OrderAssemblyRequest) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ApplyStatusUpdate(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	PutShipping(ctx context.Context, shipping domain.ShippingInfo, status domain.OrderStatus, now time.Time) error
	DeleteShipping(ctx context.Context, orderID string, status domain.OrderStatus, now time.Time) error
}

// PaymentRepository persists the per-order payment record.
type PaymentRepository interface {
	FindByOrder(ctx context.Context, orderID string) (domain.Payment, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.PaymentStatus, transactionID string, now time.Time) (domain.Payment, error)
}
