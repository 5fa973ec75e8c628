package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Role constants attached to authenticated principals.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending marks a freshly assembled order waiting for confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed marks an order accepted by staff.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusShipped marks an order handed to a carrier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusCompleted marks a delivered order; terminal.
	OrderStatusCompleted OrderStatus = "COMPLETED"
	// OrderStatusCancelled marks a cancelled order; terminal.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// PaymentMethod enumerates the supported checkout methods.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
	// PaymentMethodVNPay is the hosted VNPay redirect gateway.
	PaymentMethodVNPay PaymentMethod = "VNPAY"
	// PaymentMethodMomo is the hosted Momo redirect gateway.
	PaymentMethodMomo PaymentMethod = "MOMO"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "PENDING"
	PaymentStatusProcessing       PaymentStatus = "PROCESSING"
	PaymentStatusPaid             PaymentStatus = "PAID"
	PaymentStatusAwaitingDelivery PaymentStatus = "AWAITING_DELIVERY"
	PaymentStatusFailed           PaymentStatus = "FAILED"
	PaymentStatusCancelled        PaymentStatus = "CANCELLED"
)

// Carrier identifies a shipping carrier from the fixed supported set.
type Carrier string

const (
	CarrierGHN    Carrier = "GHN"
	CarrierGHTK   Carrier = "GHTK"
	CarrierVNPost Carrier = "VNPOST"
)

// RegionTier buckets delivery addresses for flat-fee shipping lookups.
type RegionTier string

const (
	RegionUrban    RegionTier = "URBAN"
	RegionSuburban RegionTier = "SUBURBAN"
	RegionRemote   RegionTier = "REMOTE"
)

// Product is the catalog view the fulfillment engine consumes. Prices are
// integer VND. A product is under a catalog promotion when DiscountedPrice is
// set and now falls inside [DiscountStartsAt, DiscountEndsAt].
type Product struct {
	ID               string
	Name             string
	CategoryID       string
	SellingPrice     int64
	DiscountedPrice  *int64
	DiscountStartsAt *time.Time
	DiscountEndsAt   *time.Time
	Stock            int
}

// PromotionActiveAt reports whether the product's own catalog discount window
// covers the given instant.
func (p Product) PromotionActiveAt(now time.Time) bool {
	if p.DiscountedPrice == nil || p.DiscountStartsAt == nil || p.DiscountEndsAt == nil {
		return false
	}
	return !now.Before(*p.DiscountStartsAt) && !now.After(*p.DiscountEndsAt)
}

// CurrentPrice resolves the effective unit price at the given instant: the
// catalog discounted price inside the promotion window, the standard selling
// price otherwise.
func (p Product) CurrentPrice(now time.Time) int64 {
	if p.PromotionActiveAt(now) {
		return *p.DiscountedPrice
	}
	return p.SellingPrice
}

// StockRecord holds the authoritative per-product quantity with its bounds.
type StockRecord struct {
	ProductID   string
	Quantity    int
	MaxQuantity int
	MinQuantity int
	UpdatedAt   time.Time
}

// StockAdjustment is one immutable audit-log entry appended per successful
// stock change. Never mutated or deleted.
type StockAdjustment struct {
	ID          string
	ProductID   string
	OldQuantity int
	NewQuantity int
	Reason      string
	ActorID     string
	OccurredAt  time.Time
}

// Delta returns the signed quantity change of the adjustment.
func (a StockAdjustment) Delta() int {
	return a.NewQuantity - a.OldQuantity
}

// Discount is a single-use percentage code with a validity window. The
// probability weight only matters for the promotional lucky draw.
type Discount struct {
	ID                string
	Code              string
	Percentage        float64
	ValidFrom         time.Time
	ValidTo           time.Time
	MinOrderValue     int64
	ProbabilityWeight int
	Used              bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Customer is the buying profile attached to a user account.
type Customer struct {
	ID            string
	UserID        string
	LoyaltyPoints int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderLine is one product/quantity entry of an order. UnitPrice already
// carries the line's share of any code discount; it is immutable after order
// creation except for the review back-reference.
type OrderLine struct {
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	ReviewID    *string
}

// ShippingInfo is the one-to-one shipping sub-record of an order.
type ShippingInfo struct {
	OrderID           string
	Carrier           Carrier
	Address           string
	PhoneNumber       string
	Fee               int64
	EstimatedDelivery time.Time
	TrackingNumber    string
}

// Payment is the one-to-one payment record of an order. The engine only ever
// writes its method and status; gateway URL construction happens elsewhere.
type Payment struct {
	ID            string
	OrderID       string
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Order is the aggregate produced by order assembly.
//
// Invariant at creation: TotalPrice == sum(line.UnitPrice*line.Quantity)
// - discount + ShippingFee, where the discount is already folded into the
// line prices by proration, so the sum alone plus the fee reconciles.
type Order struct {
	ID           string
	CustomerID   string
	Status       OrderStatus
	Lines        []OrderLine
	Shipping     *ShippingInfo
	TotalPrice   int64
	ShippingFee  int64
	DiscountCode string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subtotal returns the sum of line prices times quantities.
func (o Order) Subtotal() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.UnitPrice * int64(line.Quantity)
	}
	return total
}

// ShippingEstimate is the fee and delivery window computed for an address and
// carrier pair.
type ShippingEstimate struct {
	Carrier           Carrier
	Region            RegionTier
	Fee               int64
	LeadDays          int
	EstimatedDelivery time.Time
}
