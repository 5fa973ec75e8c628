package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phonemart/api/internal/domain"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
	"github.com/phonemart/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates. Order assembly and lifecycle
// transitions commit every durable effect in one Firestore transaction.
type OrderRepository struct {
	provider  *pfirestore.Provider
	orders    *pfirestore.BaseRepository[orderDocument]
	discounts *pfirestore.BaseRepository[discountDocument]
	customers *pfirestore.BaseRepository[customerDocument]
	payments  *pfirestore.BaseRepository[paymentDocument]
	stocks    *StockRepository
}

// NewOrderRepository constructs a Firestore backed order repository. The stock
// repository is shared so stock mutations fold into order transactions.
func NewOrderRepository(provider *pfirestore.Provider, stocks *StockRepository) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if stocks == nil {
		return nil, errors.New("order repository requires stock repository")
	}
	return &OrderRepository{
		provider:  provider,
		orders:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
		discounts: pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection),
		customers: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection),
		payments:  pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection),
		stocks:    stocks,
	}, nil
}

// Assemble commits the full effect set of order creation atomically: stock
// decrements with their audit entries, the discount used flag, the order
// aggregate, its shipping record, and the payment stub. Any failure rolls the
// whole set back.
func (r *OrderRepository) Assemble(ctx context.Context, req repositories.OrderAssemblyRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.Order.ID) == "" {
		return domain.Order{}, errors.New("order assemble: order id is required")
	}
	if len(req.Order.Lines) == 0 {
		return domain.Order{}, errors.New("order assemble: at least one line is required")
	}

	now := req.Now.UTC()
	var assembled domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Read phase. Firestore rejects any read issued after the first
		// buffered write, so every document the commit depends on is
		// staged before a single write goes out.
		orderRef, err := r.orders.DocumentRef(ctx, req.Order.ID)
		if err != nil {
			return err
		}

		var discount *stagedDiscountConsume
		if discountID := strings.TrimSpace(req.DiscountID); discountID != "" {
			staged, err := r.stageDiscountConsume(ctx, tx, discountID, now)
			if err != nil {
				return err
			}
			discount = &staged
		}

		stockAdjusts := make([]stagedStockAdjust, 0, len(req.StockLogs))
		for _, adjust := range req.StockLogs {
			adjust.Now = now
			staged, err := r.stocks.stageAdjust(ctx, tx, adjust, now)
			if err != nil {
				return err
			}
			stockAdjusts = append(stockAdjusts, staged)
		}

		paymentRef, err := r.payments.DocumentRef(ctx, req.Order.ID)
		if err != nil {
			return err
		}

		// Write phase.
		if discount != nil {
			if err := discount.apply(tx); err != nil {
				return err
			}
		}
		for _, staged := range stockAdjusts {
			if _, err := staged.apply(tx); err != nil {
				return err
			}
		}

		order := req.Order
		order.Status = domain.OrderStatusPending
		order.CreatedAt = now
		order.UpdatedAt = now
		shipping := req.Shipping
		shipping.OrderID = order.ID
		order.Shipping = &shipping
		order.ShippingFee = shipping.Fee

		orderDoc := newOrderDocument(order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorUnknown, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}

		payment := req.Payment
		payment.OrderID = order.ID
		payment.Status = domain.PaymentStatusPending
		payment.CreatedAt = now
		payment.UpdatedAt = now
		if err := tx.Create(paymentRef, newPaymentDocument(payment)); err != nil {
			return err
		}

		assembled = orderDoc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("order.assemble", err)
	}
	return assembled, nil
}

type stagedDiscountConsume struct {
	ref *firestore.DocumentRef
	doc discountDocument
}

func (s stagedDiscountConsume) apply(tx *firestore.Transaction) error {
	return tx.Set(s.ref, s.doc)
}

func (r *OrderRepository) stageDiscountConsume(ctx context.Context, tx *firestore.Transaction, discountID string, now time.Time) (stagedDiscountConsume, error) {
	ref, err := r.discounts.DocumentRef(ctx, discountID)
	if err != nil {
		return stagedDiscountConsume{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stagedDiscountConsume{}, repositories.NewOrderError(repositories.OrderErrorUnknown, fmt.Sprintf("discount %s not found", discountID), err)
		}
		return stagedDiscountConsume{}, err
	}
	var doc discountDocument
	if err := snap.DataTo(&doc); err != nil {
		return stagedDiscountConsume{}, fmt.Errorf("decode discount %s: %w", discountID, err)
	}
	if doc.Used {
		return stagedDiscountConsume{}, repositories.NewOrderError(repositories.OrderErrorDiscountUsed, fmt.Sprintf("discount %s already used", doc.Code), nil)
	}
	doc.Used = true
	doc.UpdatedAt = now
	return stagedDiscountConsume{ref: ref, doc: doc}, nil
}

// FindByID loads one order aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("order.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List pages orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	coll, err := r.orders.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
	}

	query := coll.Query
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query = query.Where("customerId", "==", customerID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.CreatedAt.From != nil {
		query = query.Where("createdAt", ">=", filter.CreatedAt.From.UTC())
	}
	if filter.CreatedAt.To != nil {
		query = query.Where("createdAt", "<=", filter.CreatedAt.To.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// ApplyStatusUpdate commits a lifecycle transition together with its side
// effects: stock movements, the payment status change, and any loyalty award.
func (r *OrderRepository) ApplyStatusUpdate(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(update.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order status update: order id is required")
	}

	now := update.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// Read phase. All reads precede the first buffered write.
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		stockAdjusts := make([]stagedStockAdjust, 0, len(update.StockLogs))
		for _, adjust := range update.StockLogs {
			adjust.Now = now
			staged, err := r.stocks.stageAdjust(ctx, tx, adjust, now)
			if err != nil {
				return err
			}
			stockAdjusts = append(stockAdjusts, staged)
		}

		var payment *stagedPaymentUpdate
		if update.PaymentStatus != nil {
			staged, err := r.stagePaymentUpdate(ctx, tx, orderID, *update.PaymentStatus, "", now)
			if err != nil {
				return err
			}
			payment = &staged
		}

		var loyalty *stagedLoyaltyAward
		if update.LoyaltyAward > 0 && strings.TrimSpace(update.CustomerID) != "" {
			staged, err := r.stageLoyaltyAward(ctx, tx, update.CustomerID, update.LoyaltyAward, now)
			if err != nil {
				return err
			}
			loyalty = &staged
		}

		// Write phase.
		for _, staged := range stockAdjusts {
			if _, err := staged.apply(tx); err != nil {
				return err
			}
		}
		if payment != nil {
			if err := payment.apply(tx); err != nil {
				return err
			}
		}
		if loyalty != nil {
			if err := loyalty.apply(tx); err != nil {
				return err
			}
		}

		doc.Status = string(update.Status)
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("order.applyStatusUpdate", err)
	}
	return updated, nil
}

type stagedPaymentUpdate struct {
	ref *firestore.DocumentRef
	doc paymentDocument
}

func (s stagedPaymentUpdate) apply(tx *firestore.Transaction) error {
	return tx.Set(s.ref, s.doc)
}

func (r *OrderRepository) stagePaymentUpdate(ctx context.Context, tx *firestore.Transaction, orderID string, paymentStatus domain.PaymentStatus, transactionID string, now time.Time) (stagedPaymentUpdate, error) {
	ref, err := r.payments.DocumentRef(ctx, orderID)
	if err != nil {
		return stagedPaymentUpdate{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stagedPaymentUpdate{}, repositories.NewOrderError(repositories.OrderErrorPaymentNotFound, fmt.Sprintf("payment for order %s not found", orderID), err)
		}
		return stagedPaymentUpdate{}, err
	}
	var doc paymentDocument
	if err := snap.DataTo(&doc); err != nil {
		return stagedPaymentUpdate{}, fmt.Errorf("decode payment %s: %w", orderID, err)
	}
	doc.Status = string(paymentStatus)
	if transactionID = strings.TrimSpace(transactionID); transactionID != "" {
		doc.TransactionID = transactionID
	}
	doc.UpdatedAt = now
	return stagedPaymentUpdate{ref: ref, doc: doc}, nil
}

type stagedLoyaltyAward struct {
	ref *firestore.DocumentRef
	doc customerDocument
}

func (s stagedLoyaltyAward) apply(tx *firestore.Transaction) error {
	return tx.Set(s.ref, s.doc)
}

func (r *OrderRepository) stageLoyaltyAward(ctx context.Context, tx *firestore.Transaction, customerID string, points int, now time.Time) (stagedLoyaltyAward, error) {
	ref, err := r.customers.DocumentRef(ctx, customerID)
	if err != nil {
		return stagedLoyaltyAward{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return stagedLoyaltyAward{}, pfirestore.NotFoundError("order.awardLoyalty", fmt.Errorf("customer %s not found", customerID))
		}
		return stagedLoyaltyAward{}, err
	}
	var doc customerDocument
	if err := snap.DataTo(&doc); err != nil {
		return stagedLoyaltyAward{}, fmt.Errorf("decode customer %s: %w", customerID, err)
	}
	doc.LoyaltyPoints += points
	doc.UpdatedAt = now
	return stagedLoyaltyAward{ref: ref, doc: doc}, nil
}

// PutShipping creates or replaces the order's shipping record and moves the
// order to the given status in the same transaction.
func (r *OrderRepository) PutShipping(ctx context.Context, shipping domain.ShippingInfo, orderStatus domain.OrderStatus, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(shipping.OrderID)
	if orderID == "" {
		return errors.New("order put shipping: order id is required")
	}
	now = now.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		shippingDoc := newShippingDocument(shipping)
		doc.Shipping = &shippingDoc
		doc.ShippingFee = shipping.Fee
		doc.Status = string(orderStatus)
		doc.UpdatedAt = now
		return tx.Set(orderRef, doc)
	})
	if err != nil {
		return wrapOrderError("order.putShipping", err)
	}
	return nil
}

// DeleteShipping removes the order's shipping record and moves the order to
// the given status in the same transaction.
func (r *OrderRepository) DeleteShipping(ctx context.Context, orderID string, orderStatus domain.OrderStatus, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order delete shipping: order id is required")
	}
	now = now.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.Shipping == nil {
			return repositories.NewOrderError(repositories.OrderErrorShippingNotFound, fmt.Sprintf("order %s has no shipping record", orderID), nil)
		}

		doc.Shipping = nil
		doc.Status = string(orderStatus)
		doc.UpdatedAt = now
		return tx.Set(orderRef, doc)
	})
	if err != nil {
		return wrapOrderError("order.deleteShipping", err)
	}
	return nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	CustomerID   string              `firestore:"customerId"`
	Status       string              `firestore:"status"`
	Lines        []orderLineDocument `firestore:"lines"`
	Shipping     *shippingDocument   `firestore:"shipping,omitempty"`
	TotalPrice   int64               `firestore:"totalPrice"`
	ShippingFee  int64               `firestore:"shippingFee"`
	DiscountCode string              `firestore:"discountCode,omitempty"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID   string  `firestore:"productId"`
	ProductName string  `firestore:"productName"`
	Quantity    int     `firestore:"qty"`
	UnitPrice   int64   `firestore:"unitPrice"`
	ReviewID    *string `firestore:"reviewId,omitempty"`
}

type shippingDocument struct {
	Carrier           string    `firestore:"carrier"`
	Address           string    `firestore:"address"`
	PhoneNumber       string    `firestore:"phoneNumber"`
	Fee               int64     `firestore:"fee"`
	EstimatedDelivery time.Time `firestore:"estimatedDelivery"`
	TrackingNumber    string    `firestore:"trackingNumber,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = orderLineDocument{
			ProductID:   strings.TrimSpace(line.ProductID),
			ProductName: strings.TrimSpace(line.ProductName),
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ReviewID:    line.ReviewID,
		}
	}
	doc := orderDocument{
		CustomerID:   strings.TrimSpace(order.CustomerID),
		Status:       string(order.Status),
		Lines:        lines,
		TotalPrice:   order.TotalPrice,
		ShippingFee:  order.ShippingFee,
		DiscountCode: strings.TrimSpace(order.DiscountCode),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
	if order.Shipping != nil {
		shipping := newShippingDocument(*order.Shipping)
		doc.Shipping = &shipping
	}
	return doc
}

func newShippingDocument(s domain.ShippingInfo) shippingDocument {
	return shippingDocument{
		Carrier:           string(s.Carrier),
		Address:           strings.TrimSpace(s.Address),
		PhoneNumber:       strings.TrimSpace(s.PhoneNumber),
		Fee:               s.Fee,
		EstimatedDelivery: s.EstimatedDelivery.UTC(),
		TrackingNumber:    strings.TrimSpace(s.TrackingNumber),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	lines := make([]domain.OrderLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ReviewID:    line.ReviewID,
		}
	}
	order := domain.Order{
		ID:           id,
		CustomerID:   d.CustomerID,
		Status:       domain.OrderStatus(d.Status),
		Lines:        lines,
		TotalPrice:   d.TotalPrice,
		ShippingFee:  d.ShippingFee,
		DiscountCode: d.DiscountCode,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.Shipping != nil {
		order.Shipping = &domain.ShippingInfo{
			OrderID:           id,
			Carrier:           domain.Carrier(d.Shipping.Carrier),
			Address:           d.Shipping.Address,
			PhoneNumber:       d.Shipping.PhoneNumber,
			Fee:               d.Shipping.Fee,
			EstimatedDelivery: d.Shipping.EstimatedDelivery,
			TrackingNumber:    d.Shipping.TrackingNumber,
		}
	}
	return order
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
