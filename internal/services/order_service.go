package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

const (
	eventOrderCreate = "order.create"
	eventOrderCancel = "order.cancel"
	eventOrderStatus = "order.status"

	reasonOrderCreate   = "order-create"
	reasonOrderCancel   = "order-cancel"
	reasonOrderComplete = "order-complete"

	orderIDPrefix   = "ord_"
	paymentIDPrefix = "pay_"

	defaultLoyaltyAward = 1000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid arguments.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderOutOfStock indicates a line requested more units than available.
	ErrOrderOutOfStock = errors.New("order: product out of stock")
	// ErrOrderConflictingPromotion indicates a code discount met a catalog promotion.
	ErrOrderConflictingPromotion = errors.New("order: discount conflicts with catalog promotion")
	// ErrOrderInvalidPaymentMethod indicates an unrecognized payment method.
	ErrOrderInvalidPaymentMethod = errors.New("order: invalid payment method")
	// ErrOrderInvalidState indicates an illegal lifecycle transition.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderForbidden indicates the actor may not act on this order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderUnavailable indicates a transient persistence failure.
	ErrOrderUnavailable = errors.New("order: storage unavailable")
)

// orderTransitions is the lifecycle state machine. SHIPPED to CANCELLED only
// happens through shipping deletion, never through a status update.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:   {domain.OrderStatusCompleted},
	domain.OrderStatusCompleted: {},
	domain.OrderStatusCancelled: {},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Stocks    repositories.StockRepository
	Catalog   repositories.CatalogRepository
	Customers repositories.CustomerRepository
	Payments  repositories.PaymentRepository
	Discounts DiscountService
	Shipping  ShippingService
	Events    EventPublisher
	// LoyaltyAward is the points granted on completion; defaults to 1000.
	LoyaltyAward int
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	stocks    repositories.StockRepository
	catalog   repositories.CatalogRepository
	customers repositories.CustomerRepository
	payments  repositories.PaymentRepository
	discounts DiscountService
	shipping  ShippingService
	events    EventPublisher
	loyalty   int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Stocks == nil {
		return nil, errors.New("order service: stock repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("order service: payment repository is required")
	}
	if deps.Discounts == nil {
		return nil, errors.New("order service: discount service is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("order service: shipping service is required")
	}

	loyalty := deps.LoyaltyAward
	if loyalty <= 0 {
		loyalty = defaultLoyaltyAward
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		stocks:    deps.Stocks,
		catalog:   deps.Catalog,
		customers: deps.Customers,
		payments:  deps.Payments,
		discounts: deps.Discounts,
		shipping:  deps.Shipping,
		events:    deps.Events,
		loyalty:   loyalty,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create assembles a priced order from the cart submission. Every durable
// effect commits in one repository transaction; any failure leaves nothing
// behind.
func (s *orderService) Create(ctx context.Context, actor Actor, cmd OrderCreateCommand) (domain.Order, error) {
	if err := validateCreateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	method, err := ResolvePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock()
	discountCode := strings.TrimSpace(cmd.DiscountCode)

	customer, err := s.customers.ResolveByUser(ctx, actor.UserID, now)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	lines := make([]domain.OrderLine, 0, len(cmd.Lines))
	discountLines := make([]DiscountLine, 0, len(cmd.Lines))
	for _, req := range cmd.Lines {
		product, err := s.catalog.FindProduct(ctx, req.ProductID)
		if err != nil {
			return domain.Order{}, s.mapRepositoryError(err)
		}
		stock, err := s.stocks.Get(ctx, product.ID)
		if err != nil {
			return domain.Order{}, s.mapRepositoryError(err)
		}
		if req.Quantity > stock.Quantity {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderOutOfStock, product.Name)
		}

		promotionActive := product.PromotionActiveAt(now)
		if promotionActive && discountCode != "" {
			return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderConflictingPromotion, product.Name)
		}

		lines = append(lines, domain.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			UnitPrice:   product.CurrentPrice(now),
		})
		discountLines = append(discountLines, DiscountLine{
			ProductID:       product.ID,
			Quantity:        req.Quantity,
			UnitPrice:       product.SellingPrice,
			PromotionActive: promotionActive,
		})
	}

	var subtotal int64
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	var discountAmount int64
	var discountID string
	if discountCode != "" {
		eval, err := s.discounts.Evaluate(ctx, discountCode, discountLines)
		if err != nil {
			return domain.Order{}, err
		}
		for i := range lines {
			lines[i].UnitPrice -= eval.PerUnitDeduction[i]
			if lines[i].UnitPrice < 0 {
				lines[i].UnitPrice = 0
			}
		}
		discountAmount = eval.DiscountAmount
		discountID = eval.Discount.ID
	}

	estimate, err := s.shipping.Estimate(ctx, cmd.Address, cmd.Carrier)
	if err != nil {
		return domain.Order{}, err
	}

	orderID := orderIDPrefix + s.newID()
	order := domain.Order{
		ID:           orderID,
		CustomerID:   customer.ID,
		Status:       domain.OrderStatusPending,
		Lines:        lines,
		TotalPrice:   subtotal - discountAmount + estimate.Fee,
		ShippingFee:  estimate.Fee,
		DiscountCode: discountCode,
	}
	shipping := domain.ShippingInfo{
		OrderID:           orderID,
		Carrier:           estimate.Carrier,
		Address:           strings.TrimSpace(cmd.Address),
		PhoneNumber:       strings.TrimSpace(cmd.PhoneNumber),
		Fee:               estimate.Fee,
		EstimatedDelivery: estimate.EstimatedDelivery,
	}
	payment := domain.Payment{
		ID:      paymentIDPrefix + s.newID(),
		OrderID: orderID,
		Method:  method,
		Status:  domain.PaymentStatusPending,
	}

	stockLogs := make([]repositories.StockAdjustRequest, len(lines))
	for i, line := range lines {
		stockLogs[i] = repositories.StockAdjustRequest{
			ProductID: line.ProductID,
			Delta:     -line.Quantity,
			Reason:    reasonOrderCreate,
			ActorID:   actor.UserID,
			Now:       now,
		}
	}

	assembled, err := s.orders.Assemble(ctx, repositories.OrderAssemblyRequest{
		Order:      order,
		Shipping:   shipping,
		Payment:    payment,
		StockLogs:  stockLogs,
		DiscountID: discountID,
		Now:        now,
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventOrderCreate, map[string]any{
		"order_id":    assembled.ID,
		"customer_id": assembled.CustomerID,
		"total":       assembled.TotalPrice,
		"lines":       len(assembled.Lines),
	})
	s.publishOrderEvent(ctx, assembled.CustomerID, assembled.ID, assembled.Status, now)
	return assembled, nil
}

func (s *orderService) Get(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !actor.IsStaff() && order.CustomerID != actor.UserID {
		return domain.Order{}, fmt.Errorf("%w: actor %s", ErrOrderForbidden, actor.UserID)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, actor Actor, cmd OrderListCommand) (domain.CursorPage[domain.Order], error) {
	filter := repositories.OrderListFilter{
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		Status:     cmd.Status,
		Pagination: cmd.Pagination,
	}
	// Customers only ever see their own orders.
	if !actor.IsStaff() {
		filter.CustomerID = actor.UserID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// Cancel reverses a PENDING order: full restock per line, payment CANCELLED,
// order CANCELLED, all in one transaction.
func (s *orderService) Cancel(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !actor.IsStaff() && order.CustomerID != actor.UserID {
		return domain.Order{}, fmt.Errorf("%w: actor %s", ErrOrderForbidden, actor.UserID)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: cannot cancel order in %s", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	updated, err := s.orders.ApplyStatusUpdate(ctx, s.cancelUpdate(order, actor, now))
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventOrderCancel, map[string]any{
		"order_id": orderID,
		"actor_id": actor.UserID,
	})
	s.publishOrderEvent(ctx, updated.CustomerID, updated.ID, updated.Status, now)
	return updated, nil
}

func (s *orderService) cancelUpdate(order domain.Order, actor Actor, now time.Time) repositories.OrderStatusUpdate {
	restocks := make([]repositories.StockAdjustRequest, len(order.Lines))
	for i, line := range order.Lines {
		restocks[i] = repositories.StockAdjustRequest{
			ProductID: line.ProductID,
			Delta:     line.Quantity,
			Reason:    reasonOrderCancel,
			ActorID:   actor.UserID,
			Now:       now,
		}
	}
	cancelled := domain.PaymentStatusCancelled
	return repositories.OrderStatusUpdate{
		OrderID:       order.ID,
		Status:        domain.OrderStatusCancelled,
		StockLogs:     restocks,
		PaymentStatus: &cancelled,
		Now:           now,
	}
}

// Confirm moves a PENDING order to CONFIRMED. Staff only.
func (s *orderService) Confirm(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	return s.UpdateStatus(ctx, actor, orderID, domain.OrderStatusConfirmed)
}

// UpdateStatus applies a lifecycle transition with its side effects. Staff
// only. Transitioning into COMPLETED decrements stock a second time per line,
// awards loyalty points, and marks a COD payment PAID; the transition table
// forbids re-entering COMPLETED, which is what guards the award against
// double-firing.
func (s *orderService) UpdateStatus(ctx context.Context, actor Actor, orderID string, next domain.OrderStatus) (domain.Order, error) {
	if !actor.IsStaff() {
		return domain.Order{}, fmt.Errorf("%w: actor %s", ErrOrderForbidden, actor.UserID)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	switch next {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusShipped,
		domain.OrderStatusCompleted, domain.OrderStatusCancelled:
	default:
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, next)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !transitionAllowed(order.Status, next) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, next)
	}

	now := s.clock()
	var update repositories.OrderStatusUpdate
	switch next {
	case domain.OrderStatusCancelled:
		update = s.cancelUpdate(order, actor, now)
	case domain.OrderStatusCompleted:
		update, err = s.completeUpdate(ctx, order, actor, now)
		if err != nil {
			return domain.Order{}, err
		}
	default:
		update = repositories.OrderStatusUpdate{
			OrderID: order.ID,
			Status:  next,
			Now:     now,
		}
	}

	updated, err := s.orders.ApplyStatusUpdate(ctx, update)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventOrderStatus, map[string]any{
		"order_id": orderID,
		"from":     string(order.Status),
		"to":       string(next),
		"actor_id": actor.UserID,
	})
	s.publishOrderEvent(ctx, updated.CustomerID, updated.ID, updated.Status, now)
	return updated, nil
}

func (s *orderService) completeUpdate(ctx context.Context, order domain.Order, actor Actor, now time.Time) (repositories.OrderStatusUpdate, error) {
	decrements := make([]repositories.StockAdjustRequest, len(order.Lines))
	for i, line := range order.Lines {
		decrements[i] = repositories.StockAdjustRequest{
			ProductID: line.ProductID,
			Delta:     -line.Quantity,
			Reason:    reasonOrderComplete,
			ActorID:   actor.UserID,
			Now:       now,
		}
	}

	update := repositories.OrderStatusUpdate{
		OrderID:      order.ID,
		Status:       domain.OrderStatusCompleted,
		StockLogs:    decrements,
		LoyaltyAward: s.loyalty,
		CustomerID:   order.CustomerID,
		Now:          now,
	}

	payment, err := s.payments.FindByOrder(ctx, order.ID)
	if err != nil {
		return repositories.OrderStatusUpdate{}, s.mapRepositoryError(err)
	}
	if payment.Method == domain.PaymentMethodCOD {
		paid := domain.PaymentStatusPaid
		update.PaymentStatus = &paid
	}
	return update, nil
}

func (s *orderService) publishOrderEvent(ctx context.Context, customerID, orderID string, next domain.OrderStatus, now time.Time) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     next,
		OccurredAt: now,
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, eventOrderStatus, map[string]any{
			"order_id": orderID,
			"publish":  err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorDiscountUsed:
			return fmt.Errorf("%w: %s", ErrDiscountAlreadyUsed, orderErr.Message)
		case repositories.OrderErrorPaymentNotFound:
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, orderErr.Message)
		}
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, stockErr.Message)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrOrderOutOfStock, stockErr.Message)
		case repositories.StockErrorExceedsMaximum:
			return fmt.Errorf("%w: %s", ErrOrderInvalidState, stockErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func validateCreateCommand(cmd OrderCreateCommand) error {
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: line %d product id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be > 0", ErrOrderInvalidInput, i)
		}
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PhoneNumber) == "" {
		return fmt.Errorf("%w: phone number is required", ErrOrderInvalidInput)
	}
	return nil
}

// ResolvePaymentMethod normalizes the requested method, defaulting to cash on
// delivery when omitted.
func ResolvePaymentMethod(raw string) (domain.PaymentMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return domain.PaymentMethodCOD, nil
	case string(domain.PaymentMethodCOD):
		return domain.PaymentMethodCOD, nil
	case string(domain.PaymentMethodVNPay):
		return domain.PaymentMethodVNPay, nil
	case string(domain.PaymentMethodMomo):
		return domain.PaymentMethodMomo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrOrderInvalidPaymentMethod, raw)
	}
}
