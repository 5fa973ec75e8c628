package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

const (
	eventShippingCreate = "shipping.create"
	eventShippingUpdate = "shipping.update"
	eventShippingDelete = "shipping.delete"
)

var (
	// ErrShippingInvalidInput signals the caller provided invalid arguments.
	ErrShippingInvalidInput = errors.New("shipping: invalid input")
	// ErrShippingInvalidCarrier indicates the carrier is not in the supported set.
	ErrShippingInvalidCarrier = errors.New("shipping: unknown carrier")
	// ErrShippingNotFound indicates the order has no shipping record.
	ErrShippingNotFound = errors.New("shipping: not found")
	// ErrShippingExists indicates the order already carries a shipping record.
	ErrShippingExists = errors.New("shipping: record already exists")
	// ErrShippingOrderNotFound indicates the referenced order is missing.
	ErrShippingOrderNotFound = errors.New("shipping: order not found")
	// ErrShippingForbidden indicates the actor may not manage shipping records.
	ErrShippingForbidden = errors.New("shipping: forbidden")
	// ErrShippingUnavailable indicates a transient persistence failure.
	ErrShippingUnavailable = errors.New("shipping: storage unavailable")
)

// FeeEntry is one cell of the tier and carrier fee table.
type FeeEntry struct {
	Fee      int64
	LeadDays int
}

// FeeTable maps region tier and carrier to a flat fee and lead time. Loaded
// once at startup and never mutated.
type FeeTable map[domain.RegionTier]map[domain.Carrier]FeeEntry

// DefaultFeeTable returns the standard nine-cell fee table in VND.
func DefaultFeeTable() FeeTable {
	return FeeTable{
		domain.RegionUrban: {
			domain.CarrierGHN:    {Fee: 25000, LeadDays: 1},
			domain.CarrierGHTK:   {Fee: 20000, LeadDays: 1},
			domain.CarrierVNPost: {Fee: 30000, LeadDays: 1},
		},
		domain.RegionSuburban: {
			domain.CarrierGHN:    {Fee: 35000, LeadDays: 2},
			domain.CarrierGHTK:   {Fee: 30000, LeadDays: 2},
			domain.CarrierVNPost: {Fee: 40000, LeadDays: 2},
		},
		domain.RegionRemote: {
			domain.CarrierGHN:    {Fee: 50000, LeadDays: 4},
			domain.CarrierGHTK:   {Fee: 45000, LeadDays: 4},
			domain.CarrierVNPost: {Fee: 55000, LeadDays: 4},
		},
	}
}

// KeywordRegionClassifier is the default RegionClassifier: it folds Vietnamese
// diacritics, lowercases, and substring-matches tier keywords. Heuristic by
// design; swap in a geocoding classifier without touching the estimator.
type KeywordRegionClassifier struct{}

var diacriticFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var (
	urbanKeywords    = []string{"ha noi", "hanoi", "tp.hcm", "tp hcm", "ho chi minh", "sai gon", "da nang"}
	suburbanKeywords = []string{"huyen", "thi xa", "thi tran"}
)

// Classify buckets the address into URBAN, SUBURBAN, or REMOTE.
func (KeywordRegionClassifier) Classify(address string) domain.RegionTier {
	normalized := normalizeAddress(address)
	for _, keyword := range urbanKeywords {
		if strings.Contains(normalized, keyword) {
			return domain.RegionUrban
		}
	}
	for _, keyword := range suburbanKeywords {
		if strings.Contains(normalized, keyword) {
			return domain.RegionSuburban
		}
	}
	return domain.RegionRemote
}

func normalizeAddress(address string) string {
	folded, _, err := transform.String(diacriticFold, address)
	if err != nil {
		folded = address
	}
	// NFD does not decompose the Vietnamese d-with-stroke.
	folded = strings.ReplaceAll(folded, "đ", "d")
	folded = strings.ReplaceAll(folded, "Đ", "D")
	return strings.ToLower(strings.TrimSpace(folded))
}

// ShippingServiceDeps bundles the collaborators required to construct a shipping service.
type ShippingServiceDeps struct {
	Orders     repositories.OrderRepository
	Classifier RegionClassifier
	Fees       FeeTable
	Events     EventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	orders     repositories.OrderRepository
	classifier RegionClassifier
	fees       FeeTable
	events     EventPublisher
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewShippingService wires dependencies into a concrete ShippingService implementation.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipping service: order repository is required")
	}

	classifier := deps.Classifier
	if classifier == nil {
		classifier = KeywordRegionClassifier{}
	}

	fees := deps.Fees
	if fees == nil {
		fees = DefaultFeeTable()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shippingService{
		orders:     deps.Orders,
		classifier: classifier,
		fees:       fees,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Estimate is a pure lookup: region tier from the address, fee and lead time
// from the static table.
func (s *shippingService) Estimate(ctx context.Context, address string, carrier domain.Carrier) (domain.ShippingEstimate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.ShippingEstimate{}, fmt.Errorf("%w: address is required", ErrShippingInvalidInput)
	}
	carrier, err := ResolveCarrier(string(carrier))
	if err != nil {
		return domain.ShippingEstimate{}, err
	}

	region := s.classifier.Classify(address)
	entry, ok := s.fees[region][carrier]
	if !ok {
		return domain.ShippingEstimate{}, fmt.Errorf("%w: no fee for %s/%s", ErrShippingInvalidCarrier, region, carrier)
	}

	now := s.clock()
	return domain.ShippingEstimate{
		Carrier:           carrier,
		Region:            region,
		Fee:               entry.Fee,
		LeadDays:          entry.LeadDays,
		EstimatedDelivery: now.AddDate(0, 0, entry.LeadDays),
	}, nil
}

// Create attaches a shipping record to an order and forces it to SHIPPED.
func (s *shippingService) Create(ctx context.Context, actor Actor, cmd ShippingCreateCommand) (domain.ShippingInfo, error) {
	if !actor.IsStaff() {
		return domain.ShippingInfo{}, fmt.Errorf("%w: actor %s", ErrShippingForbidden, actor.UserID)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order id is required", ErrShippingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.ShippingInfo{}, s.mapRepositoryError(err)
	}
	if order.Shipping != nil {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order %s", ErrShippingExists, orderID)
	}

	estimate, err := s.Estimate(ctx, cmd.Address, cmd.Carrier)
	if err != nil {
		return domain.ShippingInfo{}, err
	}

	now := s.clock()
	shipping := domain.ShippingInfo{
		OrderID:           orderID,
		Carrier:           estimate.Carrier,
		Address:           strings.TrimSpace(cmd.Address),
		PhoneNumber:       strings.TrimSpace(cmd.PhoneNumber),
		Fee:               estimate.Fee,
		EstimatedDelivery: estimate.EstimatedDelivery,
	}
	if err := s.orders.PutShipping(ctx, shipping, domain.OrderStatusShipped, now); err != nil {
		return domain.ShippingInfo{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventShippingCreate, map[string]any{
		"order_id": orderID,
		"carrier":  string(shipping.Carrier),
		"fee":      shipping.Fee,
	})
	s.publishOrderEvent(ctx, order.CustomerID, orderID, domain.OrderStatusShipped, now)
	return shipping, nil
}

// Update edits carrier, tracking number, or ETA on an existing record.
func (s *shippingService) Update(ctx context.Context, actor Actor, cmd ShippingUpdateCommand) (domain.ShippingInfo, error) {
	if !actor.IsStaff() {
		return domain.ShippingInfo{}, fmt.Errorf("%w: actor %s", ErrShippingForbidden, actor.UserID)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order id is required", ErrShippingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.ShippingInfo{}, s.mapRepositoryError(err)
	}
	if order.Shipping == nil {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order %s", ErrShippingNotFound, orderID)
	}

	shipping := *order.Shipping
	if cmd.Carrier != "" {
		carrier, err := ResolveCarrier(string(cmd.Carrier))
		if err != nil {
			return domain.ShippingInfo{}, err
		}
		shipping.Carrier = carrier
	}
	if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
		shipping.TrackingNumber = tracking
	}
	if cmd.EstimatedDelivery != nil {
		shipping.EstimatedDelivery = cmd.EstimatedDelivery.UTC()
	}

	if err := s.orders.PutShipping(ctx, shipping, order.Status, s.clock()); err != nil {
		return domain.ShippingInfo{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventShippingUpdate, map[string]any{
		"order_id": orderID,
		"carrier":  string(shipping.Carrier),
	})
	return shipping, nil
}

// Delete removes the shipping record and forces the order to CANCELLED.
func (s *shippingService) Delete(ctx context.Context, actor Actor, orderID string) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: actor %s", ErrShippingForbidden, actor.UserID)
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrShippingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	now := s.clock()
	if err := s.orders.DeleteShipping(ctx, orderID, domain.OrderStatusCancelled, now); err != nil {
		return s.mapRepositoryError(err)
	}

	s.logger(ctx, eventShippingDelete, map[string]any{"order_id": orderID})
	s.publishOrderEvent(ctx, order.CustomerID, orderID, domain.OrderStatusCancelled, now)
	return nil
}

func (s *shippingService) GetByOrder(ctx context.Context, actor Actor, orderID string) (domain.ShippingInfo, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order id is required", ErrShippingInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.ShippingInfo{}, s.mapRepositoryError(err)
	}
	if !actor.IsStaff() && order.CustomerID != actor.UserID {
		return domain.ShippingInfo{}, fmt.Errorf("%w: actor %s", ErrShippingForbidden, actor.UserID)
	}
	if order.Shipping == nil {
		return domain.ShippingInfo{}, fmt.Errorf("%w: order %s", ErrShippingNotFound, orderID)
	}
	return *order.Shipping, nil
}

func (s *shippingService) publishOrderEvent(ctx context.Context, customerID, orderID string, next domain.OrderStatus, now time.Time) {
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
		s.logger(ctx, eventShippingUpdate, map[string]any{
			"order_id": orderID,
			"publish":  err.Error(),
		})
	}
}

func (s *shippingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrShippingOrderNotFound, orderErr.Message)
		case repositories.OrderErrorShippingNotFound:
			return fmt.Errorf("%w: %s", ErrShippingNotFound, orderErr.Message)
		case repositories.OrderErrorShippingExists:
			return fmt.Errorf("%w: %s", ErrShippingExists, orderErr.Message)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrShippingOrderNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrShippingUnavailable, err)
		}
	}
	return err
}

// ResolveCarrier normalizes a carrier string against the supported set.
func ResolveCarrier(raw string) (domain.Carrier, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.CarrierGHN):
		return domain.CarrierGHN, nil
	case string(domain.CarrierGHTK):
		return domain.CarrierGHTK, nil
	case string(domain.CarrierVNPost):
		return domain.CarrierVNPost, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrShippingInvalidCarrier, raw)
	}
}
