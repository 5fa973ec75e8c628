package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/phonemart/api/internal/domain"
	"github.com/phonemart/api/internal/repositories"
)

const (
	eventDiscountCreate = "discount.create"
	eventDiscountUpdate = "discount.update"
	eventDiscountDelete = "discount.delete"
	eventDiscountSpin   = "discount.spin"

	discountIDPrefix = "dsc_"
)

var (
	// ErrDiscountInvalidInput signals the caller provided invalid arguments.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountNotFound indicates the code does not exist.
	ErrDiscountNotFound = errors.New("discount: not found")
	// ErrDiscountAlreadyUsed indicates the code was consumed before.
	ErrDiscountAlreadyUsed = errors.New("discount: already used")
	// ErrDiscountOutOfWindow indicates the current time falls outside the validity window.
	ErrDiscountOutOfWindow = errors.New("discount: outside validity window")
	// ErrDiscountBelowMinimum indicates the cart subtotal is below the minimum order value.
	ErrDiscountBelowMinimum = errors.New("discount: subtotal below minimum order value")
	// ErrDiscountConflict indicates a line is already under a catalog promotion.
	ErrDiscountConflict = errors.New("discount: conflicts with catalog promotion")
	// ErrDiscountCodeExists indicates the code string is already registered.
	ErrDiscountCodeExists = errors.New("discount: code already exists")
	// ErrDiscountNoneAvailable indicates the lucky draw has no eligible codes.
	ErrDiscountNoneAvailable = errors.New("discount: no active codes available")
	// ErrDiscountForbidden indicates the actor may not manage discounts.
	ErrDiscountForbidden = errors.New("discount: forbidden")
	// ErrDiscountUnavailable indicates a transient persistence failure.
	ErrDiscountUnavailable = errors.New("discount: storage unavailable")
)

// DiscountServiceDeps bundles the collaborators required to construct a discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.DiscountRepository
	Clock       func() time.Time
	IDGenerator func() string
	// Rand returns a uniform value in [0, n); injected for deterministic draws in tests.
	Rand   func(n int) int
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type discountService struct {
	discounts repositories.DiscountRepository
	clock     func() time.Time
	newID     func() string
	rand      func(int) int
	logger    func(context.Context, string, map[string]any)
}

// NewDiscountService wires dependencies into a concrete DiscountService implementation.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return discountIDPrefix + ulid.Make().String()
		}
	}

	random := deps.Rand
	if random == nil {
		random = rand.Intn
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &discountService{
		discounts: deps.Discounts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		rand:   random,
		logger: logger,
	}, nil
}

// Evaluate validates the code against the cart and prorates the discount
// across lines by unit count. It never flips the used flag.
func (s *discountService) Evaluate(ctx context.Context, code string, lines []DiscountLine) (DiscountEvaluation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return DiscountEvaluation{}, fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	if len(lines) == 0 {
		return DiscountEvaluation{}, fmt.Errorf("%w: at least one line is required", ErrDiscountInvalidInput)
	}
	for i, line := range lines {
		if line.Quantity <= 0 {
			return DiscountEvaluation{}, fmt.Errorf("%w: line %d quantity must be > 0", ErrDiscountInvalidInput, i)
		}
		if line.UnitPrice < 0 {
			return DiscountEvaluation{}, fmt.Errorf("%w: line %d price must be >= 0", ErrDiscountInvalidInput, i)
		}
	}

	discount, err := s.discounts.FindByCode(ctx, code)
	if err != nil {
		return DiscountEvaluation{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if discount.Used {
		return DiscountEvaluation{}, fmt.Errorf("%w: %s", ErrDiscountAlreadyUsed, discount.Code)
	}
	if now.Before(discount.ValidFrom) || now.After(discount.ValidTo) {
		return DiscountEvaluation{}, fmt.Errorf("%w: %s", ErrDiscountOutOfWindow, discount.Code)
	}
	for _, line := range lines {
		if line.PromotionActive {
			return DiscountEvaluation{}, fmt.Errorf("%w: product %s", ErrDiscountConflict, line.ProductID)
		}
	}

	var subtotal int64
	totalUnits := 0
	for _, line := range lines {
		subtotal += line.UnitPrice * int64(line.Quantity)
		totalUnits += line.Quantity
	}
	if subtotal < discount.MinOrderValue {
		return DiscountEvaluation{}, fmt.Errorf("%w: subtotal %d < %d", ErrDiscountBelowMinimum, subtotal, discount.MinOrderValue)
	}

	discountAmount := int64(math.Round(float64(subtotal) * discount.Percentage / 100))

	lineDiscounts := make([]int64, len(lines))
	perUnit := make([]int64, len(lines))
	for i, line := range lines {
		lineDiscount := divHalfUp(discountAmount*int64(line.Quantity), int64(totalUnits))
		deduction := divHalfUp(lineDiscount, int64(line.Quantity))
		if deduction > line.UnitPrice {
			deduction = line.UnitPrice
		}
		lineDiscounts[i] = lineDiscount
		perUnit[i] = deduction
	}

	return DiscountEvaluation{
		Discount:         discount,
		Subtotal:         subtotal,
		DiscountAmount:   discountAmount,
		PerUnitDeduction: perUnit,
		LineDiscounts:    lineDiscounts,
		FinalTotal:       subtotal - discountAmount,
	}, nil
}

func (s *discountService) Create(ctx context.Context, actor Actor, cmd DiscountCreateCommand) (domain.Discount, error) {
	if !actor.IsStaff() {
		return domain.Discount{}, fmt.Errorf("%w: actor %s", ErrDiscountForbidden, actor.UserID)
	}
	if err := validateDiscountFields(cmd.Code, cmd.Percentage, cmd.ValidFrom, cmd.ValidTo, cmd.MinOrderValue); err != nil {
		return domain.Discount{}, err
	}

	code := strings.TrimSpace(cmd.Code)
	if _, err := s.discounts.FindByCode(ctx, code); err == nil {
		return domain.Discount{}, fmt.Errorf("%w: %s", ErrDiscountCodeExists, code)
	} else if !isNotFound(err) {
		return domain.Discount{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	discount := domain.Discount{
		ID:                s.newID(),
		Code:              code,
		Percentage:        cmd.Percentage,
		ValidFrom:         cmd.ValidFrom.UTC(),
		ValidTo:           cmd.ValidTo.UTC(),
		MinOrderValue:     cmd.MinOrderValue,
		ProbabilityWeight: cmd.ProbabilityWeight,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.discounts.Insert(ctx, discount); err != nil {
		return domain.Discount{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventDiscountCreate, map[string]any{
		"discount_id": discount.ID,
		"code":        discount.Code,
		"percentage":  discount.Percentage,
	})
	return discount, nil
}

func (s *discountService) Update(ctx context.Context, actor Actor, cmd DiscountUpdateCommand) (domain.Discount, error) {
	if !actor.IsStaff() {
		return domain.Discount{}, fmt.Errorf("%w: actor %s", ErrDiscountForbidden, actor.UserID)
	}
	if strings.TrimSpace(cmd.ID) == "" {
		return domain.Discount{}, fmt.Errorf("%w: id is required", ErrDiscountInvalidInput)
	}
	if err := validateDiscountFields(cmd.Code, cmd.Percentage, cmd.ValidFrom, cmd.ValidTo, cmd.MinOrderValue); err != nil {
		return domain.Discount{}, err
	}

	existing, err := s.discounts.FindByID(ctx, strings.TrimSpace(cmd.ID))
	if err != nil {
		return domain.Discount{}, s.mapRepositoryError(err)
	}

	// The uniqueness check is by code; the used flag and creation time come
	// from the record itself so a code rename cannot re-arm a consumed code.
	code := strings.TrimSpace(cmd.Code)
	if other, err := s.discounts.FindByCode(ctx, code); err == nil && other.ID != existing.ID {
		return domain.Discount{}, fmt.Errorf("%w: %s", ErrDiscountCodeExists, code)
	} else if err != nil && !isNotFound(err) {
		return domain.Discount{}, s.mapRepositoryError(err)
	}

	discount := domain.Discount{
		ID:                existing.ID,
		Code:              code,
		Percentage:        cmd.Percentage,
		ValidFrom:         cmd.ValidFrom.UTC(),
		ValidTo:           cmd.ValidTo.UTC(),
		MinOrderValue:     cmd.MinOrderValue,
		ProbabilityWeight: cmd.ProbabilityWeight,
		Used:              existing.Used,
		CreatedAt:         existing.CreatedAt,
		UpdatedAt:         s.clock(),
	}
	if err := s.discounts.Update(ctx, discount); err != nil {
		return domain.Discount{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, eventDiscountUpdate, map[string]any{
		"discount_id": discount.ID,
		"code":        discount.Code,
	})
	return discount, nil
}

func (s *discountService) Delete(ctx context.Context, actor Actor, id string) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: actor %s", ErrDiscountForbidden, actor.UserID)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrDiscountInvalidInput)
	}
	if err := s.discounts.Delete(ctx, id); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, eventDiscountDelete, map[string]any{"discount_id": id})
	return nil
}

func (s *discountService) List(ctx context.Context, actor Actor, pager domain.Pagination) (domain.CursorPage[domain.Discount], error) {
	if !actor.IsStaff() {
		return domain.CursorPage[domain.Discount]{}, fmt.Errorf("%w: actor %s", ErrDiscountForbidden, actor.UserID)
	}
	page, err := s.discounts.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[domain.Discount]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// SpinRandom picks one unused in-window code weighted by probability weight.
func (s *discountService) SpinRandom(ctx context.Context) (domain.Discount, error) {
	active, err := s.discounts.ListActive(ctx, s.clock(), 0)
	if err != nil {
		return domain.Discount{}, s.mapRepositoryError(err)
	}
	if len(active) == 0 {
		return domain.Discount{}, ErrDiscountNoneAvailable
	}

	totalWeight := 0
	for _, discount := range active {
		if discount.ProbabilityWeight > 0 {
			totalWeight += discount.ProbabilityWeight
		}
	}
	if totalWeight == 0 {
		picked := active[s.rand(len(active))]
		s.logger(ctx, eventDiscountSpin, map[string]any{"code": picked.Code})
		return picked, nil
	}

	roll := s.rand(totalWeight)
	for _, discount := range active {
		if discount.ProbabilityWeight <= 0 {
			continue
		}
		roll -= discount.ProbabilityWeight
		if roll < 0 {
			s.logger(ctx, eventDiscountSpin, map[string]any{"code": discount.Code})
			return discount, nil
		}
	}
	return active[len(active)-1], nil
}

func (s *discountService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorDiscountUsed {
		return fmt.Errorf("%w: %s", ErrDiscountAlreadyUsed, orderErr.Message)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDiscountNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDiscountCodeExists, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDiscountUnavailable, err)
		}
	}
	return err
}

func validateDiscountFields(code string, percentage float64, validFrom, validTo time.Time, minOrderValue int64) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", ErrDiscountInvalidInput)
	}
	if percentage <= 0 || percentage > 100 {
		return fmt.Errorf("%w: percentage must be in (0, 100]", ErrDiscountInvalidInput)
	}
	if validFrom.IsZero() || validTo.IsZero() || validTo.Before(validFrom) {
		return fmt.Errorf("%w: validity window is malformed", ErrDiscountInvalidInput)
	}
	if minOrderValue < 0 {
		return fmt.Errorf("%w: minimum order value must be >= 0", ErrDiscountInvalidInput)
	}
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// divHalfUp divides non-negative integers rounding half up.
func divHalfUp(numerator, denominator int64) int64 {
	if denominator <= 0 {
		return 0
	}
	return (numerator + denominator/2) / denominator
}
