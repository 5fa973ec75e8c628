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

	"github.com/phonemart/api/internal/domain"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
	"github.com/phonemart/api/internal/repositories"
)

const discountsCollection = "discounts"

// DiscountRepository persists single-use discount codes in Firestore.
type DiscountRepository struct {
	provider  *pfirestore.Provider
	discounts *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		provider:  provider,
		discounts: pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection),
	}, nil
}

// Insert creates a new discount, failing when the ID already exists.
func (r *DiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.discounts == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount insert: id is required")
	}
	if err := r.discounts.Create(ctx, discount.ID, newDiscountDocument(discount)); err != nil {
		return wrapDiscountError("discount.insert", err)
	}
	return nil
}

// Update overwrites an existing discount.
func (r *DiscountRepository) Update(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.discounts == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount update: id is required")
	}
	if err := r.discounts.Set(ctx, discount.ID, newDiscountDocument(discount)); err != nil {
		return wrapDiscountError("discount.update", err)
	}
	return nil
}

// Delete removes the discount by ID.
func (r *DiscountRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.discounts == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("discount delete: id is required")
	}
	if err := r.discounts.Delete(ctx, id); err != nil {
		return wrapDiscountError("discount.delete", err)
	}
	return nil
}

// FindByID loads one discount by its document ID.
func (r *DiscountRepository) FindByID(ctx context.Context, id string) (domain.Discount, error) {
	if r == nil || r.discounts == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Discount{}, errors.New("discount find: id is required")
	}

	doc, err := r.discounts.Get(ctx, id)
	if err != nil {
		return domain.Discount{}, wrapDiscountError("discount.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCode resolves a discount by its customer-facing code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	if r == nil || r.discounts == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Discount{}, errors.New("discount find: code is required")
	}

	docs, err := r.discounts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Discount{}, wrapDiscountError("discount.findByCode", err)
	}
	if len(docs) == 0 {
		return domain.Discount{}, pfirestore.NotFoundError("discount.findByCode", fmt.Errorf("discount code %s not found", code))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List pages all discounts ordered by creation time, newest first.
func (r *DiscountRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Discount], error) {
	if r == nil || r.discounts == nil {
		return domain.CursorPage[domain.Discount]{}, errors.New("discount repository not initialised")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	coll, err := r.discounts.CollectionRef(ctx)
	if err != nil {
		return domain.CursorPage[domain.Discount]{}, wrapDiscountError("discount.list", err)
	}

	query := coll.Query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := decodeDiscountPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Discount]{}, wrapDiscountError("discount.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var discounts []domain.Discount
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Discount]{}, wrapDiscountError("discount.list", err)
		}
		var doc discountDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Discount]{}, fmt.Errorf("decode discount %s: %w", snap.Ref.ID, err)
		}
		discounts = append(discounts, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(discounts) > pageSize
	if hasMore {
		discounts = discounts[:pageSize]
	}
	var nextToken string
	if hasMore && len(discounts) > 0 {
		last := discounts[len(discounts)-1]
		encoded, err := encodeDiscountPageToken(discountPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Discount]{}, wrapDiscountError("discount.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Discount]{
		Items:         discounts,
		NextPageToken: nextToken,
	}, nil
}

// ListActive returns unused discounts whose validity window covers now and
// whose percentage reaches the given floor. The window upper bound is applied
// client-side because Firestore allows range filters on one field only.
func (r *DiscountRepository) ListActive(ctx context.Context, now time.Time, minPercentage float64) ([]domain.Discount, error) {
	if r == nil || r.discounts == nil {
		return nil, errors.New("discount repository not initialised")
	}
	now = now.UTC()

	docs, err := r.discounts.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("used", "==", false).
			Where("validFrom", "<=", now).
			OrderBy("validFrom", firestore.Asc)
	})
	if err != nil {
		return nil, wrapDiscountError("discount.listActive", err)
	}

	var active []domain.Discount
	for _, doc := range docs {
		discount := doc.Data.toDomain(doc.ID)
		if discount.ValidTo.Before(now) {
			continue
		}
		if discount.Percentage < minPercentage {
			continue
		}
		active = append(active, discount)
	}
	return active, nil
}

// Helper structures ---------------------------------------------------------

type discountDocument struct {
	Code              string    `firestore:"code"`
	Percentage        float64   `firestore:"percentage"`
	ValidFrom         time.Time `firestore:"validFrom"`
	ValidTo           time.Time `firestore:"validTo"`
	MinOrderValue     int64     `firestore:"minOrderValue"`
	ProbabilityWeight int       `firestore:"probabilityWeight"`
	Used              bool      `firestore:"used"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func newDiscountDocument(d domain.Discount) discountDocument {
	return discountDocument{
		Code:              strings.TrimSpace(d.Code),
		Percentage:        d.Percentage,
		ValidFrom:         d.ValidFrom.UTC(),
		ValidTo:           d.ValidTo.UTC(),
		MinOrderValue:     d.MinOrderValue,
		ProbabilityWeight: d.ProbabilityWeight,
		Used:              d.Used,
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

func (d discountDocument) toDomain(id string) domain.Discount {
	return domain.Discount{
		ID:                id,
		Code:              strings.TrimSpace(d.Code),
		Percentage:        d.Percentage,
		ValidFrom:         d.ValidFrom,
		ValidTo:           d.ValidTo,
		MinOrderValue:     d.MinOrderValue,
		ProbabilityWeight: d.ProbabilityWeight,
		Used:              d.Used,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type discountPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeDiscountPageToken(token discountPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode discount page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeDiscountPageToken(encoded string) (*discountPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode discount page token: %w", err)
	}
	var token discountPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode discount page token json: %w", err)
	}
	return &token, nil
}

func wrapDiscountError(op string, err error) error {
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
	return pfirestore.WrapError(op, err)
}
