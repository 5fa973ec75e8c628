package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phonemart/api/internal/domain"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
)

const customersCollection = "customers"

// CustomerRepository persists buying profiles keyed by user account.
type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.BaseRepository[customerDocument]
}

// NewCustomerRepository constructs a Firestore backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider:  provider,
		customers: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection),
	}, nil
}

// ResolveByUser fetches the customer profile for a user, creating an empty
// profile on first contact. Profiles share their document ID with the user.
func (r *CustomerRepository) ResolveByUser(ctx context.Context, userID string, now time.Time) (domain.Customer, error) {
	if r == nil || r.provider == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Customer{}, errors.New("customer resolve: user id is required")
	}
	now = now.UTC()

	var resolved domain.Customer
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.customers.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err == nil {
			var doc customerDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode customer %s: %w", userID, err)
			}
			resolved = doc.toDomain(snap.Ref.ID)
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		doc := customerDocument{
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		resolved = doc.toDomain(userID)
		return nil
	})
	if err != nil {
		return domain.Customer{}, pfirestore.WrapError("customer.resolveByUser", err)
	}
	return resolved, nil
}

type customerDocument struct {
	UserID        string    `firestore:"userId"`
	LoyaltyPoints int       `firestore:"loyaltyPoints"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (c customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:            id,
		UserID:        strings.TrimSpace(c.UserID),
		LoyaltyPoints: c.LoyaltyPoints,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}
