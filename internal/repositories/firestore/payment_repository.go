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
	"github.com/phonemart/api/internal/repositories"
)

// Payment documents live one-to-one with orders and share the order's ID.
const paymentsCollection = "payments"

// PaymentRepository persists the per-order payment record.
type PaymentRepository struct {
	provider *pfirestore.Provider
	payments *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		payments: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection),
	}, nil
}

// FindByOrder loads the payment record attached to an order.
func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if r == nil || r.payments == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, errors.New("payment find: order id is required")
	}

	doc, err := r.payments.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Payment{}, repositories.NewOrderError(repositories.OrderErrorPaymentNotFound, fmt.Sprintf("payment for order %s not found", orderID), err)
		}
		return domain.Payment{}, wrapOrderError("payment.findByOrder", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateStatus transitions the payment record, optionally attaching the
// gateway transaction reference.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, orderID string, paymentStatus domain.PaymentStatus, transactionID string, now time.Time) (domain.Payment, error) {
	if r == nil || r.provider == nil {
		return domain.Payment{}, errors.New("payment repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, errors.New("payment update: order id is required")
	}
	now = now.UTC()

	var updated domain.Payment
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.payments.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorPaymentNotFound, fmt.Sprintf("payment for order %s not found", orderID), err)
			}
			return err
		}
		var doc paymentDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode payment %s: %w", orderID, err)
		}
		doc.Status = string(paymentStatus)
		if transactionID = strings.TrimSpace(transactionID); transactionID != "" {
			doc.TransactionID = transactionID
		}
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(snap.Ref.ID)
		return nil
	})
	if err != nil {
		return domain.Payment{}, wrapOrderError("payment.updateStatus", err)
	}
	return updated, nil
}

type paymentDocument struct {
	PaymentID     string    `firestore:"paymentId"`
	OrderID       string    `firestore:"orderId"`
	Method        string    `firestore:"method"`
	Status        string    `firestore:"status"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		PaymentID:     strings.TrimSpace(p.ID),
		OrderID:       strings.TrimSpace(p.OrderID),
		Method:        string(p.Method),
		Status:        string(p.Status),
		TransactionID: strings.TrimSpace(p.TransactionID),
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(orderID string) domain.Payment {
	id := strings.TrimSpace(d.PaymentID)
	if id == "" {
		id = orderID
	}
	return domain.Payment{
		ID:            id,
		OrderID:       d.OrderID,
		Method:        domain.PaymentMethod(d.Method),
		Status:        domain.PaymentStatus(d.Status),
		TransactionID: d.TransactionID,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
