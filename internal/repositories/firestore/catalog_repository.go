package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phonemart/api/internal/domain"
	pfirestore "github.com/phonemart/api/internal/platform/firestore"
	"github.com/phonemart/api/internal/repositories"
)

const productsCollection = "products"

// CatalogRepository exposes the Firestore product catalog read model.
type CatalogRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

// FindProduct loads a single product by ID.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("catalog find product: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, pfirestore.WrapError("catalog.findProduct", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

type productDocument struct {
	Name             string     `firestore:"name"`
	CategoryID       string     `firestore:"categoryId,omitempty"`
	SellingPrice     int64      `firestore:"sellingPrice"`
	DiscountedPrice  *int64     `firestore:"discountedPrice,omitempty"`
	DiscountStartsAt *time.Time `firestore:"discountStartsAt,omitempty"`
	DiscountEndsAt   *time.Time `firestore:"discountEndsAt,omitempty"`
	Stock            int        `firestore:"stock"`
	UpdatedAt        time.Time  `firestore:"updatedAt,omitempty"`
}

func (p productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:               id,
		Name:             strings.TrimSpace(p.Name),
		CategoryID:       strings.TrimSpace(p.CategoryID),
		SellingPrice:     p.SellingPrice,
		DiscountedPrice:  p.DiscountedPrice,
		DiscountStartsAt: p.DiscountStartsAt,
		DiscountEndsAt:   p.DiscountEndsAt,
		Stock:            p.Stock,
	}
}
