package wallet

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// CreateProduct registers a catalog item so it can be purchased. Catalog
// management beyond this admin insert lives outside the wallet engine.
func (service *Service) CreateProduct(ctx context.Context, name string, price int64, featured bool) (Product, error) {
	if strings.TrimSpace(name) == "" {
		return Product{}, WrapError("create_product", "name", "empty", ErrInvalidProduct)
	}
	if price <= 0 {
		return Product{}, WrapError("create_product", "price", "nonpositive", ErrInvalidAmount)
	}
	product := Product{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		Price:          price,
		Active:         true,
		Featured:       featured,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := service.store.InsertProduct(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}
