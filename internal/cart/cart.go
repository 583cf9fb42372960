package cart

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
)

var (
	ErrNotFound        = errors.New("cart: item not found")
	ErrInvalidQuantity = errors.New("cart: quantity must be at least one")
)

// Item is one product+variant line in a user's cart. Options must be a
// coherent subset of the product's variant schema and empty for scalar
// products; checkout validates this against the live product.
type Item struct {
	ProductID string              `json:"product_id"`
	Options   []catalog.Selection `json:"options,omitempty"`
	Quantity  int                 `json:"quantity"`
}

// SameLine reports whether two items address the same product variant and
// should be merged rather than kept as separate lines.
func (it Item) SameLine(other Item) bool {
	if it.ProductID != other.ProductID || len(it.Options) != len(other.Options) {
		return false
	}
	for _, o := range it.Options {
		found := false
		for _, p := range other.Options {
			if o == p {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type Store interface {
	Get(ctx context.Context, userID string) ([]Item, error)
	Add(ctx context.Context, userID string, item Item) error
	UpdateQuantity(ctx context.Context, userID string, line Item) error
	Remove(ctx context.Context, userID string, line Item) error
	Clear(ctx context.Context, userID string) error
}
