package cart

import (
	"context"

	"github.com/oakmarket/checkout/internal/domain/pricing"
)

// Item is a single cart row, unique per (user, product).
type Item struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
}

// Line is a cart item joined with its product's current price and weight,
// in the shape the pricing engine consumes. Settlement snapshots these
// values onto the order; later catalog changes never affect a placed order.
type Line = pricing.Line

// Repository defines cart persistence. Clearing a cart as part of order
// settlement is not handled here: that deletion belongs to the settlement
// transaction in the order repository.
type Repository interface {
	// Add upserts a cart line, accumulating quantity for an existing product.
	Add(ctx context.Context, userID, productID string, quantity int) error
	// List returns the user's cart joined with product pricing data.
	List(ctx context.Context, userID string) ([]Line, error)
	// Remove deletes a single product from the user's cart.
	Remove(ctx context.Context, userID, productID string) error
}
