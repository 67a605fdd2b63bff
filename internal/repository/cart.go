package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmarket/checkout/internal/domain/cart"
	"github.com/oakmarket/checkout/internal/domain/product"
)

const (
	addCartItemSQL = `INSERT INTO cart_items (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`

	listCartSQL = `SELECT c.product_id, p.name, p.price, p.weight, c.quantity
		FROM cart_items c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at`

	removeCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`
)

// Postgres class 23 code for foreign key violations.
const fkViolationCode = "23503"

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Add upserts a cart line, accumulating quantity when the product is
// already in the cart. An unknown product surfaces as product.ErrNotFound.
func (r *CartRepository) Add(ctx context.Context, userID, productID string, quantity int) error {
	_, err := r.pool.Exec(ctx, addCartItemSQL, uuid.New().String(), userID, productID, quantity)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == fkViolationCode {
			return product.ErrNotFound
		}
		return fmt.Errorf("adding product %q to cart: %w", productID, err)
	}
	return nil
}

// List returns the user's cart lines joined with current product pricing.
func (r *CartRepository) List(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := r.pool.Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// Remove deletes a single product from the user's cart.
func (r *CartRepository) Remove(ctx context.Context, userID, productID string) error {
	_, err := r.pool.Exec(ctx, removeCartItemSQL, userID, productID)
	if err != nil {
		return fmt.Errorf("removing product %q from cart: %w", productID, err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ProductID, &l.Name, &l.Price, &l.Weight, &l.Quantity)
	return l, err
}
