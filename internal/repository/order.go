package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmarket/checkout/internal/domain/coupon"
	"github.com/oakmarket/checkout/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id,
		subtotal, discount, coupon_code, tax, shipping_cost, total,
		status, payment_status, payment_method, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5)`

	// The usage_limit guard makes over-redemption impossible: the row lock
	// taken by the first UPDATE serializes concurrent settlements, and the
	// loser re-evaluates the predicate against the incremented counter.
	reserveCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND active = TRUE
		AND (usage_limit IS NULL OR used_count < usage_limit)`

	releaseCouponSQL = `UPDATE coupons SET used_count = GREATEST(used_count - 1, 0)
		WHERE code = $1`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`

	getOrderSQL = `SELECT id, order_number, user_id,
		subtotal, discount, coupon_code, tax, shipping_cost, total,
		status, payment_status, payment_method,
		payment_provider, payment_order_id, payment_id, payment_signature,
		shipping_address, created_at, updated_at
		FROM orders WHERE id = $1 AND user_id = $2`

	getOrderItemsSQL = `SELECT id, order_id, product_id, quantity, price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	setPaymentIntentSQL = `UPDATE orders
		SET payment_provider = $2, payment_order_id = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'PENDING'`

	// Payment transitions only move away from PENDING. A cancelled order
	// records the capture but keeps its CANCELLED fulfilment status.
	completePaymentSQL = `UPDATE orders
		SET payment_status = 'COMPLETED',
			status = CASE WHEN status = 'PENDING' THEN 'CONFIRMED' ELSE status END,
			payment_order_id = $2, payment_id = $3, payment_signature = $4,
			updated_at = now()
		WHERE id = $1 AND payment_status = 'PENDING'`

	failPaymentSQL = `UPDATE orders
		SET payment_status = 'FAILED', updated_at = now()
		WHERE id = $1 AND payment_status = 'PENDING'`

	completePaymentByIntentSQL = `UPDATE orders
		SET payment_status = 'COMPLETED',
			status = CASE WHEN status = 'PENDING' THEN 'CONFIRMED' ELSE status END,
			payment_id = $3, updated_at = now()
		WHERE payment_provider = $1 AND payment_order_id = $2
		AND payment_status = 'PENDING'
		RETURNING id, order_number, user_id, total`

	failPaymentByIntentSQL = `UPDATE orders
		SET payment_status = 'FAILED', updated_at = now()
		WHERE payment_provider = $1 AND payment_order_id = $2
		AND payment_status = 'PENDING'
		RETURNING id, order_number, user_id, total`

	cancelOrderSQL = `UPDATE orders
		SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status IN ('PENDING', 'CONFIRMED')
		RETURNING coupon_code`

	expirePendingSQL = `UPDATE orders
		SET status = 'CANCELLED', payment_status = 'FAILED', updated_at = now()
		WHERE status = 'PENDING' AND payment_status = 'PENDING'
		AND payment_method = 'PREPAID' AND created_at < $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CreateSettled persists the order with its items, reserves coupon usage,
// and clears the user's cart in one transaction. When the coupon's usage
// limit is exhausted under concurrency, the whole settlement rolls back
// with a coupon.RejectionError.
func (r *OrderRepository) CreateSettled(ctx context.Context, o *order.Order) error {
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning settlement transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.CouponCode != "" {
		tag, err := tx.Exec(ctx, reserveCouponSQL, o.CouponCode)
		if err != nil {
			return fmt.Errorf("reserving coupon %q: %w", o.CouponCode, err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.Reject("Coupon usage limit reached")
		}
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.UserID,
		o.Subtotal, o.Discount, o.CouponCode, o.Tax, o.ShippingCost, o.Total,
		string(o.Status), string(o.PaymentStatus), o.PaymentMethod, addressJSON,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(insertOrderItemSQL, it.ID, o.ID, it.ProductID, it.Quantity, it.Price)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items for order %q: %w", o.ID, err)
	}

	if _, err := tx.Exec(ctx, clearCartSQL, o.UserID); err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", o.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing settlement for order %q: %w", o.ID, err)
	}
	return nil
}

// GetForUser loads an order with its items, scoped to the owner.
func (r *OrderRepository) GetForUser(ctx context.Context, id, userID string) (*order.Order, error) {
	var (
		o           order.Order
		status      string
		payStatus   string
		addressJSON []byte
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, id, userID).Scan(
		&o.ID, &o.OrderNumber, &o.UserID,
		&o.Subtotal, &o.Discount, &o.CouponCode, &o.Tax, &o.ShippingCost, &o.Total,
		&status, &payStatus, &o.PaymentMethod,
		&o.PaymentProvider, &o.PaymentOrderID, &o.PaymentID, &o.PaymentSignature,
		&addressJSON, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshaling address for order %q: %w", id, err)
	}

	rows, err := r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items for order %q: %w", id, err)
	}
	return &o, nil
}

// SetPaymentIntent records the provider-side intent id on a pending order.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, orderID, provider, intentID string) error {
	_, err := r.pool.Exec(ctx, setPaymentIntentSQL, orderID, provider, intentID)
	if err != nil {
		return fmt.Errorf("setting payment intent on order %q: %w", orderID, err)
	}
	return nil
}

// CompletePayment confirms payment on an order by id, only while payment is
// still PENDING. It reports whether a row actually transitioned.
func (r *OrderRepository) CompletePayment(ctx context.Context, c order.PaymentConfirmation) (bool, error) {
	tag, err := r.pool.Exec(ctx, completePaymentSQL,
		c.OrderID, c.ProviderOrderID, c.PaymentID, c.Signature,
	)
	if err != nil {
		return false, fmt.Errorf("completing payment on order %q: %w", c.OrderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailPayment marks payment FAILED while it is still PENDING. Fulfilment
// status is untouched.
func (r *OrderRepository) FailPayment(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, failPaymentSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("failing payment on order %q: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompletePaymentByIntent confirms payment located by the provider intent
// id. A duplicate delivery or unknown intent matches zero rows and returns
// nil without error.
func (r *OrderRepository) CompletePaymentByIntent(ctx context.Context, provider, intentID, paymentID string) (*order.Reconciled, error) {
	return r.reconcile(ctx, completePaymentByIntentSQL, provider, intentID, paymentID)
}

// FailPaymentByIntent marks payment FAILED, located by the provider intent id.
func (r *OrderRepository) FailPaymentByIntent(ctx context.Context, provider, intentID string) (*order.Reconciled, error) {
	return r.reconcile(ctx, failPaymentByIntentSQL, provider, intentID)
}

func (r *OrderRepository) reconcile(ctx context.Context, sql string, args ...any) (*order.Reconciled, error) {
	var rec order.Reconciled
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&rec.OrderID, &rec.OrderNumber, &rec.UserID, &rec.Total,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reconciling payment: %w", err)
	}
	return &rec, nil
}

// Cancel moves a pre-shipping order to CANCELLED and optionally releases
// its coupon reservation, in one transaction. It reports false when the
// order is past the cancellation window or not owned by the user.
func (r *OrderRepository) Cancel(ctx context.Context, orderID, userID string, releaseCoupon bool) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning cancel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var couponCode string
	err = tx.QueryRow(ctx, cancelOrderSQL, orderID, userID).Scan(&couponCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("cancelling order %q: %w", orderID, err)
	}

	if releaseCoupon && couponCode != "" {
		if _, err := tx.Exec(ctx, releaseCouponSQL, couponCode); err != nil {
			return false, fmt.Errorf("releasing coupon %q: %w", couponCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing cancel for order %q: %w", orderID, err)
	}
	return true, nil
}

// ExpirePending sweeps prepaid orders stuck in PENDING/PENDING since before
// the cutoff and returns how many were cancelled.
func (r *OrderRepository) ExpirePending(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, expirePendingSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("expiring pending orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
	return it, err
}
