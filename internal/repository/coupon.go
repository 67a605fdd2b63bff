package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmarket/checkout/internal/domain/coupon"
)

const getCouponByCodeSQL = `SELECT code, discount_type, value, min_order, max_discount,
	active, starts_at, ends_at, usage_limit, used_count, description
	FROM coupons WHERE code = $1`

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
// Usage reservation is not here: the settlement transaction in
// OrderRepository owns the used_count increment.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its normalized code. Returns
// coupon.ErrNotFound when no coupon exists; active/window checks are the
// evaluator's job, so inactive coupons are still returned.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, coupon.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		minOrder     *decimal.Decimal
		maxDiscount  *decimal.Decimal
		startsAt     *time.Time
		endsAt       *time.Time
		usageLimit   *int32
		usedCount    int32
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &minOrder, &maxDiscount,
		&c.Active, &startsAt, &endsAt, &usageLimit, &usedCount, &c.Description,
	)
	c.Type = coupon.Type(discountType)
	c.MinOrder = minOrder
	c.MaxDiscount = maxDiscount
	c.StartsAt = startsAt
	c.EndsAt = endsAt
	if usageLimit != nil {
		limit := int(*usageLimit)
		c.UsageLimit = &limit
	}
	c.UsedCount = int(usedCount)
	return c, err
}
