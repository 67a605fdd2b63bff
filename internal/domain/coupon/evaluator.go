package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RepoEvaluator implements Evaluator by looking coupons up in a Repository
// and applying the pure Evaluate function. It never mutates coupon state.
type RepoEvaluator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoEvaluator creates a RepoEvaluator backed by the given Repository.
func NewRepoEvaluator(repo Repository) *RepoEvaluator {
	return &RepoEvaluator{repo: repo, now: time.Now}
}

// Evaluate normalizes the code, loads the coupon, and computes the discount
// for the given subtotal. It returns a RejectionError describing why the
// coupon does not apply, or the clamped discount.
func (v *RepoEvaluator) Evaluate(ctx context.Context, code string, subtotal decimal.Decimal) (*Applied, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, Reject("Invalid coupon code")
	}

	c, err := v.repo.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Reject("Coupon not available")
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	applied, err := Evaluate(c, subtotal, v.now())
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Evaluate checks a loaded coupon against the subtotal at the given instant
// and returns the clamped discount. Checks short-circuit in a fixed order:
// availability, start, expiry, usage cap, order minimum.
func Evaluate(c *Coupon, subtotal decimal.Decimal, now time.Time) (*Applied, error) {
	if c == nil || !c.Active {
		return nil, Reject("Coupon not available")
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return nil, Reject("Coupon not started")
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return nil, Reject("Coupon expired")
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, Reject("Coupon usage limit reached")
	}
	if c.MinOrder != nil && subtotal.LessThan(*c.MinOrder) {
		return nil, Reject(fmt.Sprintf("Minimum order is %s", c.MinOrder.String()))
	}

	var discount decimal.Decimal
	switch c.Type {
	case TypePercent:
		discount = subtotal.Mul(c.Value).Div(hundred)
	case TypeFlat:
		discount = c.Value
	default:
		return nil, errors.Errorf("unsupported coupon type: %q", c.Type)
	}

	if c.MaxDiscount != nil && discount.GreaterThan(*c.MaxDiscount) {
		discount = *c.MaxDiscount
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	return &Applied{
		Code:     c.Code,
		Discount: discount.Round(2),
	}, nil
}
