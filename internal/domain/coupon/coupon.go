package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercent applies a percentage of the subtotal.
	TypePercent Type = "PERCENT"
	// TypeFlat applies a fixed monetary amount, capped at the subtotal.
	TypeFlat Type = "FLAT"
)

// ErrNotFound is returned by repositories when no coupon exists for a code.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a promotional discount rule. UsedCount only ever grows: usage is
// reserved inside the order-settlement transaction and is not released by
// this subsystem unless release-on-cancel is explicitly enabled.
type Coupon struct {
	Code        string
	Type        Type
	Value       decimal.Decimal
	MinOrder    *decimal.Decimal
	MaxDiscount *decimal.Decimal
	Active      bool
	StartsAt    *time.Time
	EndsAt      *time.Time
	UsageLimit  *int
	UsedCount   int
	Description string
}

// Applied holds the outcome of a successful evaluation.
type Applied struct {
	Code     string
	Discount decimal.Decimal
}

// RejectionError carries the user-facing reason a coupon was not applicable.
// The message is surfaced verbatim to the client.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

// Reject builds a RejectionError with the given reason.
func Reject(reason string) error { return &RejectionError{Reason: reason} }

// Normalize canonicalises a coupon code: trimmed and upper-cased. Codes are
// stored upper-cased, so lookups use the normalized form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides coupon lookups. Reserving usage is deliberately not
// part of this interface: the increment belongs to the order-settlement
// transaction, not to evaluation.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Evaluator validates a coupon code against a subtotal and returns the
// discount that would apply. Implementations must be side-effect-free so the
// same evaluation can back both checkout and price previews.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, subtotal decimal.Decimal) (*Applied, error)
}
