package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Fulfilment statuses. CANCELLED is terminal: payment reconciliation never
// rewrites a cancelled order back to CONFIRMED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// Payment statuses form a small state machine: PENDING may move to
// COMPLETED or FAILED; COMPLETED is terminal and is never downgraded by a
// late FAILED from the other confirmation channel.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

// Payment methods accepted at checkout.
const (
	MethodCOD     = "COD"
	MethodPrepaid = "PREPAID"
)

// Sentinel errors for settlement operations.
var (
	// ErrEmptyCart rejects checkout before any pricing work happens.
	ErrEmptyCart = errors.New("Cart is empty")
	// ErrNotFound covers both unknown orders and orders owned by another
	// user; the caller learns nothing beyond "not found".
	ErrNotFound = errors.New("order not found")
	// ErrInvalidSignature is returned when a payment confirmation fails
	// HMAC verification. The order's payment status is marked FAILED.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrCancelNotAllowed is returned when an order is past the
	// pre-shipping window or already cancelled.
	ErrCancelNotAllowed = errors.New("order can no longer be cancelled")
)

// Address is the delivery destination. City feeds the free-shipping rule.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone,omitempty"`
}

// Validate reports the first missing required field.
func (a Address) Validate() error {
	switch {
	case a.Name == "":
		return errors.New("address name is required")
	case a.Line1 == "":
		return errors.New("address line1 is required")
	case a.City == "":
		return errors.New("address city is required")
	case a.PostalCode == "":
		return errors.New("address postal code is required")
	}
	return nil
}

// Item is an order line. Price is copied from the product at settlement
// time and never changes afterwards.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Order is an immutable pricing snapshot with mutable fulfilment and payment
// sub-state. The pricing columns are fixed at creation; only Status,
// PaymentStatus, and the payment_* linkage fields change afterwards.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string

	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	CouponCode   string
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal

	Status        Status
	PaymentStatus PaymentStatus
	PaymentMethod string

	PaymentProvider  string
	PaymentOrderID   string
	PaymentID        string
	PaymentSignature string

	ShippingAddress Address
	Items           []Item

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reconciled identifies an order whose payment state changed during
// webhook reconciliation.
type Reconciled struct {
	OrderID     string
	OrderNumber string
	UserID      string
	Total       decimal.Decimal
}

// PaymentConfirmation carries a verified client-side payment outcome.
type PaymentConfirmation struct {
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// Repository defines order persistence. Payment-state transitions are
// conditional set-based updates: they only move away from PENDING, so
// whichever confirmation channel lands last cannot regress a terminal state,
// and duplicate webhook deliveries are idempotent.
type Repository interface {
	// CreateSettled persists the order and its items, reserves coupon usage
	// when CouponCode is set, and clears the user's cart, all in one
	// transaction. No effect is visible unless every step succeeds.
	CreateSettled(ctx context.Context, o *Order) error

	// GetForUser loads an order with items, scoped to its owner.
	GetForUser(ctx context.Context, id, userID string) (*Order, error)

	// SetPaymentIntent records the provider-side intent id on a pending order.
	SetPaymentIntent(ctx context.Context, orderID, provider, intentID string) error

	// CompletePayment confirms payment on an order by id. It reports whether
	// a row transitioned; re-applying the same confirmation changes nothing.
	CompletePayment(ctx context.Context, c PaymentConfirmation) (bool, error)

	// FailPayment marks payment FAILED, only while payment is PENDING.
	// Fulfilment status is left untouched.
	FailPayment(ctx context.Context, orderID string) (bool, error)

	// CompletePaymentByIntent confirms payment located by the provider-side
	// intent id, for webhook reconciliation. It returns nil when no pending
	// order matched (duplicate delivery or foreign intent).
	CompletePaymentByIntent(ctx context.Context, provider, intentID, paymentID string) (*Reconciled, error)

	// FailPaymentByIntent marks payment FAILED, located by intent id.
	FailPaymentByIntent(ctx context.Context, provider, intentID string) (*Reconciled, error)

	// Cancel moves a pre-shipping order to CANCELLED, optionally releasing
	// its coupon usage. It reports whether the order was cancelled.
	Cancel(ctx context.Context, orderID, userID string, releaseCoupon bool) (bool, error)

	// ExpirePending cancels orders stuck in PENDING/PENDING older than the
	// cutoff and returns how many were swept.
	ExpirePending(ctx context.Context, olderThan time.Time) (int64, error)
}
