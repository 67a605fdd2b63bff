package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakmarket/checkout/internal/domain/cart"
	"github.com/oakmarket/checkout/internal/domain/coupon"
	"github.com/oakmarket/checkout/internal/domain/pricing"
	"github.com/oakmarket/checkout/internal/events"
	"github.com/oakmarket/checkout/internal/gateway"
)

var hundred = decimal.NewFromInt(100)

// Config holds settlement policy knobs.
type Config struct {
	// ReleaseCouponOnCancel releases reserved coupon usage when an order is
	// cancelled. Off by default: an attempted redemption stays consumed.
	ReleaseCouponOnCancel bool
}

// Service implements order settlement: cart-to-order conversion, payment
// session creation, and both payment confirmation channels.
type Service struct {
	carts          cart.Repository
	coupons        coupon.Evaluator
	orders         Repository
	codPricing     *pricing.Engine
	prepaidPricing *pricing.Engine
	gateway        gateway.Client
	events         events.Publisher
	cfg            Config
	lg             *zap.Logger

	newOrderNumber func() string
}

// NewService wires a settlement Service. gw may be nil when the gateway
// path is not configured; ev may be nil to disable event publishing.
func NewService(
	carts cart.Repository,
	coupons coupon.Evaluator,
	orders Repository,
	codPricing, prepaidPricing *pricing.Engine,
	gw gateway.Client,
	ev events.Publisher,
	cfg Config,
	lg *zap.Logger,
) *Service {
	return &Service{
		carts:          carts,
		coupons:        coupons,
		orders:         orders,
		codPricing:     codPricing,
		prepaidPricing: prepaidPricing,
		gateway:        gw,
		events:         ev,
		cfg:            cfg,
		lg:             lg,
		newOrderNumber: defaultOrderNumber,
	}
}

// defaultOrderNumber builds a time-ordered, collision-resistant order number.
// ULIDs carry millisecond time plus 80 bits of entropy, so concurrent
// checkouts cannot collide the way a timestamp-only scheme would.
func defaultOrderNumber() string {
	return "ORD-" + ulid.Make().String()
}

// CheckoutRequest is the input for converting a cart into an order.
type CheckoutRequest struct {
	UserID        string
	Address       Address
	PaymentMethod string
	CouponCode    string
}

// PreviewCoupon evaluates a coupon against the user's current cart subtotal
// without reserving usage or writing anything.
func (s *Service) PreviewCoupon(ctx context.Context, userID, code string) (*coupon.Applied, error) {
	lines, err := s.carts.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	return s.coupons.Evaluate(ctx, code, pricing.Subtotal(lines))
}

// Checkout atomically converts the user's cart into a persisted order:
// pricing snapshot, coupon usage reservation, order+items insert, and cart
// deletion commit together or not at all.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if err := req.Address.Validate(); err != nil {
		return nil, err
	}

	lines, err := s.carts.List(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	engine := s.codPricing
	if req.PaymentMethod == MethodPrepaid {
		engine = s.prepaidPricing
	}

	discount := decimal.Zero
	couponCode := ""
	if req.CouponCode != "" {
		applied, err := s.coupons.Evaluate(ctx, req.CouponCode, pricing.Subtotal(lines))
		if err != nil {
			return nil, err
		}
		discount = applied.Discount
		couponCode = applied.Code
	}

	quote := engine.Quote(lines, req.Address.City, discount)

	o := &Order{
		ID:              uuid.New().String(),
		OrderNumber:     s.newOrderNumber(),
		UserID:          req.UserID,
		Subtotal:        quote.Subtotal,
		Discount:        quote.Discount,
		CouponCode:      couponCode,
		Tax:             quote.Tax,
		ShippingCost:    quote.ShippingCost,
		Total:           quote.Total,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.Address,
	}
	o.Items = make([]Item, len(lines))
	for i, l := range lines {
		o.Items[i] = Item{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     l.Price,
		}
	}

	if err := s.orders.CreateSettled(ctx, o); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeOrderPlaced, o.ID, o.OrderNumber, o.UserID, o.Total)
	return o, nil
}

// PaymentSession is the response for gateway-backed checkout: the committed
// local order plus the provider-side intent the browser needs to pay.
type PaymentSession struct {
	Order     *Order
	Intent    *gateway.Intent
	PublicKey string
}

// CreatePaymentSession settles the cart into a local order, then registers a
// payment intent with the gateway for exactly the order total. The local
// order commits before the external call: if the gateway is unreachable the
// order stays PENDING/PENDING for the sweep job to resolve, and the caller
// gets the error.
func (s *Service) CreatePaymentSession(ctx context.Context, req CheckoutRequest) (*PaymentSession, error) {
	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	req.PaymentMethod = MethodPrepaid
	o, err := s.Checkout(ctx, req)
	if err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:  minorUnits(o.Total),
		Receipt: o.OrderNumber,
		Notes:   map[string]string{"order_id": o.ID},
	})
	if err != nil {
		s.lg.Error("payment intent creation failed, order left pending",
			zap.String("order_id", o.ID),
			zap.String("order_number", o.OrderNumber),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.orders.SetPaymentIntent(ctx, o.ID, s.gateway.Provider(), intent.ID); err != nil {
		return nil, errors.Wrap(err, "persist payment intent")
	}
	o.PaymentProvider = s.gateway.Provider()
	o.PaymentOrderID = intent.ID

	return &PaymentSession{
		Order:     o,
		Intent:    intent,
		PublicKey: s.gateway.PublicKey(),
	}, nil
}

// VerifyRequest is the client-driven payment confirmation input.
type VerifyRequest struct {
	UserID          string
	OrderID         string
	ProviderOrderID string
	PaymentID       string
	Signature       string
}

// VerifyPayment authenticates a client-supplied payment outcome against the
// gateway's HMAC signature. A mismatch marks payment FAILED and returns
// ErrInvalidSignature; fulfilment status is not touched. A match confirms
// the order and persists the provider identifiers.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyRequest) (*Order, error) {
	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	o, err := s.orders.GetForUser(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}

	if !s.gateway.VerifyPaymentSignature(req.ProviderOrderID, req.PaymentID, req.Signature) {
		if _, err := s.orders.FailPayment(ctx, o.ID); err != nil {
			s.lg.Error("mark payment failed", zap.String("order_id", o.ID), zap.Error(err))
		}
		s.publish(ctx, events.TypePaymentFailed, o.ID, o.OrderNumber, o.UserID, o.Total)
		return nil, ErrInvalidSignature
	}

	changed, err := s.orders.CompletePayment(ctx, PaymentConfirmation{
		OrderID:         o.ID,
		ProviderOrderID: req.ProviderOrderID,
		PaymentID:       req.PaymentID,
		Signature:       req.Signature,
	})
	if err != nil {
		return nil, errors.Wrap(err, "complete payment")
	}
	if changed {
		s.publish(ctx, events.TypePaymentCaptured, o.ID, o.OrderNumber, o.UserID, o.Total)
	} else {
		// Already terminal: the webhook won the race or payment previously
		// failed. Return current state either way.
		s.lg.Info("payment verification raced a terminal state", zap.String("order_id", o.ID))
	}

	return s.orders.GetForUser(ctx, req.OrderID, req.UserID)
}

// WebhookEvent is a gateway push notification, already signature-verified
// by the HTTP layer.
type WebhookEvent struct {
	Type            string
	ProviderOrderID string
	PaymentID       string
}

// Webhook event types this subsystem acts on; everything else is accepted
// and ignored so the gateway never retries events we do not understand.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// HandleWebhookEvent reconciles an order against a gateway-pushed event.
// Updates are set-based and keyed by (provider, intent id): a duplicate
// delivery matches zero rows the second time, so re-applying the same event
// leaves the order exactly as applying it once did. Lookup misses are
// logged and swallowed, never surfaced as errors, so the gateway does not
// retry-storm over orders this environment never created.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev WebhookEvent) error {
	if s.gateway == nil {
		return errors.New("payment gateway is not configured")
	}
	provider := s.gateway.Provider()

	switch ev.Type {
	case EventPaymentCaptured:
		rec, err := s.orders.CompletePaymentByIntent(ctx, provider, ev.ProviderOrderID, ev.PaymentID)
		if err != nil {
			return errors.Wrap(err, "reconcile captured payment")
		}
		if rec == nil {
			s.lg.Info("captured event matched no pending order",
				zap.String("provider_order_id", ev.ProviderOrderID))
			return nil
		}
		s.publish(ctx, events.TypePaymentCaptured, rec.OrderID, rec.OrderNumber, rec.UserID, rec.Total)

	case EventPaymentFailed:
		rec, err := s.orders.FailPaymentByIntent(ctx, provider, ev.ProviderOrderID)
		if err != nil {
			return errors.Wrap(err, "reconcile failed payment")
		}
		if rec == nil {
			s.lg.Info("failed event matched no pending order",
				zap.String("provider_order_id", ev.ProviderOrderID))
			return nil
		}
		s.publish(ctx, events.TypePaymentFailed, rec.OrderID, rec.OrderNumber, rec.UserID, rec.Total)

	default:
		s.lg.Debug("ignoring webhook event", zap.String("type", ev.Type))
	}
	return nil
}

// Get loads an order scoped to its owner.
func (s *Service) Get(ctx context.Context, orderID, userID string) (*Order, error) {
	return s.orders.GetForUser(ctx, orderID, userID)
}

// Cancel cancels a pre-shipping order on the owner's request. Whether the
// reserved coupon usage is released follows Config.ReleaseCouponOnCancel.
func (s *Service) Cancel(ctx context.Context, orderID, userID string) error {
	o, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return err
	}

	cancelled, err := s.orders.Cancel(ctx, orderID, userID, s.cfg.ReleaseCouponOnCancel)
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if !cancelled {
		return ErrCancelNotAllowed
	}

	s.publish(ctx, events.TypeOrderCancelled, o.ID, o.OrderNumber, o.UserID, o.Total)
	return nil
}

// publish emits an order event, best effort.
func (s *Service) publish(ctx context.Context, typ, orderID, orderNumber, userID string, total decimal.Decimal) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, events.Event{
		Type:        typ,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		UserID:      userID,
		Total:       total.String(),
		OccurredAt:  time.Now().UTC(),
	})
}

// minorUnits converts a major-unit amount to the gateway's minor currency
// unit (e.g. rupees to paise).
func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
