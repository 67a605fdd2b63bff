// Package gateway talks to the external payment provider. Orders are funded
// through provider-side payment intents; the provider confirms outcomes both
// synchronously (client-supplied signature) and asynchronously (webhooks).
package gateway

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrUnavailable wraps transport-level failures talking to the provider.
// Callers must treat it as retryable: the local order has already committed
// by the time the provider is called, so nothing is rolled back.
var ErrUnavailable = errors.New("payment gateway unavailable")

// Intent is the provider-side representation of a pending charge.
type Intent struct {
	// ID is the provider-assigned intent identifier (paymentOrderId).
	ID string
	// Amount is in the currency's minor unit (e.g. paise).
	Amount int64
	// Currency is the ISO code the intent was created in.
	Currency string
}

// CreateIntentRequest carries the payload for creating a payment intent.
type CreateIntentRequest struct {
	// Amount in minor currency units.
	Amount int64
	// Receipt is the internal order number, stored provider-side for
	// reconciliation.
	Receipt string
	// Notes is free-form provider-side metadata; settlement tags the
	// internal order id here.
	Notes map[string]string
}

// Client is the contract settlement depends on. Signature checks are local
// HMAC computations and never call the provider.
type Client interface {
	// Provider returns the provider name persisted on orders.
	Provider() string
	// PublicKey returns the publishable key the browser needs to open the
	// provider's payment UI.
	PublicKey() string
	// CreateIntent registers a pending charge with the provider. The call
	// is bounded by the client's configured timeout.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	// VerifyPaymentSignature checks a client-supplied payment confirmation.
	VerifyPaymentSignature(providerOrderID, paymentID, signature string) bool
	// VerifyWebhookSignature checks a webhook delivery against its raw body.
	VerifyWebhookSignature(body []byte, signature string) bool
}

// Config configures the HTTP gateway client.
type Config struct {
	// Name identifies the provider, e.g. "razorpay".
	Name string `default:"razorpay" usage:"Payment provider name"`
	// BaseURL is the provider's API root.
	BaseURL string `default:"https://api.razorpay.com" usage:"Payment gateway API base URL" flag:"gateway-base-url"`
	// KeyID is the public (publishable) API key.
	KeyID string `usage:"Payment gateway key id" flag:"gateway-key-id"`
	// KeySecret signs intent requests and payment confirmations.
	KeySecret string `usage:"Payment gateway key secret" flag:"gateway-key-secret"`
	// WebhookSecret authenticates webhook deliveries.
	WebhookSecret string `usage:"Payment gateway webhook secret" flag:"gateway-webhook-secret"`
	// Currency is the ISO currency code intents are created in.
	Currency string `default:"INR" usage:"Payment currency code"`
	// Timeout bounds every provider API call.
	Timeout time.Duration `default:"10s" usage:"Payment gateway request timeout"`
}
