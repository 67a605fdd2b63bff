package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
)

var _ Client = (*HTTPClient)(nil)

// HTTPClient implements Client against a Razorpay-style JSON API.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

// NewHTTPClient creates a gateway client. cfg.Timeout bounds every request.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("gateway key id and secret are required")
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Provider returns the configured provider name.
func (c *HTTPClient) Provider() string { return c.cfg.Name }

// PublicKey returns the publishable key id.
func (c *HTTPClient) PublicKey() string { return c.cfg.KeyID }

type createIntentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent registers a pending charge with the provider for exactly the
// requested amount. Transport failures surface as ErrUnavailable.
func (c *HTTPClient) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	payload, err := json.Marshal(createIntentBody{
		Amount:   req.Amount,
		Currency: c.cfg.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal intent request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build intent request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, "read intent response")
	}

	if resp.StatusCode != http.StatusOK {
		var ge gatewayError
		if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Description != "" {
			return nil, errors.Wrapf(ErrUnavailable, "gateway %d: %s", resp.StatusCode, ge.Error.Description)
		}
		return nil, errors.Wrapf(ErrUnavailable, "gateway status %d", resp.StatusCode)
	}

	var ir intentResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, errors.Wrap(err, "decode intent response")
	}
	if ir.ID == "" {
		return nil, errors.New("gateway returned empty intent id")
	}

	return &Intent{
		ID:       ir.ID,
		Amount:   ir.Amount,
		Currency: ir.Currency,
	}, nil
}

// VerifyPaymentSignature checks a client-supplied confirmation signature
// against HMAC-SHA256(keySecret, providerOrderID+"|"+paymentID).
func (c *HTTPClient) VerifyPaymentSignature(providerOrderID, paymentID, signature string) bool {
	expected := SignPayment([]byte(c.cfg.KeySecret), providerOrderID, paymentID)
	return verify(expected, signature)
}

// VerifyWebhookSignature checks a webhook delivery's signature over the raw
// request body.
func (c *HTTPClient) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" {
		return false
	}
	expected := SignBody([]byte(c.cfg.WebhookSecret), body)
	return verify(expected, signature)
}
