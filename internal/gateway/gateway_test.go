package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{
		Name:          "razorpay",
		BaseURL:       baseURL,
		KeyID:         "key_test",
		KeySecret:     "secret_test",
		WebhookSecret: "whsec_test",
		Currency:      "INR",
		Timeout:       2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestCreateIntent(t *testing.T) {
	var gotBody createIntentBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "key_test", user)
		assert.Equal(t, "secret_test", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(intentResponse{
			ID:       "po_123",
			Amount:   gotBody.Amount,
			Currency: gotBody.Currency,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	intent, err := c.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:  122900,
		Receipt: "ORD-01H",
		Notes:   map[string]string{"order_id": "abc"},
	})

	require.NoError(t, err)
	assert.Equal(t, "po_123", intent.ID)
	assert.Equal(t, int64(122900), intent.Amount)
	assert.Equal(t, "INR", intent.Currency)
	assert.Equal(t, "ORD-01H", gotBody.Receipt)
	assert.Equal(t, "abc", gotBody.Notes["order_id"])
}

func TestCreateIntent_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"SERVER_ERROR","description":"upstream busy"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateIntent(context.Background(), CreateIntentRequest{Amount: 100})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "upstream busy")
}

func TestCreateIntent_Unreachable(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")

	_, err := c.CreateIntent(context.Background(), CreateIntentRequest{Amount: 100})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestVerifyPaymentSignature(t *testing.T) {
	c := testClient(t, "http://unused")

	sig := SignPayment([]byte("secret_test"), "po_1", "pay_1")
	assert.True(t, c.VerifyPaymentSignature("po_1", "pay_1", sig))

	// Any single-character mutation must fail verification.
	mutated := []byte(sig)
	if mutated[0] == 'a' {
		mutated[0] = 'b'
	} else {
		mutated[0] = 'a'
	}
	assert.False(t, c.VerifyPaymentSignature("po_1", "pay_1", string(mutated)))

	// Swapping ids changes the signed message.
	assert.False(t, c.VerifyPaymentSignature("pay_1", "po_1", sig))
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := testClient(t, "http://unused")
	body := []byte(`{"event":"payment.captured"}`)

	sig := SignBody([]byte("whsec_test"), body)
	assert.True(t, c.VerifyWebhookSignature(body, sig))
	assert.False(t, c.VerifyWebhookSignature(body, sig+"0"))
	assert.False(t, c.VerifyWebhookSignature([]byte(`{"event":"payment.captured"} `), sig),
		"signature covers raw bytes exactly")
}

func TestVerifyWebhookSignature_NoSecret(t *testing.T) {
	c, err := NewHTTPClient(Config{KeyID: "k", KeySecret: "s"})
	require.NoError(t, err)

	body := []byte(`{}`)
	assert.False(t, c.VerifyWebhookSignature(body, SignBody(nil, body)))
}

func TestNewHTTPClient_RequiresCredentials(t *testing.T) {
	_, err := NewHTTPClient(Config{})
	require.Error(t, err)
}
