package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakmarket/checkout/internal/domain/auth"
	"github.com/oakmarket/checkout/internal/domain/cart"
	"github.com/oakmarket/checkout/internal/domain/coupon"
	"github.com/oakmarket/checkout/internal/domain/order"
	"github.com/oakmarket/checkout/internal/domain/pricing"
	"github.com/oakmarket/checkout/internal/domain/product"
	"github.com/oakmarket/checkout/internal/gateway"
)

const testSecret = "whsec_test"

// --- Mock implementations ---

type stubProducts struct {
	items []product.Product
}

func (s *stubProducts) List(context.Context) ([]product.Product, error) { return s.items, nil }
func (s *stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range s.items {
		if s.items[i].ID == id {
			return &s.items[i], nil
		}
	}
	return nil, product.ErrNotFound
}

type stubCarts struct {
	lines []cart.Line
}

func (s *stubCarts) Add(context.Context, string, string, int) error { return nil }
func (s *stubCarts) Remove(context.Context, string, string) error   { return nil }
func (s *stubCarts) List(context.Context, string) ([]cart.Line, error) {
	return s.lines, nil
}

type stubEvaluator struct {
	applied *coupon.Applied
	err     error
}

func (s *stubEvaluator) Evaluate(context.Context, string, decimal.Decimal) (*coupon.Applied, error) {
	return s.applied, s.err
}

type stubOrders struct {
	byID       map[string]*order.Order
	reconciled *order.Reconciled
	captured   []order.PaymentConfirmation
	failed     []string
}

func (s *stubOrders) CreateSettled(_ context.Context, o *order.Order) error {
	if s.byID == nil {
		s.byID = map[string]*order.Order{}
	}
	s.byID[o.ID] = o
	return nil
}

func (s *stubOrders) GetForUser(_ context.Context, id, userID string) (*order.Order, error) {
	o, ok := s.byID[id]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (s *stubOrders) SetPaymentIntent(context.Context, string, string, string) error { return nil }

func (s *stubOrders) CompletePayment(_ context.Context, c order.PaymentConfirmation) (bool, error) {
	s.captured = append(s.captured, c)
	if o, ok := s.byID[c.OrderID]; ok {
		o.Status = order.StatusConfirmed
		o.PaymentStatus = order.PaymentCompleted
	}
	return true, nil
}

func (s *stubOrders) FailPayment(_ context.Context, orderID string) (bool, error) {
	s.failed = append(s.failed, orderID)
	return true, nil
}

func (s *stubOrders) CompletePaymentByIntent(context.Context, string, string, string) (*order.Reconciled, error) {
	return s.reconciled, nil
}

func (s *stubOrders) FailPaymentByIntent(context.Context, string, string) (*order.Reconciled, error) {
	return s.reconciled, nil
}

func (s *stubOrders) Cancel(context.Context, string, string, bool) (bool, error) {
	return true, nil
}

func (s *stubOrders) ExpirePending(context.Context, time.Time) (int64, error) { return 0, nil }

type stubGateway struct{}

func (stubGateway) Provider() string  { return "razorpay" }
func (stubGateway) PublicKey() string { return "key_test" }

func (stubGateway) CreateIntent(_ context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	return &gateway.Intent{ID: "po_1", Amount: req.Amount, Currency: "INR"}, nil
}

func (stubGateway) VerifyPaymentSignature(po, pay, sig string) bool {
	return gateway.SignPayment([]byte(testSecret), po, pay) == sig
}

func (stubGateway) VerifyWebhookSignature(body []byte, sig string) bool {
	return gateway.SignBody([]byte(testSecret), body) == sig
}

type stubKeys struct {
	key *auth.APIKey
}

func (s *stubKeys) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	if s.key != nil && s.key.KeyHash == hash {
		return s.key, nil
	}
	return nil, auth.ErrUnknownKey
}

// --- Helpers ---

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// asUser fakes an already-authenticated request.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), userIDKey, userID)))
		})
	}
}

func newTestRouter(t *testing.T, carts *stubCarts, ev coupon.Evaluator, orders *stubOrders, authn func(http.Handler) http.Handler) *chi.Mux {
	t.Helper()
	engine := pricing.New(pricing.Config{
		FlatShippingFee: dec("49"),
		FreeShipCity:    "Pune",
		FreeShipWeight:  dec("2"),
	})
	svc := order.NewService(carts, ev, orders, engine, engine,
		stubGateway{}, nil, order.Config{}, zap.NewNop())

	h := New(&stubProducts{}, carts, ev, svc, stubGateway{}, zap.NewNop())
	r := chi.NewRouter()
	h.Register(r, authn)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func validAddress() map[string]any {
	return map[string]any{
		"name":        "Asha Rao",
		"line1":       "14 MG Road",
		"city":        "Mumbai",
		"postal_code": "400001",
	}
}

// --- Tests ---

func TestPlaceOrderEmptyCart(t *testing.T) {
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/orders",
		map[string]any{"shippingAddress": validAddress()}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Cart is empty", resp.Message)
	assert.Equal(t, 400, resp.Code)
}

func TestPlaceOrderSuccess(t *testing.T) {
	carts := &stubCarts{lines: []cart.Line{
		{ProductID: "p1", Name: "Widget", Price: dec("400"), Weight: dec("0.5"), Quantity: 2},
	}}
	orders := &stubOrders{}
	r := newTestRouter(t, carts, &stubEvaluator{}, orders, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/orders",
		map[string]any{"shippingAddress": validAddress()}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, "COD", resp.PaymentMethod)
	assert.InDelta(t, 800.0, resp.Subtotal, 0.001)
	assert.InDelta(t, 849.0, resp.Total, 0.001)
	require.Len(t, resp.Items, 1)
	assert.InDelta(t, 400.0, resp.Items[0].Price, 0.001)
}

func TestPlaceOrderCouponRejectionSurfacesVerbatim(t *testing.T) {
	carts := &stubCarts{lines: []cart.Line{
		{ProductID: "p1", Price: dec("300"), Quantity: 1},
	}}
	ev := &stubEvaluator{err: coupon.Reject("Minimum order is 500")}
	r := newTestRouter(t, carts, ev, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/orders", map[string]any{
		"shippingAddress": validAddress(),
		"couponCode":      "BIG50",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Minimum order is 500", resp.Message)
}

func TestValidateCoupon(t *testing.T) {
	ev := &stubEvaluator{applied: &coupon.Applied{Code: "SAVE10", Discount: dec("100")}}
	r := newTestRouter(t, &stubCarts{}, ev, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/coupons/validate",
		map[string]any{"couponCode": "save10", "subtotal": 1000}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp validateCouponResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.InDelta(t, 100.0, resp.Discount, 0.001)
	assert.Equal(t, "SAVE10", resp.CouponCode)
}

func TestValidateCouponRejection(t *testing.T) {
	ev := &stubEvaluator{err: coupon.Reject("Coupon expired")}
	r := newTestRouter(t, &stubCarts{}, ev, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/coupons/validate",
		map[string]any{"couponCode": "OLD", "subtotal": 1000}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp validateCouponResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, "Coupon expired", resp.Reason)
	assert.Zero(t, resp.Discount)
}

func TestCreatePaymentSession(t *testing.T) {
	carts := &stubCarts{lines: []cart.Line{
		{ProductID: "p1", Price: dec("1000"), Weight: dec("1"), Quantity: 1},
	}}
	r := newTestRouter(t, carts, &stubEvaluator{}, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/payments/session",
		map[string]any{"shippingAddress": validAddress()}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp paymentSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "po_1", resp.GatewayIntent.ID)
	assert.Equal(t, "INR", resp.GatewayIntent.Currency)
	assert.Equal(t, "key_test", resp.GatewayPublicKey)
	assert.NotEmpty(t, resp.Order.OrderNumber)
	// Total in minor units: 1049.00 → 104900.
	assert.EqualValues(t, 104900, resp.GatewayIntent.Amount)
}

func TestVerifyPayment(t *testing.T) {
	orders := &stubOrders{byID: map[string]*order.Order{
		"o1": {ID: "o1", UserID: "u1", PaymentStatus: order.PaymentPending},
	}}
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, orders, asUser("u1"))

	sig := gateway.SignPayment([]byte(testSecret), "po_1", "pay_1")
	rec := doJSON(t, r, http.MethodPost, "/api/payments/verify", map[string]any{
		"orderId":           "o1",
		"providerOrderId":   "po_1",
		"providerPaymentId": "pay_1",
		"providerSignature": sig,
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "COMPLETED", resp["order"].PaymentStatus)
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	orders := &stubOrders{byID: map[string]*order.Order{
		"o1": {ID: "o1", UserID: "u1", PaymentStatus: order.PaymentPending},
	}}
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, orders, asUser("u1"))

	rec := doJSON(t, r, http.MethodPost, "/api/payments/verify", map[string]any{
		"orderId":           "o1",
		"providerOrderId":   "po_1",
		"providerPaymentId": "pay_1",
		"providerSignature": "forged",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"o1"}, orders.failed)
}

func TestGetOrderNotFound(t *testing.T) {
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, &stubOrders{}, asUser("u1"))

	rec := doJSON(t, r, http.MethodGet, "/api/orders/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","order_id":"po_9"}}}}`)
	sig := gateway.SignBody([]byte(testSecret), body)

	orders := &stubOrders{reconciled: &order.Reconciled{OrderID: "o9"}}
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, orders, asUser(""))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sig)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, &stubOrders{}, asUser(""))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownEventAccepted(t *testing.T) {
	body := []byte(`{"event":"refund.created","payload":{}}`)
	sig := gateway.SignBody([]byte(testSecret), body)

	r := newTestRouter(t, &stubCarts{}, &stubEvaluator{}, &stubOrders{}, asUser(""))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, sig)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "unhandled event types must not trigger gateway retries")
}

func TestParseWebhookEvent(t *testing.T) {
	ev, err := parseWebhookEvent([]byte(
		`{"entity":"event","event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","order_id":"po_2","amount":1000}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "payment.failed", ev.Type)
	assert.Equal(t, "pay_2", ev.PaymentID)
	assert.Equal(t, "po_2", ev.ProviderOrderID)
}

func TestAPIKeyAuth(t *testing.T) {
	pepper := []byte("pepper")
	key := &auth.APIKey{ID: "k1", UserID: "u1", KeyHash: auth.HashKey(pepper, "sk_live_1")}
	authn := APIKeyAuth(&stubKeys{key: key}, pepper)

	var gotUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
	})

	// Missing key.
	rec := httptest.NewRecorder()
	authn(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong key.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("api_key", "sk_live_wrong")
	authn(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid key resolves the user.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("api_key", "sk_live_1")
	authn(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", gotUser)
}
