package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/oakmarket/checkout/internal/domain/order"
)

// SignatureHeader carries the gateway's HMAC over the raw webhook body.
const SignatureHeader = "X-Razorpay-Signature"

const maxWebhookBody = 1 << 20

type paymentSessionResponse struct {
	Order            sessionOrder  `json:"order"`
	GatewayIntent    sessionIntent `json:"gatewayIntent"`
	GatewayPublicKey string        `json:"gatewayPublicKey"`
}

type sessionOrder struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	Total       float64 `json:"total"`
}

type sessionIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreatePaymentSession settles the cart and opens a gateway payment intent
// for the order total.
func (h *Handler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.orders.CreatePaymentSession(r.Context(), order.CheckoutRequest{
		UserID:     UserID(r.Context()),
		Address:    req.ShippingAddress,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, paymentSessionResponse{
		Order: sessionOrder{
			ID:          sess.Order.ID,
			OrderNumber: sess.Order.OrderNumber,
			Total:       sess.Order.Total.InexactFloat64(),
		},
		GatewayIntent: sessionIntent{
			ID:       sess.Intent.ID,
			Amount:   sess.Intent.Amount,
			Currency: sess.Intent.Currency,
		},
		GatewayPublicKey: sess.PublicKey,
	})
}

type verifyPaymentRequest struct {
	OrderID           string `json:"orderId"`
	ProviderOrderID   string `json:"providerOrderId"`
	ProviderPaymentID string `json:"providerPaymentId"`
	ProviderSignature string `json:"providerSignature"`
}

// VerifyPayment confirms a client-reported payment outcome against the
// gateway signature.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	o, err := h.orders.VerifyPayment(r.Context(), order.VerifyRequest{
		UserID:          UserID(r.Context()),
		OrderID:         req.OrderID,
		ProviderOrderID: req.ProviderOrderID,
		PaymentID:       req.ProviderPaymentID,
		Signature:       req.ProviderSignature,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]orderResponse{"order": toOrderResponse(o)})
}

// Webhook receives gateway push notifications. The signature is computed
// over the raw body bytes, so the body is read before any parsing. Once the
// signature checks out the endpoint answers 200 for everything it cannot
// act on; only a broken signature (or missing secret) is a 400.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		respondError(w, http.StatusBadRequest, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !h.gateway.VerifyWebhookSignature(body, r.Header.Get(SignatureHeader)) {
		respondError(w, http.StatusBadRequest, "invalid webhook signature")
		return
	}

	ev, err := parseWebhookEvent(body)
	if err != nil {
		// Authenticated but unparseable: acknowledge so the gateway does
		// not retry a body this server will never understand.
		h.lg.Warn("unparseable webhook body", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.orders.HandleWebhookEvent(r.Context(), ev); err != nil {
		h.lg.Error("webhook reconciliation failed",
			zap.String("event", ev.Type), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseWebhookEvent pulls the event type and payment identifiers out of the
// provider's nested event envelope:
//
//	{"event":"payment.captured","payload":{"payment":{"entity":{"id":...,"order_id":...}}}}
func parseWebhookEvent(body []byte) (order.WebhookEvent, error) {
	var ev order.WebhookEvent
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			ev.Type = v
			return err
		case "payload":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "payment" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "entity" {
						return d.Skip()
					}
					return d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "id":
							v, err := d.Str()
							ev.PaymentID = v
							return err
						case "order_id":
							v, err := d.Str()
							ev.ProviderOrderID = v
							return err
						default:
							return d.Skip()
						}
					})
				})
			})
		default:
			return d.Skip()
		}
	})
	return ev, err
}
