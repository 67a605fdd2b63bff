// Package handler exposes the settlement subsystem over HTTP. Handlers
// decode requests, delegate to domain services, and map domain errors to
// the wire error shape.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/oakmarket/checkout/internal/domain/cart"
	"github.com/oakmarket/checkout/internal/domain/coupon"
	"github.com/oakmarket/checkout/internal/domain/order"
	"github.com/oakmarket/checkout/internal/domain/product"
	"github.com/oakmarket/checkout/internal/gateway"
)

// Handler carries the domain dependencies shared by all routes.
type Handler struct {
	products product.Repository
	carts    cart.Repository
	coupons  coupon.Evaluator
	orders   *order.Service
	gateway  gateway.Client
	lg       *zap.Logger
}

// New constructs a Handler with the required domain dependencies.
func New(
	products product.Repository,
	carts cart.Repository,
	coupons coupon.Evaluator,
	orders *order.Service,
	gw gateway.Client,
	lg *zap.Logger,
) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		coupons:  coupons,
		orders:   orders,
		gateway:  gw,
		lg:       lg,
	}
}

// Register mounts all routes. authn wraps every /api route; the webhook
// endpoint is authenticated by its body signature instead.
func (h *Handler) Register(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(authn)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)

		r.Post("/coupons/validate", h.ValidateCoupon)

		r.Get("/cart", h.ListCart)
		r.Post("/cart", h.AddToCart)
		r.Delete("/cart/{productID}", h.RemoveFromCart)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/cancel", h.CancelOrder)

		r.Post("/payments/session", h.CreatePaymentSession)
		r.Post("/payments/verify", h.VerifyPayment)
	})

	r.Post("/webhooks/payment", h.Webhook)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// respondDomainError maps domain errors to wire responses. Business-rule
// rejections surface their reason verbatim; everything unexpected is a 500
// with no internals leaked.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	var rej *coupon.RejectionError
	switch {
	case errors.As(err, &rej):
		respondError(w, http.StatusBadRequest, rej.Reason)
	case errors.Is(err, order.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "Cart is empty")
	case errors.Is(err, order.ErrInvalidSignature):
		respondError(w, http.StatusBadRequest, "invalid payment signature")
	case errors.Is(err, order.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, product.ErrNotFound):
		respondError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, coupon.ErrNotFound):
		respondError(w, http.StatusNotFound, "coupon not found")
	case errors.Is(err, order.ErrCancelNotAllowed):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		respondError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		h.lg.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
