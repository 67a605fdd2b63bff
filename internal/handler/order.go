package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakmarket/checkout/internal/domain/order"
)

type placeOrderRequest struct {
	ShippingAddress order.Address `json:"shippingAddress"`
	PaymentMethod   string        `json:"paymentMethod"`
	CouponCode      string        `json:"couponCode,omitempty"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	Subtotal      float64             `json:"subtotal"`
	Discount      float64             `json:"discount"`
	CouponCode    string              `json:"couponCode,omitempty"`
	Tax           float64             `json:"tax"`
	ShippingCost  float64             `json:"shippingCost"`
	Total         float64             `json:"total"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	PaymentMethod string              `json:"paymentMethod"`
	Items         []orderItemResponse `json:"items"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.InexactFloat64(),
		}
	}
	return orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Subtotal:      o.Subtotal.InexactFloat64(),
		Discount:      o.Discount.InexactFloat64(),
		CouponCode:    o.CouponCode,
		Tax:           o.Tax.InexactFloat64(),
		ShippingCost:  o.ShippingCost.InexactFloat64(),
		Total:         o.Total.InexactFloat64(),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: o.PaymentMethod,
		Items:         items,
	}
}

// PlaceOrder settles the caller's cart into an order paid by the chosen
// method (COD by default).
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	method := req.PaymentMethod
	if method == "" {
		method = order.MethodCOD
	}

	o, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		UserID:        UserID(r.Context()),
		Address:       req.ShippingAddress,
		PaymentMethod: method,
		CouponCode:    req.CouponCode,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderResponse(o))
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"), UserID(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// CancelOrder cancels a pre-shipping order on the caller's request.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), UserID(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
