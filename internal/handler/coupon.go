package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/oakmarket/checkout/internal/domain/coupon"
)

type validateCouponRequest struct {
	CouponCode string  `json:"couponCode"`
	Subtotal   float64 `json:"subtotal"`
}

type validateCouponResponse struct {
	OK         bool    `json:"ok"`
	Discount   float64 `json:"discount,omitempty"`
	CouponCode string  `json:"couponCode,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// ValidateCoupon previews a coupon against a subtotal. Evaluation is
// side-effect-free: no usage is reserved here. Rejections are a 200 with
// ok=false so the storefront can render the reason inline.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	applied, err := h.coupons.Evaluate(r.Context(), req.CouponCode, decimal.NewFromFloat(req.Subtotal))
	if err != nil {
		var rej *coupon.RejectionError
		if errors.As(err, &rej) {
			respondJSON(w, http.StatusOK, validateCouponResponse{OK: false, Reason: rej.Reason})
			return
		}
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, validateCouponResponse{
		OK:         true,
		Discount:   applied.Discount.InexactFloat64(),
		CouponCode: applied.Code,
	})
}
