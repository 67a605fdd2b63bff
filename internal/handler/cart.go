package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type addCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cartLineResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// AddToCart upserts a product into the caller's cart.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addCartRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		respondError(w, http.StatusUnprocessableEntity, "productId and a positive quantity are required")
		return
	}

	if err := h.carts.Add(r.Context(), UserID(r.Context()), req.ProductID, req.Quantity); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCart returns the caller's cart with current catalog prices.
func (h *Handler) ListCart(w http.ResponseWriter, r *http.Request) {
	lines, err := h.carts.List(r.Context(), UserID(r.Context()))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := make([]cartLineResponse, len(lines))
	for i, l := range lines {
		resp[i] = cartLineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Price:     l.Price.InexactFloat64(),
			Quantity:  l.Quantity,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// RemoveFromCart deletes one product from the caller's cart.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	err := h.carts.Remove(r.Context(), UserID(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
