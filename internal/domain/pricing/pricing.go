// Package pricing derives order totals from cart contents. The engine is
// pure: the same Quote backs both the checkout path and price previews, so
// what the customer is shown before paying matches what is charged.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Config parameterizes an Engine. Tax and shipping differ between payment
// paths (cash-on-delivery checkout runs tax-free, the gateway path applies
// the configured rate), so each path gets its own Engine instance.
type Config struct {
	// TaxRate is applied to the taxable amount, e.g. 0.18 for 18%.
	TaxRate decimal.Decimal
	// FlatShippingFee is charged unless a free-shipping condition matches.
	FlatShippingFee decimal.Decimal
	// FreeShipCity waives shipping when the destination city contains this
	// token, matched case-insensitively. Empty disables the rule.
	FreeShipCity string
	// FreeShipWeight waives shipping when the order's total weight meets
	// this threshold. Zero disables the rule.
	FreeShipWeight decimal.Decimal
}

// Line is a priced cart line: unit price, per-unit weight, and quantity.
type Line struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Weight    decimal.Decimal
	Quantity  int
}

// Quote is the full price breakdown for an order. Invariant:
// Total = max(0, Subtotal-Discount) + Tax + ShippingCost.
type Quote struct {
	Subtotal     decimal.Decimal
	Discount     decimal.Decimal
	Tax          decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
	TotalWeight  decimal.Decimal
}

// Engine computes price quotes for a single tax/shipping configuration.
type Engine struct {
	cfg Config
}

// New creates an Engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Subtotal returns the sum of price * quantity across lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// TotalWeight returns the sum of weight * quantity across lines.
func TotalWeight(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Weight.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum
}

// Quote prices the given lines for delivery to city, after applying the
// discount. The discount is clamped to the subtotal before tax is computed.
func (e *Engine) Quote(lines []Line, city string, discount decimal.Decimal) Quote {
	subtotal := Subtotal(lines)
	weight := TotalWeight(lines)

	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(e.cfg.TaxRate).Round(2)
	shipping := e.shippingCost(city, weight)

	return Quote{
		Subtotal:     subtotal.Round(2),
		Discount:     discount.Round(2),
		Tax:          tax,
		ShippingCost: shipping,
		Total:        taxable.Add(tax).Add(shipping).Round(2),
		TotalWeight:  weight,
	}
}

// shippingCost returns zero when the destination matches the free-shipping
// city token or the order weight meets the free-shipping threshold.
func (e *Engine) shippingCost(city string, totalWeight decimal.Decimal) decimal.Decimal {
	if e.cfg.FreeShipCity != "" &&
		strings.Contains(strings.ToLower(city), strings.ToLower(e.cfg.FreeShipCity)) {
		return decimal.Zero
	}
	if e.cfg.FreeShipWeight.IsPositive() && totalWeight.GreaterThanOrEqual(e.cfg.FreeShipWeight) {
		return decimal.Zero
	}
	return e.cfg.FlatShippingFee
}
