// Package pricing computes order money. Every amount is an int64 in minor
// currency units (cents). Rates and percentages go through decimal so that
// rounding is exact round-half-up on the intermediate value.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"table-service/internal/models"
)

// TaxDefault is the tax applied when an order carries no usable tax spec.
type TaxDefault struct {
	Code string
	Name string
	Rate decimal.Decimal
}

// StandardTax is the flat 21% fallback.
var StandardTax = TaxDefault{Code: "IVA", Name: "IVA 21%", Rate: decimal.RequireFromString("0.21")}

type ItemResult struct {
	BaseCents       int64
	TotalCents      int64
	AppliedDiscount *models.AppliedDiscount
}

type DiscountResult struct {
	TotalCents         int64
	Applied            []models.AppliedDiscount
	TotalDiscountCents int64
}

type TaxResult struct {
	TotalCents int64
	TaxCents   int64
	Applied    []models.AppliedTax
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// roundHalfUp rounds a non-negative decimal to whole cents.
func roundHalfUp(d decimal.Decimal) int64 {
	if d.IsNegative() {
		return 0
	}
	return d.Round(0).IntPart()
}

// ComputeItemTotal prices one order line: (unit + modifiers) x quantity,
// minus the line's own discount if it has one.
func ComputeItemTotal(item models.OrderItemInput, unitPriceCents int64) ItemResult {
	perUnit := clamp(unitPriceCents)
	for _, m := range item.Modifiers {
		perUnit += clamp(m.PriceCents)
	}
	qty := int64(item.Quantity)
	if qty < 0 {
		qty = 0
	}
	base := perUnit * qty

	res := ItemResult{BaseCents: base, TotalCents: base}
	if item.Discount != nil {
		applied := applyDiscount(base, *item.Discount)
		res.AppliedDiscount = &applied
		res.TotalCents = applied.ResultCents
	}
	return res
}

func discountAmount(base int64, spec models.DiscountSpec) int64 {
	if base <= 0 || math.IsNaN(spec.Value) || spec.Value <= 0 {
		return 0
	}
	switch spec.Type {
	case models.DiscountPercentage:
		pct := decimal.NewFromFloat(math.Min(spec.Value, 100))
		return roundHalfUp(decimal.NewFromInt(base).Mul(pct).Div(decimal.NewFromInt(100)))
	case models.DiscountFixed:
		amount := roundHalfUp(decimal.NewFromFloat(spec.Value))
		if amount > base {
			return base
		}
		return amount
	default:
		return 0
	}
}

func applyDiscount(base int64, spec models.DiscountSpec) models.AppliedDiscount {
	base = clamp(base)
	amount := discountAmount(base, spec)
	return models.AppliedDiscount{
		Code:        spec.Code,
		Name:        spec.Name,
		Type:        spec.Type,
		Value:       spec.Value,
		BaseCents:   base,
		AmountCents: amount,
		ResultCents: base - amount,
	}
}

// ApplySequentialDiscounts compounds discounts in the given order: each one
// is computed against the total left by the previous one, so reordering the
// list changes the result.
func ApplySequentialDiscounts(amountCents int64, discounts []models.DiscountSpec) DiscountResult {
	running := clamp(amountCents)
	res := DiscountResult{TotalCents: running}
	for _, d := range discounts {
		applied := applyDiscount(running, d)
		res.Applied = append(res.Applied, applied)
		res.TotalDiscountCents += applied.AmountCents
		running = applied.ResultCents
	}
	res.TotalCents = running
	return res
}

// ComputeTaxes applies the given specs to amount. Specs with neither a fixed
// amount nor a valid rate are skipped; when nothing usable remains the
// fallback tax applies.
func ComputeTaxes(amountCents int64, specs []models.TaxSpec, fallback TaxDefault) TaxResult {
	amount := clamp(amountCents)
	res := TaxResult{}

	for _, spec := range specs {
		applied, ok := applyTax(amount, spec)
		if !ok {
			continue
		}
		res.Applied = append(res.Applied, applied)
		res.TaxCents += applied.ComputedCents
	}

	if len(res.Applied) == 0 {
		rate, _ := fallback.Rate.Float64()
		applied := models.AppliedTax{
			Code:          fallback.Code,
			Name:          fallback.Name,
			Rate:          &rate,
			ComputedCents: roundHalfUp(decimal.NewFromInt(amount).Mul(fallback.Rate)),
		}
		res.Applied = []models.AppliedTax{applied}
		res.TaxCents = applied.ComputedCents
	}

	res.TotalCents = amount + res.TaxCents
	return res
}

func applyTax(amount int64, spec models.TaxSpec) (models.AppliedTax, bool) {
	applied := models.AppliedTax{Code: spec.Code, Name: spec.Name}
	if applied.Name == "" {
		applied.Name = spec.Code
	}

	switch {
	case spec.AmountCents != nil:
		fixed := clamp(*spec.AmountCents)
		applied.AmountCents = &fixed
		applied.ComputedCents = fixed
	case spec.Rate != nil && !math.IsNaN(*spec.Rate) && !math.IsInf(*spec.Rate, 0) && *spec.Rate >= 0:
		rate := *spec.Rate
		applied.Rate = &rate
		applied.ComputedCents = roundHalfUp(decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(rate)))
	default:
		return applied, false
	}
	return applied, true
}

// Line pairs a requested order line with the catalog price it was priced at.
type Line struct {
	Item           models.OrderItemInput
	Name           string
	UnitPriceCents int64
}

type OrderTotals struct {
	Items              []models.OrderItem
	AppliedDiscounts   []models.AppliedDiscount
	AppliedTaxes       []models.AppliedTax
	ResolvedTaxes      []models.TaxSpec
	SubtotalCents      int64
	DiscountCents      int64
	TaxCents           int64
	TipCents           int64
	ServiceChargeCents int64
	TotalCents         int64
}

// ComputeOrder runs the full pipeline: line totals, compounding order
// discounts, taxes on the discounted subtotal, then tip and service charge.
func ComputeOrder(lines []Line, discounts []models.DiscountSpec, taxes []models.TaxSpec, tipCents, serviceCents int64, fallback TaxDefault) OrderTotals {
	out := OrderTotals{
		TipCents:           clamp(tipCents),
		ServiceChargeCents: clamp(serviceCents),
	}

	for _, l := range lines {
		r := ComputeItemTotal(l.Item, l.UnitPriceCents)
		out.Items = append(out.Items, models.OrderItem{
			MenuItemID:      l.Item.MenuItemID,
			Name:            l.Name,
			Quantity:        l.Item.Quantity,
			UnitPriceCents:  clamp(l.UnitPriceCents),
			Modifiers:       l.Item.Modifiers,
			Discount:        l.Item.Discount,
			AppliedDiscount: r.AppliedDiscount,
			BaseCents:       r.BaseCents,
			TotalCents:      r.TotalCents,
			Notes:           l.Item.Notes,
		})
		out.SubtotalCents += r.TotalCents
	}

	disc := ApplySequentialDiscounts(out.SubtotalCents, discounts)
	out.AppliedDiscounts = disc.Applied
	out.DiscountCents = disc.TotalDiscountCents

	tax := ComputeTaxes(disc.TotalCents, taxes, fallback)
	out.AppliedTaxes = tax.Applied
	out.TaxCents = tax.TaxCents
	for _, t := range tax.Applied {
		out.ResolvedTaxes = append(out.ResolvedTaxes, models.TaxSpec{
			Code:        t.Code,
			Name:        t.Name,
			Rate:        t.Rate,
			AmountCents: t.AmountCents,
		})
	}

	out.TotalCents = disc.TotalCents + tax.TaxCents + out.TipCents + out.ServiceChargeCents
	return out
}

// Recompute prices a stored order again from its line snapshots, discount
// specs and resolved taxes. The result must equal what was stored.
func Recompute(o *models.Order, fallback TaxDefault) OrderTotals {
	lines := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, Line{
			Item: models.OrderItemInput{
				MenuItemID: it.MenuItemID,
				Quantity:   it.Quantity,
				Modifiers:  it.Modifiers,
				Discount:   it.Discount,
				Notes:      it.Notes,
			},
			Name:           it.Name,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	return ComputeOrder(lines, o.Discounts, o.Taxes, o.TipCents, o.ServiceChargeCents, fallback)
}

// Apply copies computed totals onto an order.
func (t OrderTotals) Apply(o *models.Order) {
	o.Items = t.Items
	o.AppliedDiscounts = t.AppliedDiscounts
	o.AppliedTaxes = t.AppliedTaxes
	o.Taxes = t.ResolvedTaxes
	o.SubtotalCents = t.SubtotalCents
	o.DiscountCents = t.DiscountCents
	o.TaxCents = t.TaxCents
	o.TipCents = t.TipCents
	o.ServiceChargeCents = t.ServiceChargeCents
	o.TotalCents = t.TotalCents
}

// ParseTaxDefault builds the fallback tax from configuration values.
func ParseTaxDefault(code, name, rate string) (TaxDefault, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return TaxDefault{}, err
	}
	return TaxDefault{Code: code, Name: name, Rate: r}, nil
}
