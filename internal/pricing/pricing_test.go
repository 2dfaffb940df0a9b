package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"table-service/internal/models"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int64) *int64     { return &v }

func TestComputeItemTotal_ModifiersAndQuantity(t *testing.T) {
	item := models.OrderItemInput{
		MenuItemID: "pizza",
		Quantity:   2,
		Modifiers: []models.Modifier{
			{Name: "extra cheese", PriceCents: 150},
			{Name: "large", PriceCents: 300},
		},
	}

	res := ComputeItemTotal(item, 1000)

	assert.Equal(t, int64(2900), res.BaseCents)
	assert.Equal(t, int64(2900), res.TotalCents)
	assert.Nil(t, res.AppliedDiscount)
}

func TestComputeItemTotal_PercentageRoundsHalfUp(t *testing.T) {
	item := models.OrderItemInput{
		Quantity: 1,
		Discount: &models.DiscountSpec{Type: models.DiscountPercentage, Value: 15},
	}

	// 15% of 1010 = 151.5 -> 152
	res := ComputeItemTotal(item, 1010)

	require.NotNil(t, res.AppliedDiscount)
	assert.Equal(t, int64(152), res.AppliedDiscount.AmountCents)
	assert.Equal(t, int64(858), res.TotalCents)
}

func TestComputeItemTotal_FixedDiscountClampedToBase(t *testing.T) {
	item := models.OrderItemInput{
		Quantity: 1,
		Discount: &models.DiscountSpec{Type: models.DiscountFixed, Value: 5000},
	}

	res := ComputeItemTotal(item, 1200)

	assert.Equal(t, int64(1200), res.AppliedDiscount.AmountCents)
	assert.Equal(t, int64(0), res.TotalCents)
}

func TestComputeItemTotal_NegativeInputsClamped(t *testing.T) {
	item := models.OrderItemInput{
		Quantity:  1,
		Modifiers: []models.Modifier{{Name: "bogus", PriceCents: -500}},
	}

	res := ComputeItemTotal(item, -100)

	assert.Equal(t, int64(0), res.BaseCents)
	assert.Equal(t, int64(0), res.TotalCents)
}

func TestApplySequentialDiscounts_OrderMatters(t *testing.T) {
	tenPercent := models.DiscountSpec{Code: "TEN", Type: models.DiscountPercentage, Value: 10}
	fiveOff := models.DiscountSpec{Code: "FIVE", Type: models.DiscountFixed, Value: 500}

	forward := ApplySequentialDiscounts(10000, []models.DiscountSpec{tenPercent, fiveOff})
	require.Len(t, forward.Applied, 2)
	assert.Equal(t, int64(9000), forward.Applied[0].ResultCents)
	assert.Equal(t, int64(8500), forward.Applied[1].ResultCents)
	assert.Equal(t, int64(8500), forward.TotalCents)
	assert.Equal(t, int64(1500), forward.TotalDiscountCents)

	reverse := ApplySequentialDiscounts(10000, []models.DiscountSpec{fiveOff, tenPercent})
	require.Len(t, reverse.Applied, 2)
	assert.Equal(t, int64(9500), reverse.Applied[0].ResultCents)
	assert.Equal(t, int64(8550), reverse.Applied[1].ResultCents)
	assert.Equal(t, int64(8550), reverse.TotalCents)
	assert.Equal(t, "FIVE", reverse.Applied[0].Code)
}

func TestApplySequentialDiscounts_Empty(t *testing.T) {
	res := ApplySequentialDiscounts(1234, nil)
	assert.Equal(t, int64(1234), res.TotalCents)
	assert.Zero(t, res.TotalDiscountCents)
	assert.Empty(t, res.Applied)
}

func TestComputeTaxes_DefaultWhenNoSpecs(t *testing.T) {
	res := ComputeTaxes(1200, nil, StandardTax)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "IVA", res.Applied[0].Code)
	assert.Equal(t, int64(252), res.TaxCents)
	assert.Equal(t, int64(1452), res.TotalCents)
}

func TestComputeTaxes_DefaultWhenSpecsUnusable(t *testing.T) {
	res := ComputeTaxes(1000, []models.TaxSpec{{Code: "EMPTY"}, {Code: "NEG", Rate: ptrF(-0.1)}}, StandardTax)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "IVA", res.Applied[0].Code)
	assert.Equal(t, int64(210), res.TaxCents)
}

func TestComputeTaxes_ExplicitRateAndFixed(t *testing.T) {
	res := ComputeTaxes(1005, []models.TaxSpec{
		{Code: "VAT", Name: "VAT 10%", Rate: ptrF(0.10)},
		{Code: "ECO", AmountCents: ptrI(50)},
	}, StandardTax)

	require.Len(t, res.Applied, 2)
	// 100.5 -> 101
	assert.Equal(t, int64(101), res.Applied[0].ComputedCents)
	assert.Equal(t, "ECO", res.Applied[1].Name)
	assert.Equal(t, int64(151), res.TaxCents)
	assert.Equal(t, int64(1156), res.TotalCents)
}

func TestComputeTaxes_ZeroRateExpressesNoTax(t *testing.T) {
	res := ComputeTaxes(1000, []models.TaxSpec{{Code: "EXEMPT", Rate: ptrF(0)}}, StandardTax)

	require.Len(t, res.Applied, 1)
	assert.Equal(t, "EXEMPT", res.Applied[0].Code)
	assert.Zero(t, res.TaxCents)
}

func TestComputeOrder_FullPipeline(t *testing.T) {
	lines := []Line{
		{
			Item: models.OrderItemInput{
				MenuItemID: "pizza",
				Quantity:   1,
				Modifiers:  []models.Modifier{{Name: "extra cheese", PriceCents: 200}},
			},
			Name:           "Margherita",
			UnitPriceCents: 1000,
		},
		{
			Item:           models.OrderItemInput{MenuItemID: "cola", Quantity: 2},
			Name:           "Cola",
			UnitPriceCents: 250,
		},
	}

	totals := ComputeOrder(lines,
		[]models.DiscountSpec{{Type: models.DiscountPercentage, Value: 10}},
		nil, 300, 100, StandardTax)

	assert.Equal(t, int64(1700), totals.SubtotalCents)
	assert.Equal(t, int64(170), totals.DiscountCents)
	// 21% of 1530 = 321.3 -> 321
	assert.Equal(t, int64(321), totals.TaxCents)
	assert.Equal(t, int64(1530+321+300+100), totals.TotalCents)
	require.Len(t, totals.ResolvedTaxes, 1)
	assert.Equal(t, "IVA", totals.ResolvedTaxes[0].Code)
}

func TestRecompute_MatchesStoredTotals(t *testing.T) {
	lines := []Line{{
		Item: models.OrderItemInput{
			MenuItemID: "burger",
			Quantity:   3,
			Discount:   &models.DiscountSpec{Type: models.DiscountFixed, Value: 100},
		},
		Name:           "Burger",
		UnitPriceCents: 899,
	}}
	totals := ComputeOrder(lines,
		[]models.DiscountSpec{{Type: models.DiscountFixed, Value: 250}, {Type: models.DiscountPercentage, Value: 5}},
		[]models.TaxSpec{{Code: "VAT", Rate: ptrF(0.1)}}, 0, 0, StandardTax)

	order := &models.Order{Discounts: []models.DiscountSpec{{Type: models.DiscountFixed, Value: 250}, {Type: models.DiscountPercentage, Value: 5}}}
	totals.Apply(order)

	again := Recompute(order, TaxDefault{Code: "OTHER", Rate: StandardTax.Rate})
	assert.Equal(t, order.TotalCents, again.TotalCents)
	assert.Equal(t, order.TaxCents, again.TaxCents)
}

func TestParseTaxDefault(t *testing.T) {
	def, err := ParseTaxDefault("VAT", "VAT", "0.07")
	require.NoError(t, err)
	assert.Equal(t, "0.07", def.Rate.String())

	_, err = ParseTaxDefault("VAT", "VAT", "seven")
	assert.Error(t, err)
}
