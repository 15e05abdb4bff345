package rating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/condition"
	"freightaudit/internal/lane"
	"freightaudit/internal/ratecard"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func day(s string) *time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return &t
}

func testBundle() ratecard.Bundle {
	card := &ratecard.RateCard{
		AgreementID: "AGR-1",
		Columns: []ratecard.Column{
			ratecard.MapColumn("Origin Country"),
			ratecard.MapColumn("Destination Country"),
		},
		Lanes: []ratecard.Lane{
			{
				Number:      "10",
				Constraints: map[string]string{"Origin Country": "ES"},
				Prices: map[string]ratecard.PriceSet{
					"Pickup": {Flat: nd("20")},
				},
			},
			{
				Number:      "20",
				Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"},
				Prices: map[string]ratecard.PriceSet{
					"Transport cost": {PerUnit: nd("0.5"), Min: nd("100"), Max: nd("400")},
					"Delivery fee": {Tiers: []ratecard.TierPrice{
						{Label: "≤200", Price: dec("50")},
						{Label: ">200 ≤500", Price: dec("80")},
					}},
					"Pickup":                 {Flat: nd("25")},
					"Handling (ADR)":         {Flat: nd("15")},
					"Handling":               {},
					"Loading":                {PerUnit: nd("12")},
					"Pallet fee":             {Tiers: []ratecard.TierPrice{{Label: "1-2 pallets", Price: dec("10")}, {Label: "3-10 pallets", Price: dec("8")}}},
					"Express surcharge (ES)": {Flat: nd("30")},
					"Express surcharge (PT)": {Flat: nd("35")},
				},
			},
		},
		Costs: []ratecard.CostDefinition{
			{Name: "Transport cost", RateBy: "PER KG (Upper To 10)"},
			{Name: "Delivery fee", RateBy: "PER SHIPMENT"},
			{Name: "Pickup", RateBy: "PER SHIPMENT", AppliesIf: "Service equals 'Express'"},
			{Name: "Handling", RateBy: "PER SHIPMENT"},
			{Name: "Loading", RateBy: "PER LDM"},
			{Name: "Pallet fee", RateBy: "PER PALLET"},
			{Name: "Express surcharge (PT)", RateBy: "PER SHIPMENT", AppliesIf: "Origin Country equals 'PT'"},
			{Name: "Express surcharge (ES)", RateBy: "PER SHIPMENT", AppliesIf: "Origin Country equals 'ES'"},
			{Name: "Customs check", RateBy: "PER SHIPMENT", AppliesIf: "Origin Country maybe 'ES'"},
		},
	}
	acc := &ratecard.AccessorialCatalog{
		AgreementID: "AGR-1",
		Costs: []ratecard.AccessorialCost{
			{Name: "Fuel Surcharge", Percentage: nd("12"), PercentageOf: []string{"Transport cost"}},
			{Name: "Customs tax", Percentage: nd("10"), PercentageOf: []string{"Duties"}},
			{Name: "Toll", RateBy: "PER SHIPMENT", Flat: nd("7.5")},
			{Name: "Toll", LaneNumber: "20", RateBy: "PER SHIPMENT", Flat: nd("9")},
			{Name: "Waiting time", RateBy: "PER HOUR", PerUnit: nd("30"), Min: nd("45")},
			{Name: "Old fee", RateBy: "PER SHIPMENT", Flat: nd("5"), ValidTo: day("2020-12-31")},
			{Name: "Ferry", LaneNumber: "30", RateBy: "PER SHIPMENT", Flat: nd("60")},
		},
	}
	return ratecard.Bundle{RateCard: card, Accessorials: acc}
}

func testShipment(weight string) *ratecard.Shipment {
	s := &ratecard.Shipment{
		ID:          "ETOF-1",
		AgreementID: "AGR-1",
		Attributes: map[string]string{
			ratecard.AttrShipCountry: "ES",
			ratecard.AttrCustCountry: "FR",
			ratecard.AttrService:     "Express",
			ratecard.AttrLDM:         "2,5",
			ratecard.AttrPallets:     "4",
		},
		Measurements: map[string]decimal.Decimal{"Waiting/Hour": dec("1")},
		ShipDate:     day("2025-06-01"),
	}
	if weight != "" {
		s.Weight = nd(weight)
	}
	return s
}

func newResolver(opts ...Option) *Resolver {
	conds := condition.NewEvaluator(nil)
	return NewResolver(conds, lane.NewMatcher(conds), opts...)
}

func resolveOne(t *testing.T, costType string, s *ratecard.Shipment) Resolution {
	t.Helper()
	line := Line{ID: "L1", ShipmentID: s.ID, AgreementID: s.AgreementID, CostType: costType}
	return newResolver().Resolve(context.Background(), line, s, testBundle(), nil)
}

func TestResolve_PerUnitWithRoundingAndClamp(t *testing.T) {
	tests := []struct {
		weight string
		price  string
		clamp  Clamp
	}{
		{"320", "160", ClampNone},
		{"315", "160", ClampNone},
		{"123", "100", ClampMin},
		{"1000", "400", ClampMax},
	}
	for _, tt := range tests {
		t.Run(tt.weight, func(t *testing.T) {
			res := resolveOne(t, "Transport cost", testShipment(tt.weight))
			require.Equal(t, StatusResolved, res.Status, res.Explanation)
			assert.True(t, res.Price.Decimal.Equal(dec(tt.price)), "got %s", res.Price.Decimal)
			assert.Equal(t, tt.clamp, res.Clamp)
			assert.Equal(t, SourceRateCard, res.Source)
			assert.Equal(t, []string{"20"}, res.Lanes)
			assert.Equal(t, "per_unit per weight (rounded up to 10)", res.Basis)
		})
	}
}

func TestResolve_RoundingIdempotentInExplanation(t *testing.T) {
	res := resolveOne(t, "Transport cost", testShipment("320"))
	assert.NotContains(t, res.Explanation, "rounded")

	res = resolveOne(t, "Transport cost", testShipment("315"))
	assert.Contains(t, res.Explanation, "315 rounded up to 10")
}

func TestResolve_MinBeforeMax(t *testing.T) {
	s := testShipment("")
	s.Measurements["Waiting/Hour"] = dec("1")
	res := resolveOne(t, "Waiting time", s)

	require.Equal(t, StatusResolved, res.Status, res.Explanation)
	assert.Equal(t, ClampMin, res.Clamp)
	assert.True(t, res.Price.Decimal.Equal(dec("45")))

	clamped := &Resolution{}
	finish(clamped, dec("10"), "calc", nd("50"), nd("5"))
	assert.Equal(t, ClampMin, clamped.Clamp)
	assert.True(t, clamped.Price.Decimal.Equal(dec("50")))
}

func TestResolve_WeightTieredFlat(t *testing.T) {
	res := resolveOne(t, "Delivery fee", testShipment("320"))
	require.Equal(t, StatusResolved, res.Status)
	assert.True(t, res.Price.Decimal.Equal(dec("80")))
	assert.Equal(t, ">200 ≤500", res.Tier)
	assert.Equal(t, "tiered_flat", res.Basis)

	res = resolveOne(t, "Delivery fee", testShipment("501"))
	assert.Equal(t, StatusTierExceeded, res.Status)
	assert.False(t, res.Price.Valid)
	assert.Contains(t, res.Explanation, "exceeds max tier")

	res = resolveOne(t, "Delivery fee", testShipment(""))
	assert.Equal(t, StatusMultiplierMissing, res.Status)
}

func TestResolve_TieredPerUnitByPallets(t *testing.T) {
	res := resolveOne(t, "Pallet fee", testShipment("100"))
	require.Equal(t, StatusResolved, res.Status, res.Explanation)
	assert.Equal(t, "3-10 pallets", res.Tier)
	assert.True(t, res.Price.Decimal.Equal(dec("32")))
}

func TestResolve_PerUnitFromAttribute(t *testing.T) {
	res := resolveOne(t, "Loading", testShipment("100"))
	require.Equal(t, StatusResolved, res.Status, res.Explanation)
	assert.True(t, res.Price.Decimal.Equal(dec("30")))

	s := testShipment("100")
	delete(s.Attributes, ratecard.AttrLDM)
	res = resolveOne(t, "Loading", s)
	assert.Equal(t, StatusMultiplierMissing, res.Status)
	assert.NotEmpty(t, res.Explanation)
}

func TestResolve_ConditionNotMet(t *testing.T) {
	s := testShipment("100")
	s.Attributes[ratecard.AttrService] = "Standard"

	res := resolveOne(t, "Pickup", s)
	assert.Equal(t, StatusConditionNotMet, res.Status)
	assert.False(t, res.Price.Valid)
	assert.Contains(t, res.Explanation, "condition not met")
}

func TestResolve_UnparseableConditionNeedsReview(t *testing.T) {
	res := resolveOne(t, "Customs check", testShipment("100"))
	assert.Equal(t, StatusNeedsReview, res.Status)
	assert.True(t, res.Status.NeedsReview())
}

func TestResolve_SiblingColumnIsAnnotated(t *testing.T) {
	res := resolveOne(t, "Handling", testShipment("100"))
	require.Equal(t, StatusResolved, res.Status)
	assert.True(t, res.Price.Decimal.Equal(dec("15")))
	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[len(res.Notes)-1], `sibling column "Handling (ADR)"`)
}

func TestResolve_PrefersSatisfiedCostDefinition(t *testing.T) {
	res := resolveOne(t, "Express surcharge", testShipment("100"))
	require.Equal(t, StatusResolved, res.Status, res.Explanation)
	assert.Equal(t, "Express surcharge (ES)", res.CostName)
	assert.True(t, res.Price.Decimal.Equal(dec("30")))
}

func TestResolve_LaneOutcomes(t *testing.T) {
	s := testShipment("320")
	s.Attributes[ratecard.AttrCustCountry] = "DE"
	res := resolveOne(t, "Transport cost", s)
	assert.Equal(t, StatusLanesAmbiguous, res.Status)
	assert.Equal(t, []string{"10", "20"}, res.Lanes)
	assert.True(t, res.Status.NeedsReview())

	s = testShipment("320")
	s.Attributes[ratecard.AttrShipCountry] = "IT"
	res = resolveOne(t, "Transport cost", s)
	assert.Equal(t, StatusLaneNotFound, res.Status)
	assert.NotEmpty(t, res.Explanation)
}

func TestResolve_DirectLaneNumber(t *testing.T) {
	r := newResolver()
	b := testBundle()
	s := testShipment("320")

	res := r.Resolve(context.Background(), Line{CostType: "Transport cost", LaneNumber: "99"}, s, b, nil)
	assert.Equal(t, StatusLaneNotFound, res.Status)
	assert.Contains(t, res.Explanation, "billed lane 99")

	res = r.Resolve(context.Background(), Line{CostType: "Pickup", LaneNumber: "10"}, s, b, nil)
	require.Equal(t, StatusResolved, res.Status)
	assert.True(t, res.Price.Decimal.Equal(dec("20")))

	res = r.Resolve(context.Background(), Line{CostType: "Transport cost", LaneNumber: "10"}, s, b, nil)
	assert.Equal(t, StatusPriceMissing, res.Status)
	assert.Contains(t, res.Explanation, "lane 10 has no price for Transport cost")
}

func TestResolve_DirectLaneDisqualificationIsNoted(t *testing.T) {
	s := testShipment("320")
	s.Attributes[ratecard.AttrShipCountry] = "ES"
	b := testBundle()
	b.RateCard.Lanes[0].ValidTo = day("2024-01-01")

	res := newResolver().Resolve(context.Background(), Line{CostType: "Pickup", LaneNumber: "10"}, s, b, nil)
	require.Equal(t, StatusResolved, res.Status)
	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[0], "would be disqualified")
}

func TestResolve_PercentageOverBaseCost(t *testing.T) {
	ledger := NewLedger()
	ledger.Add("Transport cost", dec("150.0"))

	res := newResolver().Resolve(context.Background(), Line{CostType: "Fuel Surcharge"}, testShipment("300"), testBundle(), ledger)

	require.Equal(t, StatusResolved, res.Status, res.Explanation)
	assert.True(t, res.Price.Decimal.Equal(dec("18")), "got %s", res.Price.Decimal)
	assert.Equal(t, SourceAccessorial, res.Source)
	assert.Contains(t, res.Explanation, "12% of 150.00")
	assert.Contains(t, res.Explanation, "Transport cost 150.00")
}

func TestResolve_PercentageWithoutBaseIsNotZero(t *testing.T) {
	res := resolveOne(t, "Fuel Surcharge", testShipment("300"))
	assert.Equal(t, StatusBaseCostNotFound, res.Status)
	assert.False(t, res.Price.Valid)

	res = resolveOne(t, "Customs tax", testShipment("300"))
	assert.Equal(t, StatusBaseCostNotFound, res.Status)
}

func TestResolve_PercentageAmbiguousBase(t *testing.T) {
	ledger := NewLedger()
	ledger.Add("Transport cost (road)", dec("100"))
	ledger.Add("Transport cost (ferry)", dec("50"))

	res := newResolver().Resolve(context.Background(), Line{CostType: "Fuel Surcharge"}, testShipment("300"), testBundle(), ledger)
	assert.Equal(t, StatusNeedsReview, res.Status)
	assert.Contains(t, res.Explanation, "several resolved costs")
}

func TestResolve_AccessorialLanePrecedence(t *testing.T) {
	r := newResolver()
	b := testBundle()

	res := r.Resolve(context.Background(), Line{CostType: "Toll"}, testShipment("100"), b, nil)
	require.Equal(t, StatusResolved, res.Status)
	assert.True(t, res.Price.Decimal.Equal(dec("9")))

	res = r.Resolve(context.Background(), Line{CostType: "Toll", LaneNumber: "10"}, testShipment("100"), b, nil)
	require.Equal(t, StatusResolved, res.Status)
	assert.True(t, res.Price.Decimal.Equal(dec("7.5")))

	res = r.Resolve(context.Background(), Line{CostType: "Ferry"}, testShipment("100"), b, nil)
	assert.Equal(t, StatusCostNotFound, res.Status)
	assert.Contains(t, res.Explanation, "no entry for lane 20")
}

func TestResolve_AccessorialValidity(t *testing.T) {
	res := resolveOne(t, "Old fee", testShipment("100"))
	assert.Equal(t, StatusCostNotFound, res.Status)
	assert.Contains(t, res.Explanation, "not valid on 2025-06-01")

	s := testShipment("100")
	s.ShipDate = day("2020-06-01")
	res = resolveOne(t, "Old fee", s)
	assert.Equal(t, StatusResolved, res.Status)
}

func TestResolve_StructuralFailures(t *testing.T) {
	r := newResolver()

	res := resolveOne(t, "Unicorn fee", testShipment("100"))
	assert.Equal(t, StatusCostNotFound, res.Status)
	assert.NotEmpty(t, res.Explanation)

	res = r.Resolve(context.Background(), Line{ShipmentID: "ETOF-404", CostType: "Pickup"}, nil, testBundle(), nil)
	assert.Equal(t, StatusShipmentMissing, res.Status)

	res = r.Resolve(context.Background(), Line{CostType: "Toll"}, testShipment("100"), ratecard.Bundle{}, nil)
	assert.Equal(t, StatusCostNotFound, res.Status)
	assert.Contains(t, res.Explanation, "has no rate card or accessorial catalog")

	res = r.Resolve(context.Background(), Line{CostType: "Toll"}, testShipment("100"), ratecard.Bundle{RateCard: testBundle().RateCard}, nil)
	assert.Equal(t, StatusCostNotFound, res.Status)
	assert.Contains(t, res.Explanation, "no accessorial catalog")

	res = Unavailable(Line{ID: "L1", AgreementID: "AG-1", CostType: "Toll"}, errors.New("connection refused"))
	assert.Equal(t, StatusCatalogUnavailable, res.Status)
	assert.False(t, res.Price.Valid)
	assert.Contains(t, res.Explanation, "connection refused")

	res = r.Resolve(context.Background(), Line{CostType: " "}, testShipment("100"), testBundle(), nil)
	assert.Equal(t, StatusCostNotFound, res.Status)
}

func TestResolve_InvoiceDelta(t *testing.T) {
	s := testShipment("320")
	line := Line{ID: "L9", CostType: "Transport cost", Invoiced: nd("170")}
	res := newResolver().Resolve(context.Background(), line, s, testBundle(), nil)

	require.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, "L9", res.LineID)
	assert.Equal(t, "ETOF-1", res.ShipmentID)
	assert.True(t, res.Delta.Valid)
	assert.True(t, res.Delta.Decimal.Equal(dec("10")))
}

func TestResolveShipment_PercentageAfterBase(t *testing.T) {
	lines := []Line{
		{ID: "1", CostType: "Fuel Surcharge"},
		{ID: "2", CostType: "Transport cost"},
		{ID: "3", CostType: "Toll"},
	}
	out := newResolver().ResolveShipment(context.Background(), testShipment("300"), testBundle(), lines)

	require.Len(t, out, 3)
	assert.Equal(t, "1", out[0].LineID)
	require.Equal(t, StatusResolved, out[1].Status)
	assert.True(t, out[1].Price.Decimal.Equal(dec("150")))
	require.Equal(t, StatusResolved, out[0].Status, out[0].Explanation)
	assert.True(t, out[0].Price.Decimal.Equal(dec("18")))
}

func TestResolveShipment_EveryLineExplained(t *testing.T) {
	lines := []Line{
		{CostType: "Transport cost"},
		{CostType: "Delivery fee"},
		{CostType: "Pickup"},
		{CostType: "Fuel Surcharge"},
		{CostType: "Unicorn fee"},
	}
	out := newResolver().ResolveShipment(context.Background(), testShipment("900"), testBundle(), lines)
	for _, res := range out {
		assert.NotEmpty(t, res.Status)
		assert.NotEmpty(t, res.Explanation, res.CostType)
	}
}

func TestIsPercentage(t *testing.T) {
	r := newResolver()
	b := testBundle()
	assert.True(t, r.IsPercentage("Fuel Surcharge", b))
	assert.False(t, r.IsPercentage("Toll", b))
	assert.False(t, r.IsPercentage("Transport cost", b))
}

func TestWithTieBreak(t *testing.T) {
	r := newResolver(WithTieBreak(TieBreak{Satisfied: PreferShortest}))
	assert.Equal(t, PreferShortest, r.TieBreak().Satisfied)
	assert.Equal(t, PreferShortest, r.TieBreak().Unsatisfied)
}
