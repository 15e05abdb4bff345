package condition

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/ratecard"
	"freightaudit/pkg/cel"
)

func testShipment() *ratecard.Shipment {
	return &ratecard.Shipment{
		ID:          "ETOF-100",
		AgreementID: "AGR-1",
		Attributes: map[string]string{
			ratecard.AttrShipCountry: "ES",
			ratecard.AttrCustCountry: "FR",
			ratecard.AttrCustPostal:  "75008",
			ratecard.AttrService:     "Express",
			ratecard.AttrCarrier:     "",
			"PRODUCT_GROUP":          "FOOD; FOOD; CHEM",
			"PALLETS":                "03",
		},
		Weight: decimal.NewNullDecimal(decimal.NewFromInt(320)),
	}
}

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	expr, err := cel.NewEvaluator()
	require.NoError(t, err)
	return NewEvaluator(expr)
}

func TestEvaluator_Check(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	s := testShipment()

	tests := []struct {
		name          string
		text          string
		satisfied     bool
		columnMissing bool
	}{
		{"empty always holds", "", true, false},
		{"synonym column equals any", "Origin Country equals 'PT', 'es'", true, false},
		{"equals fails", "Origin Country equals 'PT'", false, false},
		{"does not equal holds", "Destination Country does not equal 'ES', 'BE'", true, false},
		{"does not equal fails", "Destination Country does not equal 'FR'", false, false},
		{"starts with", "Destination Postal Code starts with '75'", true, false},
		{"contains case-insensitive", "Service contains 'EXP'", true, false},
		{"does not contain", "Service does not contain 'economy'", true, false},
		{"blank attribute negative is vacuous", "Carrier does not equal 'DHL'", true, false},
		{"blank attribute positive fails", "Carrier equals 'DHL'", false, false},
		{"numeric equality", "Pallets equals '3'", true, false},
		{"column not found", "Hazmat Class equals 'A'", false, true},
		{"conjunction within item", "1. Origin Country equals 'ES' and Service equals 'standard'", false, false},
		{"items are alternatives", "1. Origin Country equals 'PT' 2. Destination Country equals 'FR'", true, false},
		{"any item", "Product group equals 'CHEM'", true, false},
		{"all items", "Product group equals 'FOOD' in all items", false, false},
		{"expression", "expr: has_weight && weight > 300.0", true, false},
		{"invoiced by carrier", "Applies if invoiced by Carrier", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Check(ctx, tt.text, s)
			assert.Equal(t, tt.satisfied, v.Satisfied, v.Reason)
			assert.Equal(t, tt.columnMissing, v.ColumnMissing, v.Reason)
			assert.NotEmpty(t, v.Reason)
		})
	}
}

func TestEvaluator_ColumnMissingReason(t *testing.T) {
	e := newEvaluator(t)
	v := e.Check(context.Background(), "Hazmat Class equals 'A'", testShipment())

	assert.False(t, v.Satisfied)
	assert.True(t, v.ColumnMissing)
	assert.Contains(t, v.Reason, "column not found")
}

func TestEvaluator_Unparseable(t *testing.T) {
	e := newEvaluator(t)

	v := e.Check(context.Background(), "Origin Country maybe 'ES'", testShipment())
	assert.False(t, v.Satisfied)
	assert.True(t, v.Unparseable)

	v = e.Check(context.Background(), "expr: weight +", testShipment())
	assert.True(t, v.Unparseable)
}

func TestEvaluator_ExprDisabled(t *testing.T) {
	e := NewEvaluator(nil)
	v := e.Check(context.Background(), "expr: weight > 1.0", testShipment())
	assert.False(t, v.Satisfied)
	assert.True(t, v.Unparseable)
}

func TestEvaluator_ParseIsMemoized(t *testing.T) {
	e := newEvaluator(t)
	p1, err := e.Parse("Country equals 'ES'")
	require.NoError(t, err)
	p2, err := e.Parse("Country equals 'ES'")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestHolds(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		value string
		want  bool
	}{
		{"equals any", Condition{Operator: Equals, Values: []string{"a", "B"}}, "b", true},
		{"not equals none", Condition{Operator: NotEquals, Values: []string{"a", "b"}}, "c", true},
		{"not equals one", Condition{Operator: NotEquals, Values: []string{"a", "b"}}, "B", false},
		{"not contains blank", Condition{Operator: NotContains, Values: []string{"x"}}, "", true},
		{"contains blank", Condition{Operator: Contains, Values: []string{"x"}}, "  ", false},
		{"numeric", Condition{Operator: Equals, Values: []string{"2.50"}}, "2.5", true},
		{"all items", Condition{Operator: StartsWith, Values: []string{"F"}, AllItems: true}, "FOOD;FISH", true},
		{"all items fails", Condition{Operator: StartsWith, Values: []string{"F"}, AllItems: true}, "FOOD;CHEM", false},
		{"not equals over items", Condition{Operator: NotEquals, Values: []string{"CHEM"}}, "FOOD;CHEM", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Holds(tt.cond, tt.value))
		})
	}
}
