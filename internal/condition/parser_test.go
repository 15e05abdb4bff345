package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_VerbPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		column string
		op     Operator
		values []string
	}{
		{"does not equal", "Country does not equal 'ES'", "Country", NotEquals, []string{"ES"}},
		{"does not contain", "Service does not contain 'express'", "Service", NotContains, []string{"express"}},
		{"equals", "Origin Country equals 'ES', 'PT'", "Origin Country", Equals, []string{"ES", "PT"}},
		{"contains", "Carrier contains 'DHL'", "Carrier", Contains, []string{"DHL"}},
		{"starts with", "Destination Postal Code starts with '75', '92'", "Destination Postal Code", StartsWith, []string{"75", "92"}},
		{"is equal to", "Mode is equal to 'ROAD'", "Mode", Equals, []string{"ROAD"}},
		{"not equal to", "Mode is not equal to 'AIR'", "Mode", NotEquals, []string{"AIR"}},
		{"bare values", "Incoterm equals DAP, DDP", "Incoterm", Equals, []string{"DAP", "DDP"}},
		{"curly quotes", "Country equals ‘FR’", "Country", Equals, []string{"FR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := Parse(tt.text)
			require.NoError(t, err)
			require.Len(t, pred.Items, 1)
			require.Len(t, pred.Items[0].Clauses, 1)

			c := pred.Items[0].Clauses[0]
			assert.Equal(t, tt.column, c.Column)
			assert.Equal(t, tt.op, c.Operator)
			assert.Equal(t, tt.values, c.Values)
		})
	}
}

func TestParse_NotEqualsNeverCapturesNotAsValue(t *testing.T) {
	pred, err := Parse("Country does not equal 'ES'")
	require.NoError(t, err)

	c := pred.Items[0].Clauses[0]
	assert.Equal(t, NotEquals, c.Operator)
	assert.Equal(t, "Country", c.Column)
	assert.NotContains(t, c.Column, "not")
	assert.Equal(t, []string{"ES"}, c.Values)
}

func TestParse_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "no condition", "No Condition.", "none"} {
		t.Run(text, func(t *testing.T) {
			pred, err := Parse(text)
			require.NoError(t, err)
			assert.True(t, pred.Unconditional())
		})
	}
}

func TestParse_InvoicedByCarrierIsUnconditional(t *testing.T) {
	pred, err := Parse("Applies if invoiced by Carrier")
	require.NoError(t, err)
	assert.True(t, pred.Unconditional())

	pred, err = Parse("1. Applies if invoiced by Carrier's subcontractor")
	require.NoError(t, err)
	assert.True(t, pred.Unconditional())
}

func TestParse_AndSplitsClauses(t *testing.T) {
	pred, err := Parse("1. Origin Country equals 'ES' and Destination Country does not equal 'FR', 'BE'")
	require.NoError(t, err)
	require.Len(t, pred.Items, 1)

	item := pred.Items[0]
	assert.Equal(t, 1, item.Number)
	require.Len(t, item.Clauses, 2)
	assert.Equal(t, Equals, item.Clauses[0].Operator)
	assert.Equal(t, NotEquals, item.Clauses[1].Operator)
	assert.Equal(t, []string{"FR", "BE"}, item.Clauses[1].Values)
}

func TestParse_AndInsideQuotesIsKept(t *testing.T) {
	pred, err := Parse("Service equals 'pick and pack'")
	require.NoError(t, err)
	require.Len(t, pred.Items[0].Clauses, 1)
	assert.Equal(t, []string{"pick and pack"}, pred.Items[0].Clauses[0].Values)
}

func TestParse_TrailingValueListAfterAnd(t *testing.T) {
	pred, err := Parse("Country equals 'ES', 'PT' and 'FR'")
	require.NoError(t, err)
	require.Len(t, pred.Items[0].Clauses, 1)
	assert.Equal(t, []string{"ES", "PT", "FR"}, pred.Items[0].Clauses[0].Values)
}

func TestParse_NumberedItems(t *testing.T) {
	text := "Applies if: 1. Origin Country equals 'ES' 2. Origin Country equals 'PT' and Service contains 'express'"
	pred, err := Parse(text)
	require.NoError(t, err)
	require.Len(t, pred.Items, 2)

	assert.Equal(t, 1, pred.Items[0].Number)
	assert.Len(t, pred.Items[0].Clauses, 1)
	assert.Equal(t, 2, pred.Items[1].Number)
	assert.Len(t, pred.Items[1].Clauses, 2)
}

func TestParse_InAllItems(t *testing.T) {
	pred, err := Parse("Product group equals 'FOOD' in all items")
	require.NoError(t, err)

	c := pred.Items[0].Clauses[0]
	assert.True(t, c.AllItems)
	assert.Equal(t, []string{"FOOD"}, c.Values)
	assert.Equal(t, "Product group", c.Column)
}

func TestParse_Expr(t *testing.T) {
	pred, err := Parse(`expr: weight > 100.0`)
	require.NoError(t, err)
	assert.Equal(t, "weight > 100.0", pred.Expr)
	assert.False(t, pred.Unconditional())
}

func TestParse_Errors(t *testing.T) {
	for _, text := range []string{
		"Origin Country 'ES'",
		"equals 'ES'",
		"Country equals",
		"expr:",
	} {
		t.Run(text, func(t *testing.T) {
			_, err := Parse(text)
			assert.ErrorIs(t, err, ErrUnparseable)
		})
	}
}

func TestConditionString(t *testing.T) {
	c := Condition{Column: "Country", Operator: NotEquals, Values: []string{"ES", "PT"}}
	assert.Equal(t, "Country does not equal 'ES', 'PT'", c.String())

	c = Condition{Column: "Group", Operator: StartsWith, Values: []string{"F"}, AllItems: true}
	assert.Equal(t, "Group starts with 'F' in all items", c.String())
}
