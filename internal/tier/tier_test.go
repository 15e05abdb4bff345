package tier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		label string
		in    []string
		out   []string
	}{
		{"≤200", []string{"0", "200"}, []string{"200.01"}},
		{">200 ≤500", []string{"200.5", "500"}, []string{"200", "501"}},
		{"<=200 kg", []string{"200"}, []string{"201"}},
		{"<200", []string{"199.99"}, []string{"200"}},
		{">500", []string{"500.01"}, []string{"500"}},
		{"200-500", []string{"200", "500"}, []string{"199", "501"}},
		{"200 – 500", []string{"300"}, []string{"100"}},
		{"1000+", []string{"1000", "99999"}, []string{"999"}},
		{"1,5 LDM", []string{"1.5"}, []string{"1.6"}},
		{"≥ 2 and < 4 pallets", []string{"2", "3"}, []string{"4", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			r, err := ParseRange(tt.label)
			require.NoError(t, err)
			for _, v := range tt.in {
				assert.True(t, r.Contains(d(v)), "%s should be in %s", v, r)
			}
			for _, v := range tt.out {
				assert.False(t, r.Contains(d(v)), "%s should not be in %s", v, r)
			}
		})
	}
}

func TestParseRange_Invalid(t *testing.T) {
	_, err := ParseRange("Flat rate")
	assert.ErrorIs(t, err, ErrBadLabel)
}

func TestTable_Select(t *testing.T) {
	table, skipped := NewTable([]Entry{
		{Label: ">200 ≤500", Price: d("80")},
		{Label: "≤200", Price: d("50")},
		{Label: "MIN", Price: d("10")},
	})
	assert.Equal(t, []string{"MIN"}, skipped)
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "≤200", table.Tiers()[0].Label)

	got, err := table.Select(d("200"))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("50")))

	got, err = table.Select(d("320"))
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(d("80")))

	_, err = table.Select(d("501"))
	assert.ErrorIs(t, err, ErrExceedsMaxTier)
}

func TestTable_SelectOpenEnded(t *testing.T) {
	table, _ := NewTable([]Entry{
		{Label: ">500", Price: d("100")},
		{Label: "≤500", Price: d("60")},
	})
	got, err := table.Select(d("10000"))
	require.NoError(t, err)
	assert.Equal(t, ">500", got.Label)
}

func TestTable_SelectGap(t *testing.T) {
	table, _ := NewTable([]Entry{
		{Label: ">100 ≤200", Price: d("20")},
	})
	_, err := table.Select(d("50"))
	assert.ErrorIs(t, err, ErrNoTier)
	assert.NotErrorIs(t, err, ErrExceedsMaxTier)

	empty, _ := NewTable(nil)
	_, err = empty.Select(d("1"))
	assert.ErrorIs(t, err, ErrNoTier)
}

func TestDriver(t *testing.T) {
	assert.Equal(t, "ldm", Driver([]string{"≤1 LDM", "≤2 LDM"}))
	assert.Equal(t, "cbm", Driver([]string{"<= 3 m3"}))
	assert.Equal(t, "pallets", Driver([]string{"1-2 pallets"}))
	assert.Equal(t, "weight", Driver([]string{"≤200", ">200 ≤500"}))
}
