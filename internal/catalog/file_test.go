package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/condition"
	"freightaudit/internal/lane"
	"freightaudit/internal/ratecard"
)

func TestFileSource_ImportThenLoad(t *testing.T) {
	dir := t.TempDir()
	src := NewFileSource(dir)
	validTo := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)

	bundle := ratecard.Bundle{
		RateCard: &ratecard.RateCard{
			Carrier: "ACME",
			Columns: []ratecard.Column{{Name: "Origin Country"}, {Name: "Destination Postal Code"}},
			Lanes: []ratecard.Lane{{
				Number:      "10",
				Constraints: map[string]string{"Origin Country": "ES"},
				ValidTo:     &validTo,
				Prices: map[string]ratecard.PriceSet{
					"Transport cost": {PerUnit: decimal.NewNullDecimal(decimal.RequireFromString("0.5"))},
				},
			}},
		},
		Accessorials: &ratecard.AccessorialCatalog{
			Costs: []ratecard.AccessorialCost{{Name: "Toll", Flat: decimal.NewNullDecimal(decimal.RequireFromString("7.5"))}},
		},
	}
	require.NoError(t, src.Import(context.Background(), "AG-1", bundle))

	got, err := src.Bundle(context.Background(), "AG-1")
	require.NoError(t, err)
	require.NotNil(t, got.RateCard)
	assert.Equal(t, "AG-1", got.RateCard.AgreementID)
	assert.Equal(t, ratecard.AttrShipCountry, got.RateCard.Columns[0].Attribute)
	assert.True(t, got.RateCard.Columns[1].Postal)
	assert.Equal(t, ratecard.AttrCustPostal, got.RateCard.Columns[1].Attribute)
	require.NotNil(t, got.RateCard.Lanes[0].ValidTo)
	assert.True(t, got.RateCard.Lanes[0].ValidTo.Equal(validTo))
	assert.True(t, got.RateCard.Lanes[0].Prices["Transport cost"].PerUnit.Decimal.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "AG-1", got.Accessorials.AgreementID)

	ids, err := src.Agreements(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AG-1"}, ids)
}

func TestFileSource_LanesWithoutColumnList(t *testing.T) {
	dir := t.TempDir()
	doc := `{"rate_card": {"lanes": [
		{"number": "10", "constraints": {"Origin Country": "ES"}},
		{"number": "20", "constraints": {"Origin Country": "ES", "Destination Country": "FR"}}
	]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AG-2.json"), []byte(doc), 0o644))

	got, err := NewFileSource(dir).Bundle(context.Background(), "AG-2")
	require.NoError(t, err)
	require.Len(t, got.RateCard.Columns, 2)
	assert.Equal(t, ratecard.AttrCustCountry, got.RateCard.Columns[0].Attribute)
	assert.Equal(t, ratecard.AttrShipCountry, got.RateCard.Columns[1].Attribute)

	s := &ratecard.Shipment{ID: "ETOF-1", AgreementID: "AG-2", Attributes: map[string]string{
		ratecard.AttrShipCountry: "ES",
		ratecard.AttrCustCountry: "FR",
	}}
	res := lane.NewMatcher(condition.NewEvaluator(nil)).Match(context.Background(), got.RateCard, s)
	assert.Equal(t, lane.StatusMatched, res.Status, res.Reason)
	assert.Equal(t, "20", res.Lane())
}

func TestFileSource_Missing(t *testing.T) {
	src := NewFileSource(t.TempDir())

	_, err := src.Bundle(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.RateCard(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileSource_MissingHalf(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AG-2.json"), []byte(`{"accessorials":{"costs":[{"name":"Toll","flat":"5"}]}}`), 0o644))
	src := NewFileSource(dir)

	_, err := src.RateCard(context.Background(), "AG-2")
	assert.ErrorIs(t, err, ErrNotFound)

	cat, err := src.Accessorials(context.Background(), "AG-2")
	require.NoError(t, err)
	assert.True(t, cat.Costs[0].Flat.Decimal.Equal(decimal.NewFromInt(5)))
}

func TestFileSource_RejectsPathLikeIDs(t *testing.T) {
	src := NewFileSource(t.TempDir())
	for _, id := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := src.Bundle(context.Background(), id)
		require.Error(t, err, id)
		assert.False(t, IsNotFound(err), id)
	}
}

func TestFileSource_BadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AG-3.json"), []byte(`{`), 0o644))

	_, err := NewFileSource(dir).Bundle(context.Background(), "AG-3")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}
