package lane

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/condition"
	"freightaudit/internal/ratecard"
	"freightaudit/pkg/metrics"
)

func columns(names ...string) []ratecard.Column {
	out := make([]ratecard.Column, 0, len(names))
	for _, n := range names {
		out = append(out, ratecard.MapColumn(n))
	}
	return out
}

func shipment(attrs map[string]string) *ratecard.Shipment {
	return &ratecard.Shipment{ID: "ETOF-1", AgreementID: "AGR-1", Attributes: attrs}
}

func esToFR() *ratecard.Shipment {
	return shipment(map[string]string{
		ratecard.AttrShipCountry: "ES",
		ratecard.AttrShipPostal:  "28001",
		ratecard.AttrCustCountry: "FR",
		ratecard.AttrCustPostal:  "75008",
		ratecard.AttrService:     "Express",
	})
}

func date(s string) *time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return &t
}

func newMatcher() *Matcher {
	return NewMatcher(condition.NewEvaluator(nil))
}

func TestMatch_MoreSpecificLaneWins(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Destination Country"),
		Lanes: []ratecard.Lane{
			{Number: "10", Constraints: map[string]string{"Origin Country": "ES"}},
			{Number: "20", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"}},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())

	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "20", res.Lane())
	assert.Equal(t, 2, res.Score)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 1, res.Candidates[0].Score)
	assert.Equal(t, 2, res.Candidates[1].Score)
}

func TestMatch_UndeclaredColumnsComeFromLanes(t *testing.T) {
	card := &ratecard.RateCard{
		Lanes: []ratecard.Lane{
			{Number: "10", Constraints: map[string]string{"Origin Country": "ES"}},
			{Number: "20", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"}},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())

	assert.Equal(t, StatusMatched, res.Status, res.Reason)
	assert.Equal(t, "20", res.Lane())
	assert.Equal(t, 2, res.Score)
}

func TestMatch_CountsOutcome(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country"),
		Lanes:   []ratecard.Lane{{Number: "10", Constraints: map[string]string{"Origin Country": "ES"}}},
	}
	matched := metrics.LaneMatchesTotal.WithLabelValues(string(StatusMatched))
	noMatch := metrics.LaneMatchesTotal.WithLabelValues(string(StatusNoMatch))
	beforeMatched, beforeNoMatch := testutil.ToFloat64(matched), testutil.ToFloat64(noMatch)

	newMatcher().Match(context.Background(), card, esToFR())
	newMatcher().Match(context.Background(), &ratecard.RateCard{}, esToFR())

	assert.Equal(t, beforeMatched+1, testutil.ToFloat64(matched))
	assert.Equal(t, beforeNoMatch+1, testutil.ToFloat64(noMatch))
}

func TestMatch_WildcardAlwaysScores(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Destination Country"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": ""}},
			{Number: "2", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "*"}},
		},
	}

	for _, dest := range []string{"FR", "DE", ""} {
		s := esToFR()
		s.Attributes[ratecard.AttrCustCountry] = dest
		res := newMatcher().Match(context.Background(), card, s)
		for _, c := range res.Candidates {
			assert.Equal(t, 2, c.Score, "dest %q lane %s", dest, c.Lane)
		}
	}
}

func TestMatch_TieIsAmbiguous(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Destination Country"),
		Lanes: []ratecard.Lane{
			{Number: "A", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"}},
			{Number: "B", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"}},
			{Number: "C", Constraints: map[string]string{"Origin Country": "ES"}},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())

	assert.Equal(t, StatusAmbiguous, res.Status)
	assert.Equal(t, []string{"A", "B"}, res.Lanes)
	assert.Empty(t, res.Lane())
	assert.Contains(t, res.Reason, "multiple lanes found")
}

func TestMatch_DisqualificationDominates(t *testing.T) {
	base := map[string]string{"Origin Country": "ES", "Destination Country": "FR", "Service": "Express"}
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Destination Country", "Origin Zone", "Service"),
		Lanes: []ratecard.Lane{
			{Number: "expired", Constraints: base, ValidTo: date("2024-12-31")},
			{Number: "governed", Constraints: base},
			{Number: "zone", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR", "Service": "Express", "Origin Zone": "Barcelona"}},
			{Number: "fallback", Constraints: map[string]string{"Origin Country": "ES"}},
		},
		ColumnConditions: map[string]map[string]string{
			"Service": {"Express": "Destination Country does not equal 'FR'"},
		},
		BusinessRules: []ratecard.BusinessRule{
			{Name: "Barcelona", Countries: []string{"ES"}, PostalPrefixes: []string{"08"}},
		},
	}
	s := esToFR()
	s.ShipDate = date("2025-03-01")

	res := newMatcher().Match(context.Background(), card, s)

	assert.Equal(t, StatusMatched, res.Status)
	assert.Equal(t, "fallback", res.Lane())
	for _, c := range res.Candidates[:3] {
		assert.True(t, c.Disqualified, c.Lane)
		assert.NotEmpty(t, c.Reason)
	}
	assert.Contains(t, res.Candidates[0].Reason, "after lane valid to")
	assert.Contains(t, res.Candidates[1].Reason, "condition for \"Express\" failed")
	assert.Contains(t, res.Candidates[2].Reason, "not covered by Barcelona")
}

func TestMatch_ColumnConditionScores(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Service"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Service": "Premium"}},
		},
		ColumnConditions: map[string]map[string]string{
			"service": {"premium": "Service equals 'Express', 'Premium'"},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, "1", res.Lane())
	assert.Equal(t, 1, res.Score)
}

func TestMatch_ColumnConditionMissingColumnDisqualifies(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Service", "Origin Country"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Service": "Express", "Origin Country": "ES"}},
		},
		ColumnConditions: map[string]map[string]string{
			"Service": {"Express": "Hazmat Class equals 'A'"},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.True(t, res.Candidates[0].Disqualified)
	assert.Contains(t, res.Candidates[0].Reason, "column not found")
	assert.Contains(t, res.Reason, "all 1 lanes disqualified")
}

func TestMatch_PostalPrefix(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Destination Postal Code"),
		Lanes: []ratecard.Lane{
			{Number: "paris", Constraints: map[string]string{"Destination Postal Code": "75"}},
			{Number: "lyon", Constraints: map[string]string{"Destination Postal Code": "69"}},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, "paris", res.Lane())
	assert.Equal(t, 0, res.Candidates[1].Score)
	assert.False(t, res.Candidates[1].Disqualified)
}

func TestMatch_LiteralListAndNormalization(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Service Level"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Origin Country": "PT, es", "Service Level": "express"}},
		},
	}
	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, 2, res.Score)
}

func TestMatch_BusinessRuleInAttributeColumn(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Destination Country"),
		Lanes: []ratecard.Lane{
			{Number: "eu-west", Constraints: map[string]string{"Destination Country": "West Europe"}},
			{Number: "benelux", Constraints: map[string]string{"Destination Country": "Benelux"}},
		},
		BusinessRules: []ratecard.BusinessRule{
			{Name: "West Europe", Countries: []string{"FR", "ES", "PT"}},
			{Name: "Benelux", Countries: []string{"BE", "NL", "LU"}},
		},
	}

	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, "eu-west", res.Lane())
	assert.True(t, res.Candidates[1].Disqualified)
}

func TestMatch_UnknownZoneValueIsNotScored(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Tariff Zone"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Origin Country": "ES", "Tariff Zone": "Z9"}},
		},
	}
	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, "1", res.Lane())
	assert.Equal(t, 1, res.Score)
	assert.Contains(t, res.Candidates[0].Details[1], "not a business rule")
}

func TestMatch_DateWindow(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country"),
		Lanes: []ratecard.Lane{
			{Number: "2025", Constraints: map[string]string{"Origin Country": "ES"}, ValidFrom: date("2025-01-01"), ValidTo: date("2025-12-31")},
		},
	}
	m := newMatcher()

	s := esToFR()
	s.Attributes[ratecard.AttrShipDate] = "31.12.2025"
	assert.Equal(t, "2025", m.Match(context.Background(), card, s).Lane())

	s.Attributes[ratecard.AttrShipDate] = "2024-12-31"
	res := m.Match(context.Background(), card, s)
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Contains(t, res.Candidates[0].Reason, "before lane valid from")

	s.Attributes[ratecard.AttrShipDate] = "not a date"
	assert.Equal(t, "2025", m.Match(context.Background(), card, s).Lane())

	delete(s.Attributes, ratecard.AttrShipDate)
	assert.Equal(t, "2025", m.Match(context.Background(), card, s).Lane())
}

func TestMatch_CustomDateAttribute(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Origin Country": "ES"}, ValidTo: date("2025-01-31")},
		},
	}
	s := esToFR()
	s.Attributes["PICKUP_DATE"] = "2025-02-01"

	res := NewMatcher(condition.NewEvaluator(nil), WithDateAttribute("PICKUP_DATE")).Match(context.Background(), card, s)
	assert.Equal(t, StatusNoMatch, res.Status)
}

func TestMatch_NoLanes(t *testing.T) {
	res := newMatcher().Match(context.Background(), &ratecard.RateCard{}, esToFR())
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.NotEmpty(t, res.Reason)

	res = newMatcher().Match(context.Background(), nil, esToFR())
	assert.Equal(t, StatusNoMatch, res.Status)
}

func TestMatch_NothingScores(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country"),
		Lanes: []ratecard.Lane{
			{Number: "1", Constraints: map[string]string{"Origin Country": "DE"}},
		},
	}
	res := newMatcher().Match(context.Background(), card, esToFR())
	assert.Equal(t, StatusNoMatch, res.Status)
	assert.Contains(t, res.Reason, "no lane matched")
}

func TestScore_SingleLane(t *testing.T) {
	card := &ratecard.RateCard{
		Columns: columns("Origin Country", "Destination Country"),
		Lanes: []ratecard.Lane{
			{Number: "20", Constraints: map[string]string{"Origin Country": "ES", "Destination Country": "FR"}},
		},
	}
	c := newMatcher().Score(context.Background(), card, &card.Lanes[0], esToFR())
	assert.Equal(t, 2, c.Score)
	assert.False(t, c.Disqualified)
}
