package lane

import (
	"context"
	"fmt"
	"strings"
	"time"

	"freightaudit/internal/condition"
	"freightaudit/internal/georule"
	"freightaudit/internal/ratecard"
	"freightaudit/pkg/metrics"
)

type Status string

const (
	StatusNoMatch   Status = "no_match"
	StatusMatched   Status = "matched"
	StatusAmbiguous Status = "ambiguous"
)

// Candidate is the scoring of one lane against one shipment.
type Candidate struct {
	Lane         string   `json:"lane"`
	Score        int      `json:"score"`
	Disqualified bool     `json:"disqualified,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Details      []string `json:"details,omitempty"`
}

// Result is the outcome of matching a shipment against a rate card.
type Result struct {
	Status     Status      `json:"status"`
	Lanes      []string    `json:"lanes,omitempty"`
	Score      int         `json:"score"`
	Reason     string      `json:"reason"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Lane returns the single matched lane number, or "" when the result is
// not a unique match.
func (r Result) Lane() string {
	if r.Status != StatusMatched || len(r.Lanes) != 1 {
		return ""
	}
	return r.Lanes[0]
}

// Matcher scores lanes. It holds no per-card state and is safe for
// concurrent use.
type Matcher struct {
	conditions    *condition.Evaluator
	dateAttribute string
}

type Option func(*Matcher)

// WithDateAttribute sets the shipment attribute read when the shipment
// carries no parsed ship date.
func WithDateAttribute(name string) Option {
	return func(m *Matcher) {
		if name != "" {
			m.dateAttribute = name
		}
	}
}

func NewMatcher(conditions *condition.Evaluator, opts ...Option) *Matcher {
	m := &Matcher{conditions: conditions, dateAttribute: ratecard.AttrShipDate}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match scores every lane of card and returns the best one, all tied best
// lanes, or no match.
func (m *Matcher) Match(ctx context.Context, card *ratecard.RateCard, s *ratecard.Shipment) Result {
	res := m.match(ctx, card, s)
	metrics.IncLaneMatch(string(res.Status))
	return res
}

func (m *Matcher) match(ctx context.Context, card *ratecard.RateCard, s *ratecard.Shipment) Result {
	if card == nil || len(card.Lanes) == 0 {
		return Result{Status: StatusNoMatch, Reason: "rate card has no lanes"}
	}

	rules := georule.NewValidator(card.BusinessRules)
	cols := card.MappedColumns()
	best := 0
	qualified := 0
	candidates := make([]Candidate, 0, len(card.Lanes))
	for i := range card.Lanes {
		c := m.score(ctx, card, cols, rules, &card.Lanes[i], s)
		candidates = append(candidates, c)
		if c.Disqualified {
			continue
		}
		qualified++
		if c.Score > best {
			best = c.Score
		}
	}

	res := Result{Score: best, Candidates: candidates}
	if best == 0 {
		res.Status = StatusNoMatch
		if qualified == 0 {
			res.Reason = fmt.Sprintf("all %d lanes disqualified", len(candidates))
		} else {
			res.Reason = fmt.Sprintf("no lane matched any attribute (%d lanes checked)", len(candidates))
		}
		return res
	}

	for _, c := range candidates {
		if !c.Disqualified && c.Score == best {
			res.Lanes = append(res.Lanes, c.Lane)
		}
	}
	if len(res.Lanes) > 1 {
		res.Status = StatusAmbiguous
		res.Reason = fmt.Sprintf("multiple lanes found: %s (score %d)", strings.Join(res.Lanes, ", "), best)
		return res
	}
	res.Status = StatusMatched
	res.Reason = fmt.Sprintf("lane %s matched with score %d", res.Lanes[0], best)
	return res
}

// Score evaluates a single lane, for callers that already know which lane
// was billed.
func (m *Matcher) Score(ctx context.Context, card *ratecard.RateCard, l *ratecard.Lane, s *ratecard.Shipment) Candidate {
	return m.score(ctx, card, card.MappedColumns(), georule.NewValidator(card.BusinessRules), l, s)
}

func (m *Matcher) score(ctx context.Context, card *ratecard.RateCard, cols []ratecard.Column, rules *georule.Validator, l *ratecard.Lane, s *ratecard.Shipment) Candidate {
	c := Candidate{Lane: l.Number}

	if reason, ok := m.checkValidity(l, s); !ok {
		c.Disqualified = true
		c.Reason = reason
		return c
	}

	for _, col := range cols {
		expected, present := l.Constraints[col.Name]
		if !present {
			continue
		}
		expected = strings.TrimSpace(expected)

		attr, inSchema := attributeFor(col, s)
		if !inSchema {
			continue
		}
		if attr == "" {
			if isWildcard(expected) {
				continue
			}
			r := rules.Validate(expected, col.Name, s)
			switch r.Outcome {
			case georule.Matched:
				c.Score++
				c.Details = append(c.Details, fmt.Sprintf("%s: %s", col.Name, r.Reason))
			case georule.Disqualified:
				return disqualify(c, col.Name, r.Reason)
			default:
				c.Details = append(c.Details, fmt.Sprintf("%s: %s", col.Name, r.Reason))
			}
			continue
		}

		actual, _ := s.Attribute(attr)

		if isWildcard(expected) {
			c.Score++
			c.Details = append(c.Details, fmt.Sprintf("%s: wildcard", col.Name))
			continue
		}

		if text, ok := card.ColumnCondition(col.Name, expected); ok {
			v := m.conditions.Check(ctx, text, s)
			if !v.Satisfied {
				return disqualify(c, col.Name, fmt.Sprintf("condition for %q failed: %s", expected, v.Reason))
			}
			c.Score++
			c.Details = append(c.Details, fmt.Sprintf("%s: condition for %q holds", col.Name, expected))
			continue
		}

		r := rules.Validate(expected, col.Name, s)
		switch r.Outcome {
		case georule.Matched:
			c.Score++
			c.Details = append(c.Details, fmt.Sprintf("%s: %s", col.Name, r.Reason))
			continue
		case georule.Disqualified:
			return disqualify(c, col.Name, r.Reason)
		}

		if literalMatch(col, expected, actual) {
			c.Score++
			c.Details = append(c.Details, fmt.Sprintf("%s: %s matches %s", col.Name, actual, expected))
		}
	}
	return c
}

func (m *Matcher) checkValidity(l *ratecard.Lane, s *ratecard.Shipment) (string, bool) {
	if l.ValidFrom == nil && l.ValidTo == nil {
		return "", true
	}
	date := m.shipDate(s)
	if date == nil {
		return "", true
	}
	day := truncate(*date)
	if l.ValidFrom != nil && day.Before(truncate(*l.ValidFrom)) {
		return fmt.Sprintf("ship date %s before lane valid from %s", day.Format(time.DateOnly), l.ValidFrom.Format(time.DateOnly)), false
	}
	if l.ValidTo != nil && day.After(truncate(*l.ValidTo)) {
		return fmt.Sprintf("ship date %s after lane valid to %s", day.Format(time.DateOnly), l.ValidTo.Format(time.DateOnly)), false
	}
	return "", true
}

func (m *Matcher) shipDate(s *ratecard.Shipment) *time.Time {
	if s == nil {
		return nil
	}
	if s.ShipDate != nil {
		return s.ShipDate
	}
	raw, _ := s.Attribute(m.dateAttribute)
	return ratecard.ParseDate(raw)
}

func truncate(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

// attributeFor returns the shipment attribute a column compares against.
// Columns left unmapped at load time are looked up by normalized name. An
// empty attribute with inSchema set marks a pure zone column; a mapped
// attribute the shipment does not carry is out of schema and not scored.
func attributeFor(col ratecard.Column, s *ratecard.Shipment) (attr string, inSchema bool) {
	if col.Attribute != "" {
		_, ok := s.Attribute(col.Attribute)
		return col.Attribute, ok
	}
	if s != nil {
		want := ratecard.Normalize(col.Name)
		for name := range s.Attributes {
			if ratecard.Normalize(name) == want {
				return name, true
			}
		}
	}
	return "", true
}

func isWildcard(v string) bool {
	return v == "" || v == "*"
}

// literalMatch compares a lane value with the shipment's value. Lane cells
// may list several values; postal columns match by prefix.
func literalMatch(col ratecard.Column, expected, actual string) bool {
	actual = strings.TrimSpace(actual)
	if actual == "" {
		return false
	}
	for _, want := range ratecard.SplitList(expected) {
		if col.Postal {
			if p := georule.NormalizePostal(want); p != "" && strings.HasPrefix(georule.NormalizePostal(actual), p) {
				return true
			}
			continue
		}
		if ratecard.Normalize(want) == ratecard.Normalize(actual) {
			return true
		}
	}
	return false
}

func disqualify(c Candidate, column, reason string) Candidate {
	c.Disqualified = true
	c.Reason = fmt.Sprintf("%s: %s", column, reason)
	return c
}
