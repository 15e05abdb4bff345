// Package tier picks the price bracket for a weight or measurement driver.
package tier

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrExceedsMaxTier = errors.New("driver exceeds max tier")
	ErrNoTier         = errors.New("no tier covers driver")
	ErrBadLabel       = errors.New("tier label has no numeric range")
)

// Range is a numeric bracket. A nil bound is open.
type Range struct {
	Lower          *decimal.Decimal
	LowerInclusive bool
	Upper          *decimal.Decimal
	UpperInclusive bool
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v decimal.Decimal) bool {
	if r.Lower != nil {
		if r.LowerInclusive && v.LessThan(*r.Lower) {
			return false
		}
		if !r.LowerInclusive && v.LessThanOrEqual(*r.Lower) {
			return false
		}
	}
	if r.Upper != nil {
		if r.UpperInclusive && v.GreaterThan(*r.Upper) {
			return false
		}
		if !r.UpperInclusive && v.GreaterThanOrEqual(*r.Upper) {
			return false
		}
	}
	return true
}

func (r Range) String() string {
	var parts []string
	if r.Lower != nil {
		op := ">"
		if r.LowerInclusive {
			op = ">="
		}
		parts = append(parts, op+r.Lower.String())
	}
	if r.Upper != nil {
		op := "<"
		if r.UpperInclusive {
			op = "<="
		}
		parts = append(parts, op+r.Upper.String())
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

const number = `(\d+(?:[.,]\d+)?)`

var (
	betweenRe  = regexp.MustCompile(`^` + number + `\s*-\s*` + number + `$`)
	boundRe    = regexp.MustCompile(`(>=|<=|>|<)\s*` + number)
	plusRe     = regexp.MustCompile(`^` + number + `\s*\+$`)
	plainRe    = regexp.MustCompile(`^` + number + `$`)
	unitsRe    = regexp.MustCompile(`(?i)\b(kgs?|kilos?|tons?|ldm|cbm|m3|pallets?|plts?|pcs)\b\.?`)
	symbols    = strings.NewReplacer("≤", "<=", "≥", ">=", "=<", "<=", "=>", ">=", "–", "-", "—", "-")
	separators = strings.NewReplacer(" and ", " ", "&", " ", ";", " ")
)

// ParseRange reads labels such as "≤200", ">200 ≤500", "200-500", "500+"
// or "<= 1.5 LDM". A plain number is an inclusive upper bound.
func ParseRange(label string) (Range, error) {
	s := symbols.Replace(strings.ToLower(strings.TrimSpace(label)))
	s = unitsRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(separators.Replace(s))

	if m := betweenRe.FindStringSubmatch(s); m != nil {
		lo, hi := dec(m[1]), dec(m[2])
		return Range{Lower: &lo, LowerInclusive: true, Upper: &hi, UpperInclusive: true}, nil
	}
	if m := plusRe.FindStringSubmatch(s); m != nil {
		lo := dec(m[1])
		return Range{Lower: &lo, LowerInclusive: true}, nil
	}
	if m := plainRe.FindStringSubmatch(s); m != nil {
		hi := dec(m[1])
		return Range{Upper: &hi, UpperInclusive: true}, nil
	}

	matches := boundRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return Range{}, fmt.Errorf("%w: %q", ErrBadLabel, label)
	}
	var r Range
	for _, m := range matches {
		v := dec(m[2])
		switch m[1] {
		case ">":
			r.Lower, r.LowerInclusive = &v, false
		case ">=":
			r.Lower, r.LowerInclusive = &v, true
		case "<":
			r.Upper, r.UpperInclusive = &v, false
		case "<=":
			r.Upper, r.UpperInclusive = &v, true
		}
	}
	return r, nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
	return d
}

// Tier is one priced bracket.
type Tier struct {
	Label string
	Range Range
	Price decimal.Decimal
}

// Entry is an unparsed tier cell.
type Entry struct {
	Label string
	Price decimal.Decimal
}

// Table is an ordered set of tiers for one cost column family.
type Table struct {
	tiers []Tier
}

// NewTable parses entries and sorts them by upper bound, open-ended last.
// Labels without a numeric range are returned as skipped.
func NewTable(entries []Entry) (*Table, []string) {
	t := &Table{}
	var skipped []string
	for _, e := range entries {
		r, err := ParseRange(e.Label)
		if err != nil {
			skipped = append(skipped, e.Label)
			continue
		}
		t.tiers = append(t.tiers, Tier{Label: e.Label, Range: r, Price: e.Price})
	}
	sort.SliceStable(t.tiers, func(i, j int) bool {
		a, b := t.tiers[i].Range.Upper, t.tiers[j].Range.Upper
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.LessThan(*b)
		}
	})
	return t, skipped
}

func (t *Table) Len() int {
	return len(t.tiers)
}

func (t *Table) Tiers() []Tier {
	return append([]Tier(nil), t.tiers...)
}

// Select returns the first tier containing driver. A driver above every
// bounded tier yields ErrExceedsMaxTier.
func (t *Table) Select(driver decimal.Decimal) (Tier, error) {
	if len(t.tiers) == 0 {
		return Tier{}, ErrNoTier
	}
	for _, tr := range t.tiers {
		if tr.Range.Contains(driver) {
			return tr, nil
		}
	}
	top := t.tiers[len(t.tiers)-1].Range
	if top.Upper != nil && driver.GreaterThanOrEqual(*top.Upper) {
		return Tier{}, fmt.Errorf("%w: %s above %s", ErrExceedsMaxTier, driver, top.Upper)
	}
	return Tier{}, fmt.Errorf("%w: %s", ErrNoTier, driver)
}

// Driver reports which shipment quantity a tier family is keyed on, judged
// from its labels' units. Weight is the default.
func Driver(labels []string) string {
	for _, l := range labels {
		n := strings.ToLower(l)
		switch {
		case strings.Contains(n, "ldm"):
			return "ldm"
		case strings.Contains(n, "cbm"), strings.Contains(n, "m3"):
			return "cbm"
		case strings.Contains(n, "pallet"), strings.Contains(n, "plt"):
			return "pallets"
		}
	}
	return "weight"
}
