package rating

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"freightaudit/internal/ratecard"
)

// Kind is the pricing basis of a resolved cost.
type Kind int

const (
	KindFlat Kind = iota
	KindTieredFlat
	KindPerUnit
	KindTieredPerUnit
	KindPercentage
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindTieredFlat:
		return "tiered_flat"
	case KindPerUnit:
		return "per_unit"
	case KindTieredPerUnit:
		return "tiered_per_unit"
	case KindPercentage:
		return "percentage"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

type RoundMode int

const (
	RoundNone RoundMode = iota
	RoundUp
	RoundDown
)

// Rounding snaps a multiplier to a step before pricing.
type Rounding struct {
	Mode RoundMode
	Step decimal.Decimal
}

// Apply rounds v to the nearest multiple of Step in the configured
// direction. Values already on a multiple are returned unchanged.
func (r Rounding) Apply(v decimal.Decimal) decimal.Decimal {
	if r.Mode == RoundNone || !r.Step.IsPositive() {
		return v
	}
	q := v.Div(r.Step)
	if r.Mode == RoundUp {
		q = q.Ceil()
	} else {
		q = q.Floor()
	}
	return q.Mul(r.Step)
}

func (r Rounding) String() string {
	switch r.Mode {
	case RoundUp:
		return "rounded up to " + r.Step.String()
	case RoundDown:
		return "rounded down to " + r.Step.String()
	default:
		return ""
	}
}

// RateBy is the parsed form of a rate_by descriptor.
type RateBy struct {
	Text        string
	PerShipment bool
	// Unit names the multiplier: "weight" or a measurement or column name.
	Unit     string
	Rounding Rounding
}

var (
	roundingRe  = regexp.MustCompile(`(?i)\(?\s*\b(upper|lower|up|down|round\s+up|round\s+down)\s+to\s+(\d+(?:[.,]\d+)?)\s*\)?`)
	perPrefixRe = regexp.MustCompile(`(?i)^\s*(rate\s+)?(shipment\s+)?(per\s+|/\s*)?`)
	weightWords = []string{"weight", "kg", "kgs", "kilo", "chargeable", "cw"}
	// flatWords match the whole descriptor or its leading words. A bare
	// "shipment" only prices flat on its own; "Shipment LDM" is per LDM.
	flatWords = []string{"per shipment", "flat", "lump sum", "per consignment", "per order"}
)

// ParseRateBy classifies a rate_by descriptor. Empty text prices flat.
func ParseRateBy(text string) RateBy {
	rb := RateBy{Text: strings.TrimSpace(text)}

	rest := rb.Text
	if m := roundingRe.FindStringSubmatch(rest); m != nil {
		step, _ := ratecard.ParseDecimal(m[2])
		mode := RoundUp
		if dir := strings.ToLower(m[1]); strings.Contains(dir, "lower") || strings.Contains(dir, "down") {
			mode = RoundDown
		}
		rb.Rounding = Rounding{Mode: mode, Step: step}
		rest = roundingRe.ReplaceAllString(rest, " ")
	}

	n := ratecard.Normalize(rest)
	if n == "" || n == "shipment" {
		rb.PerShipment = true
		return rb
	}
	if mentionsWeight(n) {
		rb.Unit = "weight"
		return rb
	}
	for _, w := range flatWords {
		if n == w || strings.HasPrefix(n, w+" ") {
			rb.PerShipment = true
			return rb
		}
	}

	rb.Unit = strings.TrimSpace(perPrefixRe.ReplaceAllString(strings.TrimSpace(rest), ""))
	return rb
}

func mentionsWeight(normalized string) bool {
	for _, f := range strings.Fields(normalized) {
		for _, w := range weightWords {
			if f == w {
				return true
			}
		}
	}
	return false
}

// Basis is the tagged pricing variant a cost resolves with.
type Basis struct {
	Kind       Kind
	RateBy     RateBy
	Tiers      []ratecard.TierPrice
	Percentage decimal.Decimal
	Over       []string
}

func (b Basis) String() string {
	switch b.Kind {
	case KindPercentage:
		return fmt.Sprintf("%s%% of %s", b.Percentage, strings.Join(b.Over, ", "))
	case KindPerUnit, KindTieredPerUnit:
		s := b.Kind.String() + " per " + b.RateBy.Unit
		if r := b.RateBy.Rounding.String(); r != "" {
			s += " (" + r + ")"
		}
		return s
	default:
		return b.Kind.String()
	}
}

// classify builds the basis for a cost from its rate_by text and the
// price cells available for it.
func classify(rateBy string, prices ratecard.PriceSet) Basis {
	rb := ParseRateBy(rateBy)
	b := Basis{RateBy: rb, Tiers: prices.Tiers}
	switch {
	case rb.PerShipment && len(prices.Tiers) > 0:
		b.Kind = KindTieredFlat
	case rb.PerShipment:
		b.Kind = KindFlat
	case len(prices.Tiers) > 0:
		b.Kind = KindTieredPerUnit
	default:
		b.Kind = KindPerUnit
	}
	return b
}

func percentageBasis(a ratecard.AccessorialCost) Basis {
	return Basis{
		Kind:       KindPercentage,
		RateBy:     ParseRateBy(a.RateBy),
		Percentage: a.Percentage.Decimal,
		Over:       a.PercentageOf,
	}
}
