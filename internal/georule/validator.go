package georule

import (
	"fmt"
	"strings"

	"freightaudit/internal/ratecard"
)

type Outcome int

const (
	// NotARule means the value names no business rule; callers compare it
	// as a literal instead.
	NotARule Outcome = iota
	Matched
	Disqualified
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Disqualified:
		return "disqualified"
	default:
		return "not_a_rule"
	}
}

type Side int

const (
	Origin Side = iota
	Destination
)

func (s Side) String() string {
	if s == Destination {
		return "destination"
	}
	return "origin"
}

type Result struct {
	Outcome Outcome
	Rule    string
	Reason  string
}

var destinationHints = []string{"dest", "delivery", "consignee", "cust", "receiver", "to "}

// InferSide guesses which end of the shipment a constraint column refers to.
func InferSide(column string) Side {
	n := ratecard.Normalize(column) + " "
	for _, hint := range destinationHints {
		if strings.HasPrefix(n, hint) || strings.Contains(n, " "+hint) || (hint != "to " && strings.Contains(n, hint)) {
			return Destination
		}
	}
	return Origin
}

// IsCountryRegion reports whether the column holds country-level zones,
// which are validated on country only.
func IsCountryRegion(column string) bool {
	return strings.Contains(ratecard.Normalize(column), "country region")
}

// Validator resolves named geo zones against shipments. It is immutable
// after construction.
type Validator struct {
	rules map[string]ratecard.BusinessRule
}

func NewValidator(rules []ratecard.BusinessRule) *Validator {
	v := &Validator{rules: make(map[string]ratecard.BusinessRule, len(rules))}
	for _, r := range rules {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" {
			continue
		}
		v.rules[key] = r
	}
	return v
}

func (v *Validator) Len() int {
	return len(v.rules)
}

func (v *Validator) Lookup(name string) (ratecard.BusinessRule, bool) {
	r, ok := v.rules[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

// Validate checks the shipment against the rule named by value, found in
// the given lane column.
func (v *Validator) Validate(value, column string, s *ratecard.Shipment) Result {
	rule, ok := v.Lookup(value)
	if !ok {
		return Result{Outcome: NotARule, Reason: fmt.Sprintf("%q is not a business rule", value)}
	}

	side := InferSide(column)
	countryAttr, postalAttr := ratecard.AttrShipCountry, ratecard.AttrShipPostal
	if side == Destination {
		countryAttr, postalAttr = ratecard.AttrCustCountry, ratecard.AttrCustPostal
	}

	country, _ := s.Attribute(countryAttr)
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return disqualified(rule, "%s country is missing", side)
	}
	if !containsFold(rule.Countries, country) {
		return disqualified(rule, "%s country %s not in %s (%s)", side, country, rule.Name, strings.Join(rule.Countries, ","))
	}

	if IsCountryRegion(column) || len(rule.PostalPrefixes) == 0 {
		return Result{Outcome: Matched, Rule: rule.Name, Reason: fmt.Sprintf("%s country %s in %s", side, country, rule.Name)}
	}

	raw, _ := s.Attribute(postalAttr)
	postal := NormalizePostal(raw)
	if postal == "" {
		return disqualified(rule, "%s postal code is missing", side)
	}

	prefix, ok := matchPrefix(postal, rule.PostalPrefixes)
	if !ok {
		return disqualified(rule, "%s postal code %s not covered by %s", side, postal, rule.Name)
	}

	if excluded, hit := matchPrefix(postal, rule.ExcludedPrefixes); hit {
		return disqualified(rule, "%s postal code %s excluded from %s by %s", side, postal, rule.Name, excluded)
	}

	return Result{
		Outcome: Matched,
		Rule:    rule.Name,
		Reason:  fmt.Sprintf("%s %s/%s in %s (prefix %s)", side, country, postal, rule.Name, prefix),
	}
}

// NormalizePostal upper-cases a postal code, drops spaces and cuts any
// "/"-suffixed segment ("28001/2" becomes "28001").
func NormalizePostal(s string) string {
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}

func matchPrefix(postal string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		p = NormalizePostal(p)
		if p == "" {
			continue
		}
		if postal == p || strings.HasPrefix(postal, p) {
			return p, true
		}
	}
	return "", false
}

func containsFold(list []string, want string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), want) {
			return true
		}
	}
	return false
}

func disqualified(rule ratecard.BusinessRule, format string, args ...interface{}) Result {
	return Result{Outcome: Disqualified, Rule: rule.Name, Reason: fmt.Sprintf(format, args...)}
}
