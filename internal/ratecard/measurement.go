package ratecard

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseMeasurements builds the measurement map from the semicolon-aligned
// name and value lists carried on shipment records, e.g.
// names "Condition/ExpressDelivery;LDM" with values "1;2,5".
// Positions without a name or with a non-numeric value are skipped and
// reported back by name (or position) in skipped.
func ParseMeasurements(names, values string) (map[string]decimal.Decimal, []string) {
	nameParts := strings.Split(names, ";")
	valueParts := strings.Split(values, ";")

	out := make(map[string]decimal.Decimal, len(nameParts))
	var skipped []string
	for i, raw := range nameParts {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if i >= len(valueParts) {
			skipped = append(skipped, name)
			continue
		}
		v, ok := ParseDecimal(valueParts[i])
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		out[name] = v
	}
	return out, skipped
}

// UnmarshalJSON accepts measurements as a map, as the semicolon-aligned
// measurement_names/measurement_values lists of shipment records, or both.
// Map entries win over listed entries of the same name.
func (s *Shipment) UnmarshalJSON(data []byte) error {
	type plain Shipment
	aux := struct {
		*plain
		MeasurementNames  string `json:"measurement_names"`
		MeasurementValues string `json:"measurement_values"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if strings.TrimSpace(aux.MeasurementNames) == "" {
		return nil
	}

	listed, _ := ParseMeasurements(aux.MeasurementNames, aux.MeasurementValues)
	if len(listed) == 0 {
		return nil
	}
	if s.Measurements == nil {
		s.Measurements = make(map[string]decimal.Decimal, len(listed))
	}
	for name, v := range listed {
		if _, ok := s.Measurements[name]; !ok {
			s.Measurements[name] = v
		}
	}
	return nil
}

// Measurement looks a measurement up by normalized name: exact first, then
// the shortest entry whose name contains the wanted unit (or the reverse).
func (s *Shipment) Measurement(name string) (decimal.Decimal, string, bool) {
	if s == nil || len(s.Measurements) == 0 {
		return decimal.Zero, "", false
	}
	want := Normalize(name)
	if want == "" {
		return decimal.Zero, "", false
	}

	keys := make([]string, 0, len(s.Measurements))
	for k := range s.Measurements {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if Normalize(k) == want {
			return s.Measurements[k], k, true
		}
	}

	best := ""
	for _, k := range keys {
		n := Normalize(k)
		if n == "" {
			continue
		}
		if hasWord(n, want) || hasWord(want, n) {
			if best == "" || len(k) < len(best) {
				best = k
			}
		}
	}
	if best == "" {
		return decimal.Zero, "", false
	}
	return s.Measurements[best], best, true
}

// hasWord reports whether needle appears in haystack on word boundaries.
func hasWord(haystack, needle string) bool {
	idx := strings.Index(" "+haystack+" ", " "+needle+" ")
	return idx >= 0
}
