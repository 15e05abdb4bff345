package ratecard

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	separatorReplacer = strings.NewReplacer("_", " ", "-", " ", "/", " ", ".", " ", ":", " ", "\t", " ", "\n", " ")
	trailingParen     = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
)

// Normalize lower-cases a column or cost name and collapses separators so
// "Origin_Country" and "origin country" compare equal.
func Normalize(s string) string {
	s = separatorReplacer.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

// BaseName strips trailing parenthetical qualifiers from a cost name:
// "Transport cost (min)" becomes "Transport cost".
func BaseName(name string) string {
	out := strings.TrimSpace(name)
	for {
		stripped := trailingParen.ReplaceAllString(out, "")
		if stripped == out || stripped == "" {
			return out
		}
		out = strings.TrimSpace(stripped)
	}
}

// SplitList splits a comma or semicolon separated cell into trimmed,
// non-empty entries.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseDecimal parses a price or quantity cell. Thousands separators and
// currency symbols are tolerated; a lone comma is read as decimal point.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "€$£ ")
	if s == "" {
		return decimal.Zero, false
	}
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		s = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// NullDecimal wraps ParseDecimal for optional cells.
func NullDecimal(s string) decimal.NullDecimal {
	d, ok := ParseDecimal(s)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
}

// ParseDate parses a validity or shipment date. Unparseable input yields
// nil, which callers treat as "cannot invalidate".
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// synonyms maps normalized rate card column names onto canonical
// shipment attributes.
var synonyms = map[string]string{
	"origin country":           AttrShipCountry,
	"origin country code":      AttrShipCountry,
	"country of origin":        AttrShipCountry,
	"ship country":             AttrShipCountry,
	"shipper country":          AttrShipCountry,
	"from country":             AttrShipCountry,
	"origin postal code":       AttrShipPostal,
	"origin postal":            AttrShipPostal,
	"origin postcode":          AttrShipPostal,
	"origin zip":               AttrShipPostal,
	"origin zip code":          AttrShipPostal,
	"ship postal":              AttrShipPostal,
	"from postal code":         AttrShipPostal,
	"origin city":              AttrShipCity,
	"destination country":      AttrCustCountry,
	"destination country code": AttrCustCountry,
	"dest country":             AttrCustCountry,
	"delivery country":         AttrCustCountry,
	"consignee country":        AttrCustCountry,
	"customer country":         AttrCustCountry,
	"to country":               AttrCustCountry,
	"destination postal code":  AttrCustPostal,
	"destination postal":       AttrCustPostal,
	"destination postcode":     AttrCustPostal,
	"destination zip":          AttrCustPostal,
	"destination zip code":     AttrCustPostal,
	"dest postal code":         AttrCustPostal,
	"delivery postal code":     AttrCustPostal,
	"to postal code":           AttrCustPostal,
	"destination city":         AttrCustCity,
	"carrier":                  AttrCarrier,
	"carrier name":             AttrCarrier,
	"service":                  AttrService,
	"service level":            AttrService,
	"service type":             AttrService,
	"transport mode":           AttrTransportMode,
	"mode":                     AttrTransportMode,
	"equipment":                AttrEquipment,
	"equipment type":           AttrEquipment,
	"incoterm":                 AttrIncoterm,
	"incoterms":                AttrIncoterm,
	"ship date":                AttrShipDate,
	"shipment date":            AttrShipDate,
	"chargeable weight":        AttrWeight,
	"weight":                   AttrWeight,
	"ldm":                      AttrLDM,
	"loading meters":           AttrLDM,
	"cbm":                      AttrCBM,
	"volume":                   AttrCBM,
	"pallets":                  AttrPallets,
}

// Synonym returns the canonical attribute a column name is known by.
func Synonym(column string) (string, bool) {
	attr, ok := synonyms[Normalize(column)]
	return attr, ok
}

// ResolveAttribute maps a free-text column name onto one of the available
// attribute names: synonym table first, then normalized equality, then
// the longest normalized substring match in either direction.
func ResolveAttribute(column string, available map[string]string) (string, bool) {
	if attr, ok := Synonym(column); ok {
		return attr, true
	}

	want := Normalize(column)
	if want == "" {
		return "", false
	}

	names := make([]string, 0, len(available))
	for name := range available {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if Normalize(name) == want {
			return name, true
		}
	}

	best, bestLen := "", 0
	for _, name := range names {
		n := Normalize(name)
		if n == "" {
			continue
		}
		if strings.Contains(want, n) || strings.Contains(n, want) {
			if len(n) > bestLen {
				best, bestLen = name, len(n)
			}
		}
	}
	return best, best != ""
}

// IsPostalColumn reports whether a column holds postal codes, which lane
// matching compares by prefix.
func IsPostalColumn(name string) bool {
	n := Normalize(name)
	return strings.Contains(n, "postal") || strings.Contains(n, "zip") || strings.Contains(n, "postcode") || strings.Contains(n, "plz")
}

// MapColumn performs the load-time schema mapping of a rate card column.
func MapColumn(name string) Column {
	col := Column{Name: name, Postal: IsPostalColumn(name)}
	if attr, ok := Synonym(name); ok {
		col.Attribute = attr
	}
	return col
}
