package ratecard

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Canonical shipment attribute names. Upstream loaders map their own
// column headers onto these before handing shipments to the engine.
const (
	AttrShipCountry   = "SHIP_COUNTRY"
	AttrShipPostal    = "SHIP_POSTAL"
	AttrShipCity      = "SHIP_CITY"
	AttrCustCountry   = "CUST_COUNTRY"
	AttrCustPostal    = "CUST_POSTAL"
	AttrCustCity      = "CUST_CITY"
	AttrCarrier       = "CARRIER"
	AttrService       = "SERVICE"
	AttrTransportMode = "TRANSPORT_MODE"
	AttrEquipment     = "EQUIPMENT"
	AttrIncoterm      = "INCOTERM"
	AttrShipDate      = "SHIP_DATE"
	AttrWeight        = "CHARGEABLE_WEIGHT"
	AttrLDM           = "LDM"
	AttrCBM           = "CBM"
	AttrPallets       = "PALLETS"
)

// Shipment is one billed shipment (keyed by ETOF number). It is read-only
// once loaded.
type Shipment struct {
	ID           string                     `json:"id"`
	AgreementID  string                     `json:"agreement_id"`
	Attributes   map[string]string          `json:"attributes"`
	Weight       decimal.NullDecimal        `json:"weight"`
	Measurements map[string]decimal.Decimal `json:"measurements,omitempty"`
	ShipDate     *time.Time                 `json:"ship_date,omitempty"`
}

// Attribute returns the raw attribute value and whether the shipment
// carries the attribute at all.
func (s *Shipment) Attribute(name string) (string, bool) {
	if s == nil || s.Attributes == nil {
		return "", false
	}
	v, ok := s.Attributes[name]
	return v, ok
}

// Column describes one constraint column of a rate card after schema
// mapping. Attribute is empty for pure business-rule (zone) columns that
// have no counterpart in the shipment schema.
type Column struct {
	Name      string `json:"name"`
	Attribute string `json:"attribute,omitempty"`
	Postal    bool   `json:"postal,omitempty"`
}

// Lane is one priced row of a rate card.
type Lane struct {
	Number      string              `json:"number"`
	Constraints map[string]string   `json:"constraints"`
	ValidFrom   *time.Time          `json:"valid_from,omitempty"`
	ValidTo     *time.Time          `json:"valid_to,omitempty"`
	Prices      map[string]PriceSet `json:"prices,omitempty"`
}

// TierPrice is a price cell whose column label carries a numeric range.
type TierPrice struct {
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

// PriceSet holds every populated price cell a lane has for one cost column.
type PriceSet struct {
	Flat    decimal.NullDecimal `json:"flat"`
	PerUnit decimal.NullDecimal `json:"per_unit"`
	Min     decimal.NullDecimal `json:"min"`
	Max     decimal.NullDecimal `json:"max"`
	Tiers   []TierPrice         `json:"tiers,omitempty"`
}

// Populated reports whether the set carries any usable price.
func (p PriceSet) Populated() bool {
	return p.Flat.Valid || p.PerUnit.Valid || len(p.Tiers) > 0
}

// CostDefinition is one row of the cost conditions table.
type CostDefinition struct {
	Name      string `json:"name"`
	RateBy    string `json:"rate_by"`
	AppliesIf string `json:"applies_if"`
}

// BusinessRule is a named geo zone.
type BusinessRule struct {
	Name             string   `json:"name"`
	Countries        []string `json:"countries"`
	PostalPrefixes   []string `json:"postal_prefixes,omitempty"`
	ExcludedPrefixes []string `json:"excluded_prefixes,omitempty"`
}

// RateCard is the primary cost catalog of one agreement.
type RateCard struct {
	AgreementID string           `json:"agreement_id"`
	Carrier     string           `json:"carrier,omitempty"`
	Columns     []Column         `json:"columns"`
	Lanes       []Lane           `json:"lanes"`
	Costs       []CostDefinition `json:"costs"`
	// ColumnConditions maps a constraint column to the condition text that
	// governs each literal lane value in that column.
	ColumnConditions map[string]map[string]string `json:"column_conditions,omitempty"`
	BusinessRules    []BusinessRule               `json:"business_rules,omitempty"`
}

// Lane returns the lane with the given number.
func (c *RateCard) Lane(number string) (*Lane, bool) {
	if c == nil {
		return nil, false
	}
	want := strings.TrimSpace(number)
	for i := range c.Lanes {
		if strings.EqualFold(c.Lanes[i].Number, want) {
			return &c.Lanes[i], true
		}
	}
	return nil, false
}

// MappedColumns returns the declared columns followed by every lane
// constraint column the card does not declare, mapped by name. Undeclared
// columns are appended in name order.
func (c *RateCard) MappedColumns() []Column {
	if c == nil {
		return nil
	}
	declared := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		declared[col.Name] = true
	}
	var extra []string
	for _, l := range c.Lanes {
		for name := range l.Constraints {
			if !declared[name] {
				declared[name] = true
				extra = append(extra, name)
			}
		}
	}
	if len(extra) == 0 {
		return c.Columns
	}
	sort.Strings(extra)
	cols := make([]Column, 0, len(c.Columns)+len(extra))
	cols = append(cols, c.Columns...)
	for _, name := range extra {
		cols = append(cols, MapColumn(name))
	}
	return cols
}

// ColumnCondition returns the condition text governing value in column.
// Value matching is case-insensitive.
func (c *RateCard) ColumnCondition(column, value string) (string, bool) {
	if c == nil || c.ColumnConditions == nil {
		return "", false
	}
	byValue, ok := c.ColumnConditions[column]
	if !ok {
		for name, conds := range c.ColumnConditions {
			if Normalize(name) == Normalize(column) {
				byValue, ok = conds, true
				break
			}
		}
	}
	if !ok {
		return "", false
	}
	want := strings.TrimSpace(value)
	for v, text := range byValue {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return text, true
		}
	}
	return "", false
}

// AccessorialCost is a flat row of the secondary cost catalog.
type AccessorialCost struct {
	Name       string              `json:"name"`
	LaneNumber string              `json:"lane_number,omitempty"`
	RateBy     string              `json:"rate_by"`
	AppliesIf  string              `json:"applies_if,omitempty"`
	Flat       decimal.NullDecimal `json:"flat"`
	PerUnit    decimal.NullDecimal `json:"per_unit"`
	Min        decimal.NullDecimal `json:"min"`
	Max        decimal.NullDecimal `json:"max"`
	Percentage decimal.NullDecimal `json:"percentage"`
	// PercentageOf lists the base cost names a percentage applies over.
	PercentageOf []string   `json:"percentage_of,omitempty"`
	ValidFrom    *time.Time `json:"valid_from,omitempty"`
	ValidTo      *time.Time `json:"valid_to,omitempty"`
}

// IsPercentage reports whether the entry prices as a share of other costs.
func (a AccessorialCost) IsPercentage() bool {
	return a.Percentage.Valid
}

// Prices returns the entry's price cells in lane price form.
func (a AccessorialCost) Prices() PriceSet {
	return PriceSet{Flat: a.Flat, PerUnit: a.PerUnit, Min: a.Min, Max: a.Max}
}

// AccessorialCatalog is the secondary cost catalog of one agreement.
type AccessorialCatalog struct {
	AgreementID string            `json:"agreement_id"`
	Costs       []AccessorialCost `json:"costs"`
}

// Bundle groups both catalogs of an agreement.
type Bundle struct {
	RateCard     *RateCard           `json:"rate_card,omitempty"`
	Accessorials *AccessorialCatalog `json:"accessorials,omitempty"`
}
