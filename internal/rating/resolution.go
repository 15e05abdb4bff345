package rating

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusResolved           Status = "resolved"
	StatusConditionNotMet    Status = "condition_not_met"
	StatusLaneNotFound       Status = "lane_not_found"
	StatusLanesAmbiguous     Status = "lanes_ambiguous"
	StatusCostNotFound       Status = "cost_not_found"
	StatusPriceMissing       Status = "price_missing"
	StatusTierExceeded       Status = "tier_exceeded"
	StatusTierNotFound       Status = "tier_not_found"
	StatusMultiplierMissing  Status = "multiplier_missing"
	StatusBaseCostNotFound   Status = "base_cost_not_found"
	StatusNeedsReview        Status = "needs_review"
	StatusCatalogUnavailable Status = "catalog_unavailable"
	StatusShipmentMissing    Status = "shipment_missing"
)

// Statuses lists every terminal status in report order.
var Statuses = []Status{
	StatusResolved,
	StatusConditionNotMet,
	StatusLaneNotFound,
	StatusLanesAmbiguous,
	StatusCostNotFound,
	StatusPriceMissing,
	StatusTierExceeded,
	StatusTierNotFound,
	StatusMultiplierMissing,
	StatusBaseCostNotFound,
	StatusNeedsReview,
	StatusCatalogUnavailable,
	StatusShipmentMissing,
}

// NeedsReview reports whether the status asks for a human decision rather
// than being a definite outcome.
func (s Status) NeedsReview() bool {
	switch s {
	case StatusLanesAmbiguous, StatusNeedsReview:
		return true
	}
	return false
}

type Source string

const (
	SourceRateCard    Source = "rate_card"
	SourceAccessorial Source = "accessorial"
)

type Clamp string

const (
	ClampNone Clamp = ""
	ClampMin  Clamp = "min"
	ClampMax  Clamp = "max"
)

// Line is one billed cost line of a shipment.
type Line struct {
	ID          string              `json:"id"`
	ShipmentID  string              `json:"shipment_id"`
	AgreementID string              `json:"agreement_id"`
	CostType    string              `json:"cost_type"`
	LaneNumber  string              `json:"lane_number,omitempty"`
	Invoiced    decimal.NullDecimal `json:"invoiced"`
}

// Resolution is the expected price of one cost line with its audit trail.
// It is produced for every line whatever the outcome.
type Resolution struct {
	LineID      string              `json:"line_id,omitempty"`
	ShipmentID  string              `json:"shipment_id"`
	AgreementID string              `json:"agreement_id"`
	CostType    string              `json:"cost_type"`
	Status      Status              `json:"status"`
	Price       decimal.NullDecimal `json:"price"`
	Basis       string              `json:"basis,omitempty"`
	Lanes       []string            `json:"lanes,omitempty"`
	Source      Source              `json:"source,omitempty"`
	CostName    string              `json:"cost_name,omitempty"`
	Tier        string              `json:"tier,omitempty"`
	Clamp       Clamp               `json:"clamp,omitempty"`
	Invoiced    decimal.NullDecimal `json:"invoiced"`
	Delta       decimal.NullDecimal `json:"delta"`
	Explanation string              `json:"explanation"`
	Notes       []string            `json:"notes,omitempty"`
}

func newResolution(line Line) Resolution {
	return Resolution{
		LineID:      line.ID,
		ShipmentID:  line.ShipmentID,
		AgreementID: line.AgreementID,
		CostType:    line.CostType,
		Invoiced:    line.Invoiced,
	}
}

// Unavailable is the resolution of a line whose agreement catalogs could
// not be loaded.
func Unavailable(line Line, err error) Resolution {
	res := newResolution(line)
	res.fail(StatusCatalogUnavailable, "catalog for agreement %s unavailable: %v", line.AgreementID, err)
	return res
}

func (r *Resolution) fail(status Status, format string, args ...interface{}) {
	r.Status = status
	r.Price = decimal.NullDecimal{}
	r.Explanation = fmt.Sprintf(format, args...)
}

func (r *Resolution) resolve(price decimal.Decimal, format string, args ...interface{}) {
	r.Status = StatusResolved
	r.Price = decimal.NewNullDecimal(price)
	r.Explanation = fmt.Sprintf(format, args...)
	if r.Invoiced.Valid {
		r.Delta = decimal.NewNullDecimal(r.Invoiced.Decimal.Sub(price))
	}
}

func (r *Resolution) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Lane returns the single lane the resolution priced on, if any.
func (r Resolution) Lane() string {
	if len(r.Lanes) == 1 {
		return r.Lanes[0]
	}
	return ""
}

// Summary renders the explanation with notes appended.
func (r Resolution) Summary() string {
	if len(r.Notes) == 0 {
		return r.Explanation
	}
	return r.Explanation + " [" + strings.Join(r.Notes, "; ") + "]"
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
