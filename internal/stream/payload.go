package stream

import (
	"strings"

	"freightaudit/internal/ratecard"
	"freightaudit/internal/rating"
	"freightaudit/internal/reconcile"
)

// CostLines is the payload of a shipment.cost_lines message: one billed
// shipment with every cost line the carrier invoiced for it.
type CostLines struct {
	Shipment ratecard.Shipment `json:"shipment"`
	Lines    []rating.Line     `json:"lines"`
}

// Resolutions is the payload published for every handled CostLines.
type Resolutions struct {
	RunID       string              `json:"run_id"`
	ShipmentID  string              `json:"shipment_id"`
	AgreementID string              `json:"agreement_id"`
	Resolutions []rating.Resolution `json:"resolutions"`
	Summary     reconcile.Summary   `json:"summary"`
}

// dedupValues exposes the fields a dedup key may be built from. lines
// covers every line identity and invoiced amount, so a corrected invoice is
// not mistaken for a replay.
func (p CostLines) dedupValues(msgID, source string) map[string]string {
	parts := make([]string, len(p.Lines))
	for i, l := range p.Lines {
		invoiced := ""
		if l.Invoiced.Valid {
			invoiced = l.Invoiced.Decimal.String()
		}
		parts[i] = strings.Join([]string{l.ID, l.CostType, l.LaneNumber, invoiced}, ":")
	}
	return map[string]string{
		"id":           msgID,
		"source":       source,
		"shipment_id":  p.Shipment.ID,
		"agreement_id": p.Shipment.AgreementID,
		"lines":        strings.Join(parts, ";"),
	}
}
