package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"freightaudit/internal/rating"
)

// Report is the outcome of one batch run.
type Report struct {
	RunID       string              `json:"run_id"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Summary     Summary             `json:"summary"`
	Resolutions []rating.Resolution `json:"resolutions"`
}

// Summary aggregates a set of resolutions. Expected and Invoiced only sum
// lines that resolved and carry an invoiced amount, so Delta compares like
// with like.
type Summary struct {
	Lines       int                   `json:"lines"`
	Shipments   int                   `json:"shipments"`
	ByStatus    map[rating.Status]int `json:"by_status"`
	NeedsReview int                   `json:"needs_review"`
	Expected    decimal.Decimal       `json:"expected"`
	Invoiced    decimal.Decimal       `json:"invoiced"`
	Delta       decimal.Decimal       `json:"delta"`
	// Discrepancies counts resolved lines whose invoiced amount differs
	// from the expected price.
	Discrepancies int `json:"discrepancies"`
}

func Summarize(resolutions []rating.Resolution) Summary {
	sum := Summary{
		Lines:    len(resolutions),
		ByStatus: make(map[rating.Status]int),
	}

	shipments := make(map[string]struct{})
	for _, res := range resolutions {
		sum.ByStatus[res.Status]++
		if res.Status.NeedsReview() {
			sum.NeedsReview++
		}
		if res.ShipmentID != "" {
			shipments[res.ShipmentID] = struct{}{}
		}
		if res.Status != rating.StatusResolved || !res.Price.Valid || !res.Invoiced.Valid {
			continue
		}
		sum.Expected = sum.Expected.Add(res.Price.Decimal)
		sum.Invoiced = sum.Invoiced.Add(res.Invoiced.Decimal)
		if !res.Invoiced.Decimal.Equal(res.Price.Decimal) {
			sum.Discrepancies++
		}
	}
	sum.Shipments = len(shipments)
	sum.Delta = sum.Invoiced.Sub(sum.Expected)
	return sum
}
