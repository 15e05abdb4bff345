package reconcile

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"freightaudit/internal/catalog"
	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/internal/rating"
	"freightaudit/pkg/logging"
	"freightaudit/pkg/metrics"
	"freightaudit/pkg/tracing"
)

const tracerName = "rate-resolver"

// Input is a batch of shipments and their billed cost lines.
type Input struct {
	Shipments []ratecard.Shipment `json:"shipments"`
	Lines     []rating.Line       `json:"lines"`
}

// Runner resolves batches shipment by shipment on a bounded pool of
// workers. Lines of one shipment always go to the same worker, because
// percentage costs depend on the shipment's other lines.
type Runner struct {
	resolver *rating.Resolver
	workers  int
	logger   logger.Logger
}

func NewRunner(resolver *rating.Resolver, workers int, log logger.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{resolver: resolver, workers: workers, logger: log}
}

type group struct {
	shipmentID string
	indexes    []int
}

// Reconcile resolves every line of the input. Every line gets a
// resolution; the only error is cancellation of ctx.
func (r *Runner) Reconcile(ctx context.Context, run *Run, in Input) (*Report, error) {
	ctx = logging.WithRunID(ctx, run.ID)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "reconcile.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.lines", len(in.Lines)),
	)

	start := time.Now()
	metrics.RunsTotal.WithLabelValues("batch").Inc()

	shipments := make(map[string]*ratecard.Shipment, len(in.Shipments))
	for i := range in.Shipments {
		s := &in.Shipments[i]
		shipments[strings.TrimSpace(s.ID)] = s
	}

	groups := groupLines(in.Lines)
	out := make([]rating.Resolution, len(in.Lines))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, grp := range groups {
		grp := grp
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			lines := make([]rating.Line, len(grp.indexes))
			for i, idx := range grp.indexes {
				lines[i] = in.Lines[idx]
			}
			results := r.ResolveShipment(gCtx, run, shipments[grp.shipmentID], lines)
			for i, idx := range grp.indexes {
				out[idx] = results[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       run.ID,
		StartedAt:   start.UTC(),
		FinishedAt:  time.Now().UTC(),
		Summary:     Summarize(out),
		Resolutions: out,
	}

	r.logger.InfowCtx(ctx, "Reconciliation run finished",
		"lines", report.Summary.Lines,
		"shipments", report.Summary.Shipments,
		"agreements", run.Agreements(),
		"needs_review", report.Summary.NeedsReview,
		"delta", report.Summary.Delta.StringFixed(2),
		"duration", time.Since(start),
	)
	return report, nil
}

// ResolveShipment prices the lines of one shipment. A nil shipment yields
// shipment_missing resolutions; an agreement whose catalogs cannot be
// loaded yields catalog_unavailable.
func (r *Runner) ResolveShipment(ctx context.Context, run *Run, s *ratecard.Shipment, lines []rating.Line) []rating.Resolution {
	start := time.Now()
	agreementID := agreementFor(s, lines)
	shipmentID := ""
	if s != nil {
		shipmentID = s.ID
	} else if len(lines) > 0 {
		shipmentID = lines[0].ShipmentID
	}

	ctx = logging.WithShipment(ctx, shipmentID, agreementID)
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "reconcile.shipment")
	defer span.End()
	span.SetAttributes(
		attribute.String("shipment.id", shipmentID),
		attribute.String("agreement.id", agreementID),
		attribute.Int("shipment.lines", len(lines)),
	)

	var bundle ratecard.Bundle
	if s != nil && agreementID != "" {
		b, err := run.Bundle(ctx, agreementID)
		switch {
		case err == nil:
			bundle = b
		case catalog.IsNotFound(err):
			r.logger.WarnwCtx(ctx, "Agreement has no catalog")
		default:
			r.logger.ErrorwCtx(ctx, "Catalog unavailable, lines left unresolved", "error", err)
			out := make([]rating.Resolution, len(lines))
			for i, line := range lines {
				if line.AgreementID == "" {
					line.AgreementID = agreementID
				}
				if line.ShipmentID == "" {
					line.ShipmentID = shipmentID
				}
				out[i] = rating.Unavailable(line, err)
			}
			record(out)
			return out
		}
	}

	out := r.resolver.ResolveShipment(ctx, s, bundle, lines)
	record(out)
	metrics.ObserveResolutionDuration("shipment", time.Since(start))

	for _, res := range out {
		if res.Status != rating.StatusResolved {
			r.logger.DebugwCtx(ctx, "Cost line not resolved",
				"line_id", res.LineID,
				"cost_type", res.CostType,
				"status", res.Status,
				"explanation", res.Summary(),
			)
		}
	}
	return out
}

func record(results []rating.Resolution) {
	for _, res := range results {
		metrics.IncResolution(string(res.Status), string(res.Source))
		if res.Delta.Valid {
			delta, _ := res.Delta.Decimal.Float64()
			metrics.AddInvoiceDelta(res.AgreementID, delta)
		}
	}
}

// groupLines buckets line indexes by shipment, keeping first-seen order.
func groupLines(lines []rating.Line) []group {
	var groups []group
	pos := make(map[string]int)
	for i, line := range lines {
		id := strings.TrimSpace(line.ShipmentID)
		j, ok := pos[id]
		if !ok {
			j = len(groups)
			pos[id] = j
			groups = append(groups, group{shipmentID: id})
		}
		groups[j].indexes = append(groups[j].indexes, i)
	}
	return groups
}

func agreementFor(s *ratecard.Shipment, lines []rating.Line) string {
	if s != nil && strings.TrimSpace(s.AgreementID) != "" {
		return strings.TrimSpace(s.AgreementID)
	}
	for _, line := range lines {
		if id := strings.TrimSpace(line.AgreementID); id != "" {
			return id
		}
	}
	return ""
}
