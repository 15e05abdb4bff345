// Package stream resolves cost lines arriving on the broker and publishes
// the resolutions.
package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"freightaudit/internal/broker"
	"freightaudit/internal/logger"
	"freightaudit/internal/rating"
	"freightaudit/internal/reconcile"
	"freightaudit/pkg/logging"
	"freightaudit/pkg/models"
	"freightaudit/pkg/retry"
	"freightaudit/pkg/tracing"
)

// Deduper claims messages so replays are skipped.
type Deduper interface {
	Claim(ctx context.Context, values map[string]string) (key string, fresh bool, err error)
	Release(ctx context.Context, key string)
}

type Handler struct {
	service     *reconcile.Service
	dedup       Deduper
	producer    broker.Producer
	outputTopic string
	source      string
	logger      logger.Logger
}

// NewHandler builds the cost line handler. dedup may be nil.
func NewHandler(service *reconcile.Service, dedup Deduper, producer broker.Producer, outputTopic, source string, log logger.Logger) *Handler {
	return &Handler{
		service:     service,
		dedup:       dedup,
		producer:    producer,
		outputTopic: outputTopic,
		source:      source,
		logger:      log,
	}
}

// Handle is a broker.HandlerFunc. Malformed messages fail fatally; a
// catalog outage or publish failure is returned for retry, with the dedup
// claim released so the retry is not taken for a replay.
func (h *Handler) Handle(ctx context.Context, msg models.MessageEnvelope) error {
	if msg.Type != models.TypeCostLines {
		h.logger.DebugwCtx(ctx, "Ignoring message", "type", msg.Type)
		return nil
	}
	ctx, span := tracing.GetTracer("rate-resolver").Start(ctx, "stream.handle")
	defer span.End()

	if err := models.ValidateMessageEnvelope(&msg); err != nil {
		return retry.NewFatalError(err)
	}
	var payload CostLines
	if err := msg.Decode(&payload); err != nil {
		return retry.NewFatalError(err)
	}
	if err := normalize(&payload); err != nil {
		return retry.NewFatalError(fmt.Errorf("message %s: %w", msg.ID, err))
	}

	s := &payload.Shipment
	ctx = logging.WithShipment(ctx, s.ID, s.AgreementID)

	key := ""
	if h.dedup != nil {
		var fresh bool
		var err error
		key, fresh, err = h.dedup.Claim(ctx, payload.dedupValues(msg.ID, msg.Source))
		if err != nil {
			return err
		}
		if !fresh {
			h.logger.InfowCtx(ctx, "Skipping already resolved shipment", "lines", len(payload.Lines))
			return nil
		}
	}

	run := h.service.Current()
	start := time.Now()
	results := h.service.Runner().ResolveShipment(ctx, run, s, payload.Lines)

	for _, res := range results {
		if res.Status == rating.StatusCatalogUnavailable {
			h.release(ctx, key)
			err := fmt.Errorf("catalog for agreement %s unavailable", res.AgreementID)
			tracing.RecordError(span, err)
			return err
		}
	}

	out, err := models.NewMessageEnvelopeBuilder(models.TypeResolutions).
		WithSource(h.source).
		WithPayload(Resolutions{
			RunID:       run.ID,
			ShipmentID:  s.ID,
			AgreementID: s.AgreementID,
			Resolutions: results,
			Summary:     reconcile.Summarize(results),
		}).
		WithTraceID(msg.Metadata.TraceID).
		WithRunID(run.ID).
		WithCorrelationID(s.ID).
		Build()
	if err != nil {
		h.release(ctx, key)
		return retry.NewFatalError(err)
	}

	if err := h.producer.Publish(ctx, h.outputTopic, *out); err != nil {
		h.release(ctx, key)
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to publish resolutions: %w", err)
	}

	h.logger.InfowCtx(ctx, "Shipment resolved",
		"lines", len(results),
		"run_id", run.ID,
		"duration", time.Since(start),
	)
	return nil
}

func (h *Handler) release(ctx context.Context, key string) {
	if h.dedup != nil {
		h.dedup.Release(ctx, key)
	}
}

// normalize checks the payload and fills line identity from the shipment.
func normalize(p *CostLines) error {
	p.Shipment.ID = strings.TrimSpace(p.Shipment.ID)
	if p.Shipment.ID == "" {
		return fmt.Errorf("shipment has no id")
	}
	if len(p.Lines) == 0 {
		return fmt.Errorf("shipment %s has no cost lines", p.Shipment.ID)
	}
	for i := range p.Lines {
		l := &p.Lines[i]
		if l.ShipmentID == "" {
			l.ShipmentID = p.Shipment.ID
		}
		if l.ShipmentID != p.Shipment.ID {
			return fmt.Errorf("line %s belongs to shipment %s, not %s", l.ID, l.ShipmentID, p.Shipment.ID)
		}
		if l.AgreementID == "" {
			l.AgreementID = p.Shipment.AgreementID
		}
	}
	return nil
}
