package reconcile

import (
	"context"
	"sync"

	"freightaudit/internal/catalog"
	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/internal/rating"
	"freightaudit/pkg/metrics"
)

// Service is the long-lived face of the engine used by the stream consumer
// and the HTTP API. Single-shipment requests share one open Run whose cache
// lives until an agreement changes and the run is rotated; batches get a
// run each.
type Service struct {
	runner *Runner
	src    catalog.Source
	logger logger.Logger

	mu  sync.RWMutex
	run *Run
}

func NewService(runner *Runner, src catalog.Source, log logger.Logger) *Service {
	s := &Service{runner: runner, src: src, logger: log}
	s.run = NewRun(src)
	metrics.RunsTotal.WithLabelValues("service").Inc()
	return s
}

// Current returns the open run.
func (s *Service) Current() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// Rotate replaces the open run with a fresh one. In-flight work keeps the
// run it started with.
func (s *Service) Rotate(reason string) *Run {
	next := NewRun(s.src)

	s.mu.Lock()
	prev := s.run
	s.run = next
	s.mu.Unlock()

	metrics.RunsTotal.WithLabelValues("service").Inc()
	s.logger.Infow("Catalog run rotated",
		"reason", reason,
		"previous_run_id", prev.ID,
		"previous_agreements", prev.Agreements(),
		"run_id", next.ID,
	)
	return next
}

// ReloadRules drops every cached catalog so the next request reads the
// stores again.
func (s *Service) ReloadRules(ctx context.Context) error {
	s.Rotate("config_update")
	return ctx.Err()
}

// ResolveShipment prices the lines of one shipment on the open run.
func (s *Service) ResolveShipment(ctx context.Context, shipment *ratecard.Shipment, lines []rating.Line) []rating.Resolution {
	return s.runner.ResolveShipment(ctx, s.Current(), shipment, lines)
}

// Reconcile resolves a batch on a run of its own, so the batch reads the
// stores afresh and its tables are dropped when it finishes.
func (s *Service) Reconcile(ctx context.Context, in Input) (*Report, error) {
	return s.runner.Reconcile(ctx, NewRun(s.src), in)
}

// Bundle returns the agreement's catalogs through the open run.
func (s *Service) Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	return s.Current().Bundle(ctx, agreementID)
}

func (s *Service) Runner() *Runner {
	return s.runner
}
