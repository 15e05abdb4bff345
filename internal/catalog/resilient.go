package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/pkg/circuitbreaker"
	"freightaudit/pkg/metrics"
	"freightaudit/pkg/retry"
)

// ResilientSource guards a source with a circuit breaker and retries
// transient failures. A missing agreement is an answer, not a failure: it
// neither counts against the breaker nor gets retried.
type ResilientSource struct {
	name   string
	next   Source
	cb     *circuitbreaker.Wrapper
	policy retry.Policy
	logger logger.Logger
}

// NewResilientSource wraps next. cb may be nil to disable breaking.
func NewResilientSource(name string, next Source, cb *circuitbreaker.Wrapper, policy retry.Policy, log logger.Logger) *ResilientSource {
	return &ResilientSource{
		name:   name,
		next:   next,
		cb:     cb,
		policy: policy,
		logger: log,
	}
}

func (s *ResilientSource) Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	start := time.Now()

	var bundle ratecard.Bundle
	err := retry.RetryWithCallback(ctx, s.policy, func() error {
		b, err := circuitbreaker.Do(ctx, s.cb, IsNotFound, func() (ratecard.Bundle, error) {
			return s.next.Bundle(ctx, agreementID)
		})
		if err != nil {
			if IsNotFound(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, context.Canceled) {
				return retry.NewFatalError(err)
			}
			return err
		}
		bundle = b
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		s.logger.WarnwCtx(ctx, "Retrying catalog load",
			"source", s.name,
			"agreement_id", agreementID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})

	status := queryStatus(err)
	metrics.ObserveCatalogLoad(s.name, status, time.Since(start))
	if err != nil && status == "error" {
		s.logger.ErrorwCtx(ctx, "Catalog load failed",
			"source", s.name,
			"agreement_id", agreementID,
			"error", err,
		)
	}
	return bundle, err
}
