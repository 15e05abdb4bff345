// Package reconcile drives the resolution of billed cost lines in batches
// and owns the lifecycle of the per-run catalog cache.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"

	"freightaudit/internal/catalog"
	"freightaudit/internal/ratecard"
)

// Run is one reconciliation run. Catalogs loaded during the run are cached
// on it and dropped with it, so two runs never share tables.
type Run struct {
	ID        string
	StartedAt time.Time
	cache     *catalog.Cache
}

func NewRun(src catalog.Source) *Run {
	return &Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
		cache:     catalog.NewCache(src),
	}
}

// Bundle returns the agreement's catalogs, loading them on first use.
func (r *Run) Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	return r.cache.Bundle(ctx, agreementID)
}

// Agreements returns how many agreements the run has loaded so far.
func (r *Run) Agreements() int {
	return r.cache.Len()
}
