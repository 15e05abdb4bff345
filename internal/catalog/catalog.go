// Package catalog loads the per-agreement rate card and accessorial
// catalog from their backing stores and keeps them for the duration of a
// reconciliation run.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"freightaudit/internal/ratecard"
)

// ErrNotFound reports that a store holds no catalog for an agreement.
var ErrNotFound = errors.New("catalog not found")

type RateCardStore interface {
	RateCard(ctx context.Context, agreementID string) (*ratecard.RateCard, error)
}

type AccessorialStore interface {
	Accessorials(ctx context.Context, agreementID string) (*ratecard.AccessorialCatalog, error)
}

// Source yields both catalogs of an agreement at once.
type Source interface {
	Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error)
}

// Importer writes a bundle into a store, replacing what the store held for
// the agreement.
type Importer interface {
	Import(ctx context.Context, agreementID string, bundle ratecard.Bundle) error
}

// Loader combines a rate card store and an accessorial store. A missing
// half leaves that half nil in the bundle; only when both are missing is
// ErrNotFound returned.
type Loader struct {
	cards       RateCardStore
	accessorial AccessorialStore
}

func NewLoader(cards RateCardStore, accessorial AccessorialStore) *Loader {
	return &Loader{cards: cards, accessorial: accessorial}
}

func (l *Loader) Bundle(ctx context.Context, agreementID string) (ratecard.Bundle, error) {
	var bundle ratecard.Bundle

	if l.cards != nil {
		card, err := l.cards.RateCard(ctx, agreementID)
		switch {
		case err == nil:
			bundle.RateCard = card
		case !errors.Is(err, ErrNotFound):
			return ratecard.Bundle{}, fmt.Errorf("failed to load rate card for %s: %w", agreementID, err)
		}
	}

	if l.accessorial != nil {
		cat, err := l.accessorial.Accessorials(ctx, agreementID)
		switch {
		case err == nil:
			bundle.Accessorials = cat
		case !errors.Is(err, ErrNotFound):
			return ratecard.Bundle{}, fmt.Errorf("failed to load accessorial catalog for %s: %w", agreementID, err)
		}
	}

	if bundle.RateCard == nil && bundle.Accessorials == nil {
		return ratecard.Bundle{}, fmt.Errorf("agreement %s: %w", agreementID, ErrNotFound)
	}
	return bundle, nil
}

// IsNotFound reports whether err means the agreement has no catalog.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
