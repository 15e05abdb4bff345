package rating

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"freightaudit/internal/ratecard"
)

// Ledger holds the resolved amounts of one shipment's cost lines, the
// base that percentage costs apply over.
type Ledger struct {
	mu      sync.RWMutex
	amounts map[string]decimal.Decimal
	names   map[string]string
}

func NewLedger() *Ledger {
	return &Ledger{
		amounts: make(map[string]decimal.Decimal),
		names:   make(map[string]string),
	}
}

// Add records a resolved amount. Several lines of the same cost add up.
func (l *Ledger) Add(costType string, amount decimal.Decimal) {
	key := ratecard.Normalize(costType)
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.amounts[key] = l.amounts[key].Add(amount)
	if _, ok := l.names[key]; !ok {
		l.names[key] = strings.TrimSpace(costType)
	}
}

// Record adds a resolution's price when it resolved.
func (l *Ledger) Record(r Resolution) {
	if r.Status == StatusResolved && r.Price.Valid {
		l.Add(r.CostType, r.Price.Decimal)
	}
}

// Lookup returns the amounts for a base cost name. An exact name wins;
// otherwise base-name and prefix matches are returned, possibly several.
func (l *Ledger) Lookup(name string) map[string]decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.names))
	for k := range l.names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	display := make([]string, len(keys))
	for i, k := range keys {
		display[i] = l.names[k]
	}

	hits, _ := findNames(name, display)
	out := make(map[string]decimal.Decimal, len(hits))
	for _, i := range hits {
		out[display[i]] = l.amounts[keys[i]]
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.amounts)
}
