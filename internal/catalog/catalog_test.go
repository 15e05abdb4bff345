package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/logger"
	"freightaudit/internal/ratecard"
	"freightaudit/pkg/circuitbreaker"
	"freightaudit/pkg/retry"
)

type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	bundles map[string]ratecard.Bundle
	// failures is the number of leading calls that fail transiently.
	failures int
	delay    time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:   make(map[string]int),
		bundles: make(map[string]ratecard.Bundle),
	}
}

func (f *fakeSource) Bundle(_ context.Context, agreementID string) (ratecard.Bundle, error) {
	f.mu.Lock()
	f.calls[agreementID]++
	n := f.calls[agreementID]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.failures {
		return ratecard.Bundle{}, errors.New("connection refused")
	}
	b, ok := f.bundles[agreementID]
	if !ok {
		return ratecard.Bundle{}, fmt.Errorf("agreement %s: %w", agreementID, ErrNotFound)
	}
	return b, nil
}

func (f *fakeSource) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testBundle(id string) ratecard.Bundle {
	return ratecard.Bundle{
		RateCard: &ratecard.RateCard{
			AgreementID: id,
			Lanes:       []ratecard.Lane{{Number: "10"}},
		},
	}
}

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestCache_LoadsOncePerAgreement(t *testing.T) {
	src := newFakeSource()
	src.bundles["A1"] = testBundle("A1")
	src.delay = 10 * time.Millisecond
	cache := NewCache(src)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := cache.Bundle(context.Background(), "A1")
			assert.NoError(t, err)
			assert.Equal(t, "A1", b.RateCard.AgreementID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, src.count("A1"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_RemembersNotFound(t *testing.T) {
	src := newFakeSource()
	cache := NewCache(src)

	_, err := cache.Bundle(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = cache.Bundle(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, src.count("missing"))
}

func TestCache_DoesNotRememberTransientErrors(t *testing.T) {
	src := newFakeSource()
	src.bundles["A1"] = testBundle("A1")
	src.failures = 1
	cache := NewCache(src)

	_, err := cache.Bundle(context.Background(), "A1")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Equal(t, 0, cache.Len())

	b, err := cache.Bundle(context.Background(), "A1")
	require.NoError(t, err)
	assert.NotNil(t, b.RateCard)
	assert.Equal(t, 2, src.count("A1"))
}

func TestResilientSource_RetriesTransientFailures(t *testing.T) {
	src := newFakeSource()
	src.bundles["A1"] = testBundle("A1")
	src.failures = 2
	rs := NewResilientSource("test", src, nil, fastPolicy(3), logger.NopLogger())

	b, err := rs.Bundle(context.Background(), "A1")
	require.NoError(t, err)
	assert.NotNil(t, b.RateCard)
	assert.Equal(t, 3, src.count("A1"))
}

func TestResilientSource_DoesNotRetryNotFound(t *testing.T) {
	src := newFakeSource()
	rs := NewResilientSource("test", src, nil, fastPolicy(3), logger.NopLogger())

	_, err := rs.Bundle(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, src.count("missing"))
}

func TestResilientSource_BreakerOpensOnFailures(t *testing.T) {
	src := newFakeSource()
	src.failures = 100
	cb := circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("catalog-test-open"))
	rs := NewResilientSource("test", src, cb, fastPolicy(1), logger.NopLogger())

	for i := 0; i < 3; i++ {
		_, err := rs.Bundle(context.Background(), "A1")
		require.Error(t, err)
	}
	require.True(t, cb.IsOpen())

	_, err := rs.Bundle(context.Background(), "A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 3, src.count("A1"))
}

func TestResilientSource_NotFoundKeepsBreakerClosed(t *testing.T) {
	src := newFakeSource()
	cb := circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("catalog-test-closed"))
	rs := NewResilientSource("test", src, cb, fastPolicy(1), logger.NopLogger())

	for i := 0; i < 5; i++ {
		_, err := rs.Bundle(context.Background(), "missing")
		require.ErrorIs(t, err, ErrNotFound)
	}
	assert.False(t, cb.IsOpen())
}

type fakeCards struct {
	card *ratecard.RateCard
	err  error
}

func (f fakeCards) RateCard(context.Context, string) (*ratecard.RateCard, error) {
	return f.card, f.err
}

type fakeAccessorials struct {
	cat   *ratecard.AccessorialCatalog
	err   error
	calls *int32
}

func (f fakeAccessorials) Accessorials(context.Context, string) (*ratecard.AccessorialCatalog, error) {
	if f.calls != nil {
		atomic.AddInt32(f.calls, 1)
	}
	return f.cat, f.err
}

func TestLoader_Bundle(t *testing.T) {
	card := &ratecard.RateCard{AgreementID: "A1"}
	cat := &ratecard.AccessorialCatalog{AgreementID: "A1"}

	t.Run("both halves", func(t *testing.T) {
		b, err := NewLoader(fakeCards{card: card}, fakeAccessorials{cat: cat}).Bundle(context.Background(), "A1")
		require.NoError(t, err)
		assert.Same(t, card, b.RateCard)
		assert.Same(t, cat, b.Accessorials)
	})

	t.Run("missing accessorials", func(t *testing.T) {
		b, err := NewLoader(fakeCards{card: card}, fakeAccessorials{err: ErrNotFound}).Bundle(context.Background(), "A1")
		require.NoError(t, err)
		assert.NotNil(t, b.RateCard)
		assert.Nil(t, b.Accessorials)
	})

	t.Run("both missing", func(t *testing.T) {
		_, err := NewLoader(fakeCards{err: ErrNotFound}, fakeAccessorials{err: ErrNotFound}).Bundle(context.Background(), "A1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transient rate card failure", func(t *testing.T) {
		var calls int32
		_, err := NewLoader(fakeCards{err: errors.New("timeout")}, fakeAccessorials{cat: cat, calls: &calls}).Bundle(context.Background(), "A1")
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	})

	t.Run("no accessorial store", func(t *testing.T) {
		b, err := NewLoader(fakeCards{card: card}, nil).Bundle(context.Background(), "A1")
		require.NoError(t, err)
		assert.Nil(t, b.Accessorials)
	})
}
