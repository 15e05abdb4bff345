package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/config"
	"freightaudit/internal/logger"
	"freightaudit/pkg/circuitbreaker"
)

type memoryRepo struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{keys: make(map[string]bool)}
}

func (m *memoryRepo) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memoryRepo) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.keys, key)
	return nil
}

func testConfig() config.DedupConfig {
	return config.DedupConfig{
		Enabled:       true,
		HashAlgorithm: "sha256",
		TTLSeconds:    60,
		OnRedisError:  FallbackAllow,
	}
}

func message(lines string) map[string]string {
	return map[string]string{"shipment_id": "S1", "agreement_id": "AGR-1", "lines": lines}
}

func TestHasher(t *testing.T) {
	h := NewHasher("sha256")
	fields := []string{"a", "b"}

	k1, err := h.Hash(map[string]string{"a": "1", "b": "2"}, fields)
	require.NoError(t, err)
	k2, err := h.Hash(map[string]string{"a": "1", "b": "2", "c": "ignored"}, fields)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	// Field boundaries are part of the key.
	k3, err := h.Hash(map[string]string{"a": "1|b=2", "b": ""}, fields)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	md5Key, err := NewHasher("md5").Hash(map[string]string{"a": "1"}, fields)
	require.NoError(t, err)
	assert.Len(t, md5Key, 32)

	_, err = h.Hash(nil, nil)
	assert.Error(t, err)
}

func TestService_Claim(t *testing.T) {
	svc := NewService(newMemoryRepo(), testConfig(), logger.NopLogger())
	ctx := context.Background()

	key, fresh, err := svc.Claim(ctx, message("L1:Transport cost:150"))
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Contains(t, key, KeyPrefix)

	_, fresh, err = svc.Claim(ctx, message("L1:Transport cost:150"))
	require.NoError(t, err)
	assert.False(t, fresh, "replay is a duplicate")

	_, fresh, err = svc.Claim(ctx, message("L1:Transport cost:155"))
	require.NoError(t, err)
	assert.True(t, fresh, "a changed invoice is new")

	svc.Release(ctx, key)
	_, fresh, err = svc.Claim(ctx, message("L1:Transport cost:150"))
	require.NoError(t, err)
	assert.True(t, fresh, "released keys can be claimed again")
}

func TestService_RedisErrorFallback(t *testing.T) {
	repo := newMemoryRepo()
	repo.err = errors.New("connection refused")

	allow := NewService(repo, testConfig(), logger.NopLogger())
	_, fresh, err := allow.Claim(context.Background(), message("x"))
	require.NoError(t, err)
	assert.True(t, fresh)

	cfg := testConfig()
	cfg.OnRedisError = FallbackDeny
	deny := NewService(repo, cfg, logger.NopLogger())
	_, fresh, err = deny.Claim(context.Background(), message("x"))
	assert.Error(t, err)
	assert.False(t, fresh)
}

func TestService_UpdateFieldsToHash(t *testing.T) {
	svc := NewService(newMemoryRepo(), testConfig(), logger.NopLogger())
	assert.Equal(t, defaultFields, svc.Fields())

	assert.Error(t, svc.UpdateFieldsToHash(nil))
	require.NoError(t, svc.UpdateFieldsToHash([]string{"shipment_id"}))
	assert.Equal(t, []string{"shipment_id"}, svc.Fields())

	ctx := context.Background()
	_, fresh, err := svc.Claim(ctx, message("a"))
	require.NoError(t, err)
	assert.True(t, fresh)
	_, fresh, err = svc.Claim(ctx, message("b"))
	require.NoError(t, err)
	assert.False(t, fresh, "lines no longer part of the key")
}

func TestBreakerRepository_OpensOnFailures(t *testing.T) {
	repo := newMemoryRepo()
	repo.err = errors.New("i/o timeout")

	cfg := circuitbreaker.DefaultConfig("redis-dedup-test")
	cfg.Timeout = time.Minute
	br := NewBreakerRepository(repo, circuitbreaker.NewWrapper(cfg))

	for i := 0; i < 5; i++ {
		_, err := br.SetNX(context.Background(), "k", 1, time.Second)
		require.Error(t, err)
	}
	_, err := br.SetNX(context.Background(), "k", 1, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, "open", br.State())

	assert.Equal(t, "disabled", NewBreakerRepository(repo, nil).State())
}
