//go:build integration

package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightaudit/internal/logger"
	"freightaudit/internal/testinfra"
)

func TestRedisRepository_Claim(t *testing.T) {
	client := testinfra.Redis(t)
	svc := NewService(NewRepository(client), testConfig(), logger.NopLogger())
	ctx := context.Background()

	key, fresh, err := svc.Claim(ctx, message("L1"))
	require.NoError(t, err)
	assert.True(t, fresh)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 0.0)

	_, fresh, err = svc.Claim(ctx, message("L1"))
	require.NoError(t, err)
	assert.False(t, fresh)

	svc.Release(ctx, key)
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
