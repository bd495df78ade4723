package deduplication_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simwatch/internal/config"
	"simwatch/internal/deduplication"
	"simwatch/internal/logger"
	"simwatch/internal/testinfra"
)

func TestRedisRepository_ExistsAndSetNX(t *testing.T) {
	client := testinfra.Redis(t)
	repo := deduplication.NewRepository(client)
	ctx := context.Background()

	found, err := repo.Exists(ctx, "simwatch:test")
	require.NoError(t, err)
	assert.False(t, found)

	stored, err := repo.SetNX(ctx, "simwatch:test", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = repo.SetNX(ctx, "simwatch:test", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	found, err = repo.Exists(ctx, "simwatch:test")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestService_WithRedis(t *testing.T) {
	client := testinfra.Redis(t)
	svc := deduplication.NewService(deduplication.NewRepository(client), config.DeduplicationConfig{
		Enabled:      true,
		TTLSeconds:   60,
		OnRedisError: "allow",
	}, "monitoring", logger.NopLogger())
	ctx := context.Background()

	seen, err := svc.Seen(ctx, "3f2c1c9e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, svc.Remember(ctx, "3f2c1c9e-0000-4000-8000-000000000001"))

	seen, err = svc.Seen(ctx, "3f2c1c9e-0000-4000-8000-000000000001")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, "simwatch:dedup:3f2c1c9e-0000-4000-8000-000000000001").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
