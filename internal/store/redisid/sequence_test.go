package redisid

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/alert-repository/internal/entity"
	"github.com/kneutral-org/alert-repository/internal/store"
)

// getTestRedisClient returns a Redis client for testing.
// Skips the test if Redis is not available.
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for testing
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background())
		_ = client.Close()
	})

	return client
}

func TestSequence_Next(t *testing.T) {
	client := getTestRedisClient(t)
	seq := NewSequence(client, WithPrefix("test:seq:"))
	ctx := context.Background()

	first, err := seq.Next(ctx, "alerts", entity.KindInt)
	require.NoError(t, err)
	second, err := seq.Next(ctx, "alerts", entity.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	other, err := seq.Next(ctx, "services", entity.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	raw, err := client.Get(ctx, "test:seq:alerts").Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), raw)
}

func TestSequence_Advance(t *testing.T) {
	client := getTestRedisClient(t)
	seq := NewSequence(client)
	ctx := context.Background()

	require.NoError(t, seq.Advance(ctx, "alerts", 41))
	next, err := seq.Next(ctx, "alerts", entity.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int64(42), next)

	// Lower floors leave the counter alone.
	require.NoError(t, seq.Advance(ctx, "alerts", 5))
	next, err = seq.Next(ctx, "alerts", entity.KindInt)
	require.NoError(t, err)
	assert.Equal(t, int64(43), next)
}

func TestSequence_NonIntegerKinds(t *testing.T) {
	// No server round trip for UUID kinds.
	seq := NewSequence(redis.NewClient(&redis.Options{Addr: "localhost:0"}))

	id, err := seq.Next(context.Background(), "services", entity.KindUUID)
	require.NoError(t, err)
	assert.IsType(t, uuid.UUID{}, id)
}

func TestSequence_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	_, err := NewSequence(client).Next(context.Background(), "alerts", entity.KindInt)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}
