package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/guido-cesarano/rungate/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationRedis connects to the local Redis instance.
// Requires docker-compose up -d (or go run ./cmd/redis_server) to be running.
func setupIntegrationRedis(t *testing.T) *store.RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("Skipping integration test: Redis not reachable at localhost:6379 (%v)", err)
	}

	st := store.NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestIntegrationFlow(t *testing.T) {
	st := setupIntegrationRedis(t)
	ctx := context.Background()

	// Only this test's keys are removed; other gate state on the server is left alone.
	id := "integration-" + uuid.NewString()
	prefix := gate.KeyPrefix + "." + id
	t.Cleanup(func() { store.DeletePrefix(context.Background(), st, prefix) })

	// Two engines on one identity stand in for two processes sharing the server.
	opts := []gate.Option{gate.WithPeriod(gate.OnceADay), gate.WithMaxRetryInterval(time.Hour)}
	first, err := gate.NewEngine(id, st, opts...)
	require.NoError(t, err)
	second, err := gate.NewEngine(id, st, opts...)
	require.NoError(t, err)

	// 1. Failed run starts the retry backoff
	ran, err := first.RunIfNeeded(ctx, func(context.Context) bool { return false })
	require.NoError(t, err)
	require.True(t, ran)

	failed, err := second.DidLastExecutionFail(ctx)
	require.NoError(t, err)
	assert.True(t, failed, "failure should be visible to the second engine")

	ok, err := second.ShouldRun(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "retry backoff should block the second engine")

	// 2. Forced success clears the backoff and starts the period
	done := make(chan struct{})
	ran, err = second.RunIfNeededAsync(ctx, true, func(_ context.Context, complete gate.Completion) {
		go func() {
			complete(true)
			close(done)
		}()
	})
	require.NoError(t, err)
	require.True(t, ran)
	<-done

	failed, err = first.DidLastExecutionFail(ctx)
	require.NoError(t, err)
	assert.False(t, failed, "success should clear the failure")

	wait, err := first.TimeBeforeNextExecution(ctx)
	require.NoError(t, err)
	assert.Greater(t, wait, 23*time.Hour)
	assert.LessOrEqual(t, wait, gate.Day)

	// 3. Remove this identity's keys, success and retry alike
	removed, err := store.DeletePrefix(ctx, st, prefix)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := st.Keys(ctx, prefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
