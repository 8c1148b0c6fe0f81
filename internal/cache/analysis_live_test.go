package cache

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgrady/market-risk-service/internal/models"
)

// Requires a running Redis; skipped unless REDIS_TEST_ADDR is set, e.g.
// REDIS_TEST_ADDR=localhost:6379 go test ./internal/cache/...
func liveRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping live Redis test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func sampleResult(key string) *models.AnalysisResult {
	return &models.AnalysisResult{
		Key:        key,
		ComputedAt: time.Now().UTC().Truncate(time.Second),
		PerSymbol: map[string]models.SymbolMetrics{
			"AAPL": {
				Volatility:  0.27,
				SharpeRatio: models.Metric(math.NaN()),
				SampleSize:  3,
			},
		},
	}
}

func TestAnalysisStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	client := liveRedis(t)
	store := NewAnalysisStore(client, time.Hour)
	ctx := context.Background()

	t.Run("miss returns nil", func(t *testing.T) {
		got, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("put then get preserves undefined metrics", func(t *testing.T) {
		result := sampleResult("fp1")
		require.NoError(t, store.Put(ctx, result, []string{"AAPL"}))

		got, err := store.Get(ctx, "fp1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, result.ComputedAt.Unix(), got.ComputedAt.Unix())
		m := got.PerSymbol["AAPL"]
		assert.False(t, m.SharpeRatio.Defined(), "NaN must survive the round trip as undefined")
		assert.InDelta(t, 0.27, float64(m.Volatility), 1e-9)
	})

	t.Run("put supersedes, never appends", func(t *testing.T) {
		first := sampleResult("fp2")
		require.NoError(t, store.Put(ctx, first, []string{"AAPL"}))

		second := sampleResult("fp2")
		second.PerSymbol["AAPL"] = models.SymbolMetrics{Volatility: 0.5, SampleSize: 9}
		require.NoError(t, store.Put(ctx, second, []string{"AAPL"}))

		got, err := store.Get(ctx, "fp2")
		require.NoError(t, err)
		assert.Equal(t, 9, got.PerSymbol["AAPL"].SampleSize)
	})

	t.Run("invalidate by symbol", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, sampleResult("fp3"), []string{"AAPL", "GOOGL"}))
		require.NoError(t, store.Put(ctx, sampleResult("fp4"), []string{"MSFT"}))

		removed, err := store.InvalidateSymbol(ctx, "AAPL")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, 1)

		got, err := store.Get(ctx, "fp3")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = store.Get(ctx, "fp4")
		require.NoError(t, err)
		assert.NotNil(t, got, "unrelated symbol entries survive")
	})

	t.Run("invalidate all", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, sampleResult("fp5"), []string{"AAPL"}))
		removed, err := store.InvalidateAll(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, removed, 1)

		got, err := store.Get(ctx, "fp5")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
