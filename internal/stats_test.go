package internal_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/testutils"
)

// statsContract 兩種實作共用的行為
func statsContract(t *testing.T, store internal.StatsStore) {
	t.Helper()
	ctx := context.Background()

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, internal.Counters{}, counters)

	require.NoError(t, store.IncrGames(ctx))
	require.NoError(t, store.IncrGames(ctx))
	require.NoError(t, store.RecordConnection(ctx, 1))
	require.NoError(t, store.RecordConnection(ctx, 5))
	require.NoError(t, store.RecordConnection(ctx, 3))

	counters, err = store.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counters.TotalGames)
	assert.Equal(t, int64(3), counters.TotalConnections)
	assert.Equal(t, int64(5), counters.PeakConcurrent, "峰值不會因為之後較小的值下降")
}

func TestMemoryStats(t *testing.T) {
	statsContract(t, internal.NewMemoryStats())
}

func TestMemoryStats_ConcurrentPeak(t *testing.T) {
	store := internal.NewMemoryStats()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = store.RecordConnection(ctx, n)
		}(i)
	}
	wg.Wait()

	counters, err := store.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), counters.TotalConnections)
	assert.Equal(t, int64(100), counters.PeakConcurrent)
}

func TestRedisStats(t *testing.T) {
	testutils.SkipIfShort(t)

	client := testutils.SetupRedis(t)
	statsContract(t, internal.NewRedisStats(client, "pong:test:stats"))

	// 累計值存在 Redis，換一個實例仍然讀得到
	counters, err := internal.NewRedisStats(client, "pong:test:stats").Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), counters.TotalGames)
}
