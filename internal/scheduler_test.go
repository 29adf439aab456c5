package internal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
)

// TestScheduler_BroadcastsToBothParticipants 每個 tick 推送給雙方
func TestScheduler_BroadcastsToBothParticipants(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	m := f.pair(t, "a", "b")

	require.Eventually(t, func() bool {
		return f.notifier.count("a", internal.EventStateUpdate) >= 5 &&
			f.notifier.count("b", internal.EventStateUpdate) >= 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, m.Ticks(), uint64(5))

	// match-found 一定先於第一個 state-update
	for _, h := range []internal.Handle{"a", "b"} {
		types := f.notifier.types(h)
		first := -1
		for i, typ := range types {
			if typ == internal.EventStateUpdate {
				first = i
				break
			}
		}
		require.Positive(t, first)
		assert.Equal(t, internal.EventMatchFound, types[first-1])
	}

	// state-update 帶的是完整快照
	events := f.notifier.of("a")
	last := events[len(events)-1]
	state, ok := last.Data.(game.State)
	require.True(t, ok)
	assert.Equal(t, game.BallRadius, state.Ball.Radius)
}

// TestScheduler_NoBroadcastAfterTeardown 拆除後不再有任何 tick
func TestScheduler_NoBroadcastAfterTeardown(t *testing.T) {
	f := newFixture(t, 2*time.Millisecond)
	m := f.pair(t, "a", "b")

	require.Eventually(t, func() bool {
		return f.notifier.count("a", internal.EventStateUpdate) >= 3
	}, 2*time.Second, 2*time.Millisecond)

	f.registry.Disconnect("b")

	ticks := m.Ticks()
	countA := f.notifier.count("a", internal.EventStateUpdate)
	countB := f.notifier.count("b", internal.EventStateUpdate)

	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, ticks, m.Ticks())
	assert.Equal(t, countA, f.notifier.count("a", internal.EventStateUpdate))
	assert.Equal(t, countB, f.notifier.count("b", internal.EventStateUpdate))

	// opponent-left 是 a 收到的最後一則
	types := f.notifier.types("a")
	assert.Equal(t, internal.EventOpponentLeft, types[len(types)-1])
}

// TestScheduler_StartIsIdempotent 重複啟動不會多開循環
func TestScheduler_StartIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Hour)
	m := f.pair(t, "a", "b")

	f.scheduler.Start(m)
	f.scheduler.Start(m)

	assert.Equal(t, 1, f.scheduler.Active())
}

// TestScheduler_StopUnknown 停止不存在的循環是 no-op
func TestScheduler_StopUnknown(t *testing.T) {
	f := newFixture(t, time.Hour)

	assert.NotPanics(t, func() {
		f.scheduler.Stop("nope")
	})
	assert.Equal(t, 0, f.scheduler.Active())
}

// TestScheduler_StopAll 停止所有循環
func TestScheduler_StopAll(t *testing.T) {
	f := newFixture(t, 5*time.Millisecond)
	f.pair(t, "a", "b")
	f.pair(t, "c", "d")
	require.Equal(t, 2, f.scheduler.Active())

	f.scheduler.StopAll()

	assert.Equal(t, 0, f.scheduler.Active())
}

// TestScheduler_IndependentMatches 一場對戰結束不影響另一場
func TestScheduler_IndependentMatches(t *testing.T) {
	f := newFixture(t, 2*time.Millisecond)
	f.pair(t, "a", "b")
	other := f.pair(t, "c", "d")

	f.registry.Disconnect("a")
	ticks := other.Ticks()

	require.Eventually(t, func() bool {
		return other.Ticks() > ticks+3
	}, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, internal.MatchRunning, other.Status())
	assert.Equal(t, 0, f.notifier.count("c", internal.EventOpponentLeft))
}
