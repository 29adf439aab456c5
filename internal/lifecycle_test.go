package internal_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/internal/history"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

// fakePublisher 記錄發佈的事件
type fakePublisher struct {
	mu     sync.Mutex
	events []internal.LifecycleEvent
	err    error
	closed bool
}

func (p *fakePublisher) Publish(ctx context.Context, ev internal.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePublisher) kinds() []internal.LifecycleKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]internal.LifecycleKind, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

// failingArchive 寫入一律失敗
type failingArchive struct{}

func (failingArchive) Save(context.Context, history.Record) error {
	return errors.New("disk full")
}

func (failingArchive) Recent(context.Context, int) ([]history.Record, error) {
	return nil, errors.New("disk full")
}

func TestLifecycle_Dispatch(t *testing.T) {
	publisher := &fakePublisher{}
	stats := internal.NewMemoryStats()
	archive := history.NewMemoryStore(0)
	lc := internal.NewLifecycle(publisher, stats, archive, logger.Discard())

	started := time.Unix(1000, 0)
	ended := started.Add(time.Minute)

	lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleConnected, Player1: "a", Concurrent: 1})
	lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleConnected, Player1: "b", Concurrent: 2})
	lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleMatchStarted, MatchID: "a:b", Player1: "a", Player2: "b"})
	lc.Emit(internal.LifecycleEvent{
		Kind:      internal.LifecycleMatchEnded,
		MatchID:   "a:b",
		Player1:   "a",
		Player2:   "b",
		Score:     game.Score{Player1: 3, Player2: 1},
		Ticks:     1800,
		Reason:    history.ReasonDisconnect,
		StartedAt: started,
		At:        ended,
	})
	lc.Stop()

	assert.Equal(t, []internal.LifecycleKind{
		internal.LifecycleConnected,
		internal.LifecycleConnected,
		internal.LifecycleMatchStarted,
		internal.LifecycleMatchEnded,
	}, publisher.kinds())
	assert.True(t, publisher.closed)

	counters, err := stats.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, internal.Counters{TotalGames: 1, TotalConnections: 2, PeakConcurrent: 2}, counters)

	records, err := archive.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, history.Record{
		MatchID:   "a:b",
		Player1:   "a",
		Player2:   "b",
		Score:     game.Score{Player1: 3, Player2: 1},
		Ticks:     1800,
		Reason:    history.ReasonDisconnect,
		StartedAt: started,
		EndedAt:   ended,
	}, records[0])
	assert.Equal(t, time.Minute, records[0].Duration())
}

func TestLifecycle_FailuresAreContained(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("nats down")}
	stats := internal.NewMemoryStats()
	lc := internal.NewLifecycle(publisher, stats, failingArchive{}, logger.Discard())

	lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleMatchStarted, MatchID: "a:b"})
	lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleMatchEnded, MatchID: "a:b"})
	lc.Stop()

	// 發佈失敗不影響統計
	counters, err := stats.Counters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.TotalGames)
	assert.Len(t, publisher.kinds(), 2)
}

func TestLifecycle_EmitAfterStop(t *testing.T) {
	publisher := &fakePublisher{}
	lc := internal.NewLifecycle(publisher, nil, nil, logger.Discard())

	lc.Stop()
	lc.Stop()

	assert.NotPanics(t, func() {
		lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleConnected})
	})
	assert.Empty(t, publisher.kinds())
	assert.Nil(t, lc.Archive())
	assert.NotNil(t, lc.Stats())
}

func TestLifecycle_ConcurrentEmitAndStop(t *testing.T) {
	lc := internal.NewLifecycle(nil, nil, nil, logger.Discard())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				lc.Emit(internal.LifecycleEvent{Kind: internal.LifecycleConnected, Concurrent: 1})
			}
		}()
	}

	lc.Stop()
	wg.Wait()
}
