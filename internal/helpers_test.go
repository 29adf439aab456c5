package internal_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/internal/history"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

// recorder 記錄所有送出的事件（測試用 Notifier）
type recorder struct {
	mu     sync.Mutex
	events map[internal.Handle][]internal.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[internal.Handle][]internal.Event)}
}

func (r *recorder) Send(event internal.Event, handles ...internal.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range handles {
		r.events[h] = append(r.events[h], event)
	}
}

// of 返回某個 handle 收到的事件副本
func (r *recorder) of(h internal.Handle) []internal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]internal.Event, len(r.events[h]))
	copy(out, r.events[h])
	return out
}

// count 某個 handle 收到指定類型事件的次數
func (r *recorder) count(h internal.Handle, eventType string) int {
	n := 0
	for _, ev := range r.of(h) {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// types 某個 handle 收到的事件類型序列
func (r *recorder) types(h internal.Handle) []string {
	events := r.of(h)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// fixture 組裝好的核心元件
type fixture struct {
	engine     *game.Engine
	notifier   *recorder
	scheduler  *internal.Scheduler
	registry   *internal.Registry
	matchmaker *internal.Matchmaker
	lifecycle  *internal.Lifecycle
	stats      *internal.MemoryStats
	archive    *history.MemoryStore
}

// newFixture interval 設得很長時循環不會 tick，適合只測控制面
func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()

	log := logger.Discard()
	f := &fixture{
		engine:   game.NewEngine(game.DefaultPlayfield(), rand.NewPCG(1, 2)),
		notifier: newRecorder(),
		stats:    internal.NewMemoryStats(),
		archive:  history.NewMemoryStore(0),
	}
	f.lifecycle = internal.NewLifecycle(nil, f.stats, f.archive, log)
	f.scheduler = internal.NewScheduler(f.engine, f.notifier, interval, log)
	f.registry = internal.NewRegistry(f.engine, f.scheduler, f.notifier, f.lifecycle, log)
	f.matchmaker = internal.NewMatchmaker(f.registry, log)

	t.Cleanup(func() {
		f.registry.Shutdown()
		f.lifecycle.Stop()
	})

	return f
}

// pair 讓 a、b 依序 seek，返回新對戰
func (f *fixture) pair(t *testing.T, a, b internal.Handle) *internal.Match {
	t.Helper()

	result, _ := f.matchmaker.Seek(a)
	if result != internal.SeekWaiting {
		t.Fatalf("seek %s: got %s, want waiting", a, result)
	}
	result, m := f.matchmaker.Seek(b)
	if result != internal.SeekPaired || m == nil {
		t.Fatalf("seek %s: got %s, want paired", b, result)
	}
	return m
}

// recentHistory 停止 lifecycle 後讀取歷史紀錄（確保事件都已派送）
func (f *fixture) recentHistory(t *testing.T) []history.Record {
	t.Helper()
	f.lifecycle.Stop()
	records, err := f.archive.Recent(context.Background(), history.MaxLimit)
	if err != nil {
		t.Fatalf("recent history: %v", err)
	}
	return records
}
