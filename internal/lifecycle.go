package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/internal/history"
)

// LifecycleKind 生命週期事件類型
type LifecycleKind string

const (
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleMatchStarted LifecycleKind = "match_started"
	LifecycleMatchEnded   LifecycleKind = "match_ended"
)

// LifecycleEvent 對戰與連線的生命週期事件
type LifecycleEvent struct {
	Kind       LifecycleKind `json:"kind"`
	MatchID    string        `json:"match_id,omitempty"`
	Player1    Handle        `json:"player1,omitempty"`
	Player2    Handle        `json:"player2,omitempty"`
	Score      game.Score    `json:"score"`
	Ticks      uint64        `json:"ticks,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Concurrent int           `json:"concurrent,omitempty"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	At         time.Time     `json:"at"`
}

// 系統設計問題：
//   對戰開始/結束時要通知 NATS、累計 Redis 統計、寫入 Postgres 歷史，
//   但這些 I/O 絕不能卡住 Registry 的鎖或 tick goroutine。
//
// 設計方案：
//   ✅ Emit 只做非阻塞的 channel 寫入，緩衝滿了就丟棄並記錄
//   ✅ 單一背景 goroutine 依序派送，每個外部呼叫有自己的超時
//   ✅ 任何外部失敗只記錄日誌，對戰照常進行

// Lifecycle 生命週期事件派送器
type Lifecycle struct {
	events    chan LifecycleEvent
	publisher EventPublisher
	stats     StatsStore
	archive   history.Store
	timeout   time.Duration
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// lifecycleBuffer 事件緩衝大小
const lifecycleBuffer = 256

// NewLifecycle 創建並啟動派送器
//
// publisher、archive 可以為 nil（對應功能未啟用）。
func NewLifecycle(publisher EventPublisher, stats StatsStore, archive history.Store, logger *slog.Logger) *Lifecycle {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if stats == nil {
		stats = NewMemoryStats()
	}

	l := &Lifecycle{
		events:    make(chan LifecycleEvent, lifecycleBuffer),
		publisher: publisher,
		stats:     stats,
		archive:   archive,
		timeout:   3 * time.Second,
		logger:    logger,
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Stats 統計存儲
func (l *Lifecycle) Stats() StatsStore {
	return l.stats
}

// Archive 歷史存儲，未啟用時為 nil
func (l *Lifecycle) Archive() history.Store {
	return l.archive
}

// Emit 送出事件（非阻塞）
func (l *Lifecycle) Emit(ev LifecycleEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	select {
	case l.events <- ev:
	default:
		l.logger.Warn("生命週期事件緩衝已滿，丟棄事件", "kind", ev.Kind, "match_id", ev.MatchID)
	}
}

// Stop 停止接收事件，等待已排隊的事件派送完畢
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	l.wg.Wait()
	l.publisher.Close()
}

func (l *Lifecycle) run() {
	defer l.wg.Done()

	for ev := range l.events {
		l.dispatch(ev)
	}
}

func (l *Lifecycle) dispatch(ev LifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.logger.Warn("發佈生命週期事件失敗", "kind", ev.Kind, "error", err)
	}

	switch ev.Kind {
	case LifecycleConnected:
		if err := l.stats.RecordConnection(ctx, ev.Concurrent); err != nil {
			l.logger.Warn("記錄連線統計失敗", "error", err)
		}

	case LifecycleMatchStarted:
		if err := l.stats.IncrGames(ctx); err != nil {
			l.logger.Warn("記錄對戰統計失敗", "error", err)
		}

	case LifecycleMatchEnded:
		if l.archive == nil {
			return
		}
		record := history.Record{
			MatchID:   ev.MatchID,
			Player1:   string(ev.Player1),
			Player2:   string(ev.Player2),
			Score:     ev.Score,
			Ticks:     ev.Ticks,
			Reason:    ev.Reason,
			StartedAt: ev.StartedAt,
			EndedAt:   ev.At,
		}
		if err := l.archive.Save(ctx, record); err != nil {
			l.logger.Warn("保存對戰紀錄失敗", "match_id", ev.MatchID, "error", err)
		}
	}
}
