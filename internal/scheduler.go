package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

// 系統設計問題：
//   如何以固定頻率推進每場對戰，並保證對戰結束後不會再有任何廣播？
//
// 設計方案：
//   ✅ 每場對戰一個 goroutine + time.Ticker（擁有權明確）
//   ✅ 以實際經過時間正規化物理（deltaTicks），不假設 tick 準時
//   ✅ Stop 同步等待 goroutine 退出，返回後保證沒有殘留 tick
//
// 為什麼不用單一全局 ticker 輪詢所有對戰？
//   兩者都可行；每場一個 goroutine 讓取消只影響自己的對戰，
//   單場廣播變慢也不會拖累其他對戰。

// Scheduler 遊戲循環排程器（GameLoopScheduler）
type Scheduler struct {
	engine   *game.Engine
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	loops map[string]*loop // matchID -> loop
}

// loop 單場對戰的計時任務
type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler 創建排程器
func NewScheduler(engine *game.Engine, notifier Notifier, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		loops:    make(map[string]*loop),
	}
}

// Interval 標準 tick 間隔
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start 啟動對戰循環（created → running），重複啟動是 no-op
func (s *Scheduler) Start(m *Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.loops[m.ID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[m.ID] = l

	m.start(s.now())
	go s.run(ctx, m, l.done)

	s.logger.Debug("對戰循環已啟動", "match_id", m.ID, "interval", s.interval)
}

// Stop 停止對戰循環
//
// 同步：返回時該對戰的 goroutine 已退出，之後不會再有 tick 或廣播。
// 不可在 tick goroutine 內呼叫。
func (s *Scheduler) Stop(matchID string) {
	s.mu.Lock()
	l, exists := s.loops[matchID]
	delete(s.loops, matchID)
	s.mu.Unlock()

	if !exists {
		return
	}

	l.cancel()
	<-l.done

	s.logger.Debug("對戰循環已停止", "match_id", matchID)
}

// StopAll 停止所有循環（服務器關閉）
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

// Active 正在運行的循環數
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// run 單場對戰的 tick 循環
//
// 同一場對戰的廣播都出自這個 goroutine，所以每個參與者收到的
// state-update 一定按 tick 順序（tick N 不會晚於 tick N+1 送達）。
func (s *Scheduler) run(ctx context.Context, m *Match, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx = logger.WithMatchID(ctx, m.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 取消和 ticker 同時就緒時 select 隨機選，這裡再檢查一次
			if ctx.Err() != nil {
				return
			}

			snapshot, scorer, ok := m.Tick(s.engine, s.now(), s.interval)
			if !ok {
				return
			}

			if scorer != game.NoPlayer {
				s.logger.DebugContext(ctx, "得分",
					"scorer", scorer,
					"player1", snapshot.Score.Player1,
					"player2", snapshot.Score.Player2)
			}

			s.notifier.Send(Event{Type: EventStateUpdate, Data: snapshot}, m.Player1, m.Player2)
		}
	}
}
