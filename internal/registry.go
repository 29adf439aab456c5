package internal

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/internal/history"
	apperrors "github.com/koopa0/system-design/pong/pkg/errors"
)

// Registry 對戰註冊表（MatchRegistry）
//
// 持有全部進程級可變狀態：等待位與活躍對戰表。
//
// 不變量：
//   - 一個 handle 同時最多出現在 {等待位, 某一場對戰} 其中之一
//   - 對戰在表中 ⇔ 它的循環正在運行且雙方都在線
//   - 拆除（移除 + 停止循環）在 mu 內完成，對手看不到中間狀態
type Registry struct {
	mu       sync.RWMutex
	waiting  Handle            // 等待位，空字串表示沒人在等
	matches  map[string]*Match // matchID -> Match
	byHandle map[Handle]*Match // handle -> 所在對戰

	engine    *game.Engine
	scheduler *Scheduler
	notifier  Notifier
	lifecycle *Lifecycle
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry 創建註冊表
func NewRegistry(engine *game.Engine, scheduler *Scheduler, notifier Notifier, lifecycle *Lifecycle, logger *slog.Logger) *Registry {
	return &Registry{
		matches:   make(map[string]*Match),
		byHandle:  make(map[Handle]*Match),
		engine:    engine,
		scheduler: scheduler,
		notifier:  notifier,
		lifecycle: lifecycle,
		logger:    logger,
		now:       time.Now,
	}
}

// Disconnect 處理斷線（onDisconnect）
//
// 冪等：同一個 handle 重複呼叫，或從未配對過的 handle，都是 no-op。
func (r *Registry) Disconnect(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting == h {
		r.waiting = ""
		r.logger.Debug("等待中的玩家離線", "handle", h)
	}

	m, exists := r.byHandle[h]
	if !exists {
		return
	}

	r.teardownLocked(m, history.ReasonDisconnect)

	// 循環已停止，之後對手不會再收到這場的 state-update
	r.notifier.Send(Event{Type: EventOpponentLeft}, m.Opponent(h))
}

// MovePaddle 套用球拍移動
//
// handle 不是 matchID 的參與者時不做任何改變，返回 ErrNotParticipant。
func (r *Registry) MovePaddle(h Handle, matchID string, dir game.Direction) error {
	if !dir.Valid() {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "invalid direction").WithDetails(string(dir))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.byHandle[h]
	if !exists || m.ID != matchID {
		return apperrors.ErrNotParticipant.WithDetails(matchID)
	}
	if !m.MovePaddle(r.engine, h, dir) {
		return apperrors.ErrMatchNotFound.WithDetails(matchID)
	}
	return nil
}

// MatchOf 返回 handle 所在的對戰，不在對戰中返回 nil
func (r *Registry) MatchOf(h Handle) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byHandle[h]
}

// Get 依 ID 查詢對戰
func (r *Registry) Get(matchID string) (*Match, error) {
	r.mu.RLock()
	m, exists := r.matches[matchID]
	r.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrMatchNotFound.WithDetails(matchID)
	}
	return m, nil
}

// Waiting 返回等待位上的 handle
func (r *Registry) Waiting() Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Len 活躍對戰數
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// List 活躍對戰，按開始時間排序
func (r *Registry) List() []*Match {
	r.mu.RLock()
	list := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		list = append(list, m)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// Shutdown 拆除所有對戰（服務器關閉），不發送 opponent-left
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.waiting = ""
	for _, m := range r.matches {
		r.teardownLocked(m, history.ReasonShutdown)
	}

	r.logger.Info("所有對戰已結束")
}

// registerLocked 登記新對戰，呼叫者必須持有 mu
func (r *Registry) registerLocked(m *Match) {
	r.matches[m.ID] = m
	r.byHandle[m.Player1] = m
	r.byHandle[m.Player2] = m
}

// teardownLocked 移除對戰並同步停止循環，呼叫者必須持有 mu
func (r *Registry) teardownLocked(m *Match, reason string) {
	delete(r.matches, m.ID)
	delete(r.byHandle, m.Player1)
	delete(r.byHandle, m.Player2)

	if !m.end() {
		return
	}
	r.scheduler.Stop(m.ID)

	snapshot := m.Snapshot()
	r.logger.Info("對戰結束",
		"match_id", m.ID,
		"reason", reason,
		"player1_score", snapshot.Score.Player1,
		"player2_score", snapshot.Score.Player2)

	if r.lifecycle != nil {
		r.lifecycle.Emit(LifecycleEvent{
			Kind:      LifecycleMatchEnded,
			MatchID:   m.ID,
			Player1:   m.Player1,
			Player2:   m.Player2,
			Score:     snapshot.Score,
			Ticks:     m.Ticks(),
			Reason:    reason,
			StartedAt: m.StartedAt,
			At:        r.now(),
		})
	}
}
