package internal

import (
	"log/slog"

	"github.com/koopa0/system-design/pong/internal/game"
	apperrors "github.com/koopa0/system-design/pong/pkg/errors"
)

// SeekResult seek 的結果
type SeekResult int

const (
	// SeekWaiting 進入（或仍在）等待位
	SeekWaiting SeekResult = iota
	// SeekPaired 與等待中的玩家配對成功
	SeekPaired
	// SeekRejected handle 已在對戰中，請求被忽略
	SeekRejected
)

func (r SeekResult) String() string {
	switch r {
	case SeekWaiting:
		return "waiting"
	case SeekPaired:
		return "paired"
	case SeekRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// 系統設計問題：
//   兩個 seek 幾乎同時到達時，如何保證不會雙雙看到空的等待位而都去排隊？
//
// 設計方案：
//   ✅ 檢查等待位與決定（排隊 / 配對）在同一次 Registry.mu 持有期間完成
//   ✅ 配對時先送 match-found，再啟動循環，玩家一定先知道自己的編號
//   ✅ 先來的永遠是 player 1

// Matchmaker 配對器
type Matchmaker struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMatchmaker 創建配對器
func NewMatchmaker(registry *Registry, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		registry: registry,
		logger:   logger,
	}
}

// Seek 尋找對手
//
// 等待位為空或就是自己：佔住等待位並回覆 waiting（重複 seek 是 no-op）。
// 等待位是別人：清空等待位，建立對戰（對方 player 1，自己 player 2），
// 通知雙方後啟動循環。返回值在配對成功時帶上新對戰。
func (mm *Matchmaker) Seek(h Handle) (SeekResult, *Match) {
	r := mm.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, inMatch := r.byHandle[h]; inMatch {
		mm.logger.Debug("忽略 seek", "handle", h, "error", apperrors.ErrAlreadyInMatch)
		return SeekRejected, nil
	}

	peer := r.waiting
	if peer == "" || peer == h {
		r.waiting = h
		r.notifier.Send(Event{Type: EventWaiting}, h)
		mm.logger.Debug("等待對手", "handle", h)
		return SeekWaiting, nil
	}

	r.waiting = ""

	m := NewMatch(peer, h, r.engine.NewState(), r.now())
	r.registerLocked(m)

	r.notifier.Send(Event{Type: EventMatchFound, Data: MatchFound{MatchID: m.ID, PlayerNumber: game.Player1}}, peer)
	r.notifier.Send(Event{Type: EventMatchFound, Data: MatchFound{MatchID: m.ID, PlayerNumber: game.Player2}}, h)

	r.scheduler.Start(m)

	mm.logger.Info("配對成功",
		"match_id", m.ID,
		"player1", peer,
		"player2", h)

	if r.lifecycle != nil {
		r.lifecycle.Emit(LifecycleEvent{
			Kind:      LifecycleMatchStarted,
			MatchID:   m.ID,
			Player1:   m.Player1,
			Player2:   m.Player2,
			StartedAt: m.StartedAt,
			At:        m.StartedAt,
		})
	}

	return SeekPaired, m
}

// Cancel 取消等待
//
// 只有等待位正好是自己時才清空，否則 no-op，永不報錯。
func (mm *Matchmaker) Cancel(h Handle) bool {
	r := mm.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting != h || h == "" {
		return false
	}
	r.waiting = ""

	mm.logger.Debug("取消等待", "handle", h)
	return true
}
