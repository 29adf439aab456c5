package internal

import (
	"sync"
	"time"

	"github.com/koopa0/system-design/pong/internal/game"
)

// MatchStatus 對戰狀態
//
// 有限狀態機：
//
//	created → running → ended
//
// 沒有暫停；running → ended 只會由斷線（或服務器關閉）觸發。
// 比分只記錄，不設勝利門檻。
type MatchStatus string

const (
	MatchCreated MatchStatus = "created"
	MatchRunning MatchStatus = "running"
	MatchEnded   MatchStatus = "ended"
)

// Match 一場雙人對戰
//
// 併發控制：
//   - mu 在一個 tick 或一個控制操作（移動球拍、結束）期間持有
//   - 鎖順序固定為 Registry.mu → Match.mu，tick goroutine 從不取 Registry.mu
//   - Player1/Player2/ID/StartedAt 創建後不變，讀取不需要鎖
type Match struct {
	ID        string    `json:"match_id"`
	Player1   Handle    `json:"player1"`
	Player2   Handle    `json:"player2"`
	StartedAt time.Time `json:"started_at"`

	mu       sync.Mutex
	state    game.State
	status   MatchStatus
	lastTick time.Time
	ticks    uint64
}

// MatchID 由兩個 handle 決定性地組成
//
// handle 每條連線唯一，所以不會碰撞。
func MatchID(player1, player2 Handle) string {
	return string(player1) + ":" + string(player2)
}

// NewMatch 創建對戰（狀態為 created）
func NewMatch(player1, player2 Handle, state game.State, now time.Time) *Match {
	return &Match{
		ID:        MatchID(player1, player2),
		Player1:   player1,
		Player2:   player2,
		StartedAt: now,
		state:     state,
		status:    MatchCreated,
		lastTick:  now,
	}
}

// PlayerOf 返回 handle 在對戰中的玩家編號，不是參與者返回 NoPlayer
func (m *Match) PlayerOf(h Handle) game.Player {
	switch h {
	case m.Player1:
		return game.Player1
	case m.Player2:
		return game.Player2
	default:
		return game.NoPlayer
	}
}

// Opponent 返回對手 handle
func (m *Match) Opponent(h Handle) Handle {
	switch h {
	case m.Player1:
		return m.Player2
	case m.Player2:
		return m.Player1
	default:
		return ""
	}
}

// start created → running
func (m *Match) start(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == MatchCreated {
		m.status = MatchRunning
		m.lastTick = now
	}
}

// end 任何狀態 → ended，返回是否由本次呼叫結束
func (m *Match) end() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == MatchEnded {
		return false
	}
	m.status = MatchEnded
	return true
}

// Tick 推進一個 tick，返回推進後的快照
//
// deltaTicks = (now - lastTick) / interval，排程器抖動不影響球速。
// 對戰不在 running 狀態時不做任何事，ok 為 false。
func (m *Match) Tick(engine *game.Engine, now time.Time, interval time.Duration) (snapshot game.State, scorer game.Player, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != MatchRunning {
		return game.State{}, game.NoPlayer, false
	}

	delta := float64(now.Sub(m.lastTick)) / float64(interval)
	if delta < 0 {
		delta = 0
	}
	m.lastTick = now
	m.ticks++

	scorer = engine.Advance(&m.state, delta)
	return m.state, scorer, true
}

// MovePaddle 立即套用球拍輸入
func (m *Match) MovePaddle(engine *game.Engine, h Handle, dir game.Direction) bool {
	player := m.PlayerOf(h)
	if player == game.NoPlayer {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != MatchRunning {
		return false
	}
	return engine.MovePaddle(&m.state, player, dir)
}

// Snapshot 返回當前狀態副本
func (m *Match) Snapshot() game.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status 返回對戰狀態
func (m *Match) Status() MatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Ticks 返回已執行的 tick 數
func (m *Match) Ticks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// Summary 對戰摘要（HTTP API 使用）
func (m *Match) Summary(now time.Time) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	return map[string]any{
		"match_id":    m.ID,
		"player1":     m.Player1,
		"player2":     m.Player2,
		"status":      m.status,
		"score":       m.state.Score,
		"ticks":       m.ticks,
		"started_at":  m.StartedAt,
		"age_seconds": int64(now.Sub(m.StartedAt).Seconds()),
	}
}
