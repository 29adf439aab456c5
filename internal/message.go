package internal

import (
	"encoding/json"

	"github.com/koopa0/system-design/pong/internal/game"
)

// Handle 連線識別（ConnectionHandle）
//
// 連線建立時產生，斷線後作廢，永不重用。
type Handle string

// 客戶端 → 服務器
const (
	MsgSeek       = "seek"
	MsgCancel     = "cancel"
	MsgPaddleMove = "paddle-move"
	MsgPing       = "ping"

	// 舊版前端使用的名稱
	msgFindMatch   = "findMatch"
	msgCancelMatch = "cancelMatch"
	msgPaddleMove  = "paddleMove"
)

// 服務器 → 客戶端
const (
	EventWaiting      = "waiting"
	EventMatchFound   = "match-found"
	EventStateUpdate  = "state-update"
	EventOpponentLeft = "opponent-left"
	EventPong         = "pong"
)

// Message 訊息信封，雙向共用
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event 服務器推送的事件
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MatchFound match-found 事件內容
type MatchFound struct {
	MatchID      string      `json:"matchId"`
	PlayerNumber game.Player `json:"playerNumber"`
}

// PaddleMove paddle-move 訊息內容
//
// 舊版前端送的是 gameId。
type PaddleMove struct {
	MatchID   string         `json:"matchId"`
	GameID    string         `json:"gameId,omitempty"`
	Direction game.Direction `json:"direction"`
}

// Target 返回目標對戰 ID
func (p PaddleMove) Target() string {
	if p.MatchID != "" {
		return p.MatchID
	}
	return p.GameID
}

// Notifier 向連線推送事件
//
// 實作必須是非阻塞的：模擬路徑不能被網絡 I/O 卡住。
// 同一個 goroutine 依序呼叫時，同一連線收到的順序必須保持。
type Notifier interface {
	Send(event Event, handles ...Handle)
}
