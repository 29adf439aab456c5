// Package game 實現 Pong 的權威物理模擬
//
// 本套件不做任何 I/O，也不持有共享狀態：
// 呼叫端把一場對戰的 State 傳進來，Engine 推進一個 tick 後原地修改。
// 併發控制由呼叫端（Match 的互斥鎖）負責。
package game

import "math"

// 場地常數（前後端必須一致，否則物理無意義）
const (
	CanvasWidth  = 800.0
	CanvasHeight = 600.0
	PaddleWidth  = 10.0
	PaddleHeight = 100.0
	PaddleMargin = 50.0 // 球拍距離左右邊界
	BallRadius   = 10.0
	PaddleStep   = 15.0 // 每次輸入的球拍位移
	BallSpeed    = 7.0  // 發球速度（units/tick）
	MaxSpeed     = 10.0 // 單軸速度上限（units/tick）

	// MaxBounceAngle 球拍反彈最大偏轉角（60°）
	MaxBounceAngle = math.Pi / 3
)

// Player 玩家編號
type Player int

const (
	NoPlayer Player = 0
	Player1  Player = 1 // 左側，先進入等待的一方
	Player2  Player = 2 // 右側，後發起配對的一方
)

// Direction 球拍移動方向
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Valid 檢查方向是否合法
func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Playfield 場地幾何
//
// 預設值即上方常數；保留成結構是為了讓設定檔能調整並由 Config.Validate 驗證。
type Playfield struct {
	Width        float64 `json:"width" yaml:"width"`
	Height       float64 `json:"height" yaml:"height"`
	PaddleWidth  float64 `json:"paddle_width" yaml:"paddle_width"`
	PaddleHeight float64 `json:"paddle_height" yaml:"paddle_height"`
	PaddleMargin float64 `json:"paddle_margin" yaml:"paddle_margin"`
	BallRadius   float64 `json:"ball_radius" yaml:"ball_radius"`
	PaddleStep   float64 `json:"paddle_step" yaml:"paddle_step"`
	BallSpeed    float64 `json:"ball_speed" yaml:"ball_speed"`
	MaxSpeed     float64 `json:"max_speed" yaml:"max_speed"`
}

// DefaultPlayfield 返回標準 800x600 場地
func DefaultPlayfield() Playfield {
	return Playfield{
		Width:        CanvasWidth,
		Height:       CanvasHeight,
		PaddleWidth:  PaddleWidth,
		PaddleHeight: PaddleHeight,
		PaddleMargin: PaddleMargin,
		BallRadius:   BallRadius,
		PaddleStep:   PaddleStep,
		BallSpeed:    BallSpeed,
		MaxSpeed:     MaxSpeed,
	}
}

// Ball 球
type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Radius float64 `json:"radius"`
}

// Paddle 球拍
type Paddle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Score  int     `json:"score"`
}

// Paddles 兩側球拍
type Paddles struct {
	Player1 Paddle `json:"player1"`
	Player2 Paddle `json:"player2"`
}

// Score 比分
type Score struct {
	Player1 int `json:"player1"`
	Player2 int `json:"player2"`
}

// Total 總得分
func (s Score) Total() int {
	return s.Player1 + s.Player2
}

// State 一場對戰的權威模擬狀態（SimState）
//
// 不變式：
//   - 球拍 Y ∈ [0, Height - PaddleHeight]
//   - 每次 Advance 之後 |DX|、|DY| ≤ MaxSpeed
//   - 球心只會在觸發得分的那個 tick 短暫越界，隨即 ResetBall
type State struct {
	Ball    Ball    `json:"ball"`
	Paddles Paddles `json:"paddles"`
	Score   Score   `json:"score"`
}

// Paddle 返回指定玩家球拍的指標
func (s *State) Paddle(p Player) *Paddle {
	switch p {
	case Player1:
		return &s.Paddles.Player1
	case Player2:
		return &s.Paddles.Player2
	default:
		return nil
	}
}
