package game

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Engine 物理引擎
//
// 除了 ResetBall 的發球方向之外完全確定：
// 同樣的 State + deltaTicks 一定得到同樣結果。
// 隨機來源可注入，測試時用固定種子。
//
// 多場對戰的 tick goroutine 共用同一個 Engine，
// rand.Rand 本身不是併發安全的，所以用 mu 保護。
type Engine struct {
	field Playfield
	mu    sync.Mutex
	rng   *rand.Rand
}

// NewEngine 創建物理引擎，src 為 nil 時以當前時間為種子
func NewEngine(field Playfield, src rand.Source) *Engine {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &Engine{
		field: field,
		rng:   rand.New(src),
	}
}

// Playfield 返回場地設定
func (e *Engine) Playfield() Playfield {
	return e.field
}

// NewState 創建開局狀態：球在中心、隨機方向，兩側球拍置中
func (e *Engine) NewState() State {
	f := e.field
	paddleY := f.Height/2 - f.PaddleHeight/2

	s := State{
		Ball: Ball{Radius: f.BallRadius},
		Paddles: Paddles{
			Player1: Paddle{
				X:      f.PaddleMargin,
				Y:      paddleY,
				Width:  f.PaddleWidth,
				Height: f.PaddleHeight,
			},
			Player2: Paddle{
				X:      f.Width - f.PaddleMargin - f.PaddleWidth,
				Y:      paddleY,
				Width:  f.PaddleWidth,
				Height: f.PaddleHeight,
			},
		},
	}
	e.ResetBall(&s)
	return s
}

// Advance 推進一個 tick
//
// deltaTicks 是實際經過時間 / 標準 tick 間隔，
// 排程器抖動時球速仍然不變。
//
// 步驟順序不可調換：
//  1. 限速
//  2. 積分位移
//  3. 上下牆反彈（先夾回邊界再反轉 DY，避免下一 tick 前穿牆）
//  4. 球拍反彈（依擊中位置決定角度，保留速度大小）
//  5. 得分判定 + 重新發球
//
// deltaTicks 大於 1（排程器卡頓）時拆成多個不超過 1 tick 的子步驟，
// 每步位移不超過 MaxSpeed，小於球拍寬加球直徑，球不會穿過球拍。
// 子步驟中有人得分就停止，剩餘時間捨棄。
//
// 返回本 tick 得分的玩家，沒有得分返回 NoPlayer。
func (e *Engine) Advance(s *State, deltaTicks float64) Player {
	for deltaTicks > 1 {
		if scorer := e.step(s, 1); scorer != NoPlayer {
			return scorer
		}
		deltaTicks--
	}
	return e.step(s, deltaTicks)
}

func (e *Engine) step(s *State, dt float64) Player {
	f := e.field
	b := &s.Ball

	e.clampSpeed(b)

	b.X += b.DX * dt
	b.Y += b.DY * dt

	if b.Y-b.Radius < 0 {
		b.Y = b.Radius
		b.DY = math.Abs(b.DY)
	} else if b.Y+b.Radius > f.Height {
		b.Y = f.Height - b.Radius
		b.DY = -math.Abs(b.DY)
	}

	e.bounce(b, &s.Paddles.Player1, 1)
	e.bounce(b, &s.Paddles.Player2, -1)

	// 反彈保留速度大小，對角線來球可能讓單軸超過上限
	e.clampSpeed(b)

	var scorer Player
	switch {
	case b.X-b.Radius < 0:
		scorer = Player2
	case b.X+b.Radius > f.Width:
		scorer = Player1
	}

	if scorer != NoPlayer {
		switch scorer {
		case Player1:
			s.Score.Player1++
			s.Paddles.Player1.Score++
		case Player2:
			s.Score.Player2++
			s.Paddles.Player2.Score++
		}
		e.ResetBall(s)
	}

	return scorer
}

// bounce 處理單一球拍的碰撞
//
// dir 是反彈後 DX 的符號：左側球拍 +1，右側球拍 -1。
func (e *Engine) bounce(b *Ball, p *Paddle, dir float64) {
	if b.Y < p.Y || b.Y > p.Y+p.Height {
		return
	}
	if b.X+b.Radius <= p.X || b.X-b.Radius >= p.X+p.Width {
		return
	}

	// 擊中位置相對球拍中心，正規化到 [-1, 1]
	half := p.Height / 2
	relative := (b.Y - (p.Y + half)) / half
	angle := relative * MaxBounceAngle
	speed := math.Hypot(b.DX, b.DY)

	b.DX = dir * speed * math.Cos(angle)
	b.DY = speed * math.Sin(angle)

	// 貼齊球拍表面，避免球卡在球拍內部連續反彈
	if dir > 0 {
		b.X = p.X + p.Width + b.Radius
	} else {
		b.X = p.X - b.Radius
	}
}

func (e *Engine) clampSpeed(b *Ball) {
	limit := e.field.MaxSpeed
	b.DX = math.Max(math.Min(b.DX, limit), -limit)
	b.DY = math.Max(math.Min(b.DY, limit), -limit)
}

// ResetBall 把球放回場地中心，兩軸方向各自隨機
func (e *Engine) ResetBall(s *State) {
	f := e.field
	s.Ball.X = f.Width / 2
	s.Ball.Y = f.Height / 2
	s.Ball.DX = e.sign() * f.BallSpeed
	s.Ball.DY = e.sign() * f.BallSpeed
}

func (e *Engine) sign() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rng.IntN(2) == 0 {
		return -1
	}
	return 1
}

// MovePaddle 立即套用玩家輸入（不等下一個 tick）
//
// 結果夾在 [0, Height - PaddleHeight]。
// 非法玩家或方向直接忽略，返回 false。
func (e *Engine) MovePaddle(s *State, player Player, dir Direction) bool {
	p := s.Paddle(player)
	if p == nil || !dir.Valid() {
		return false
	}

	step := e.field.PaddleStep
	if dir == Up {
		step = -step
	}
	p.Y = math.Max(0, math.Min(p.Y+step, e.field.Height-p.Height))
	return true
}
