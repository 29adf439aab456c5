// pongbot 無頭客戶端：連上服務器、配對，並讓球拍追著球跑
//
// 用來手動測試或壓測，例如開兩個 bot 讓它們互打：
//
//	go run ./cmd/pongbot -addr localhost:3000
//	go run ./cmd/pongbot -addr localhost:3000 -quiet
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
)

var (
	info  = color.New(color.FgCyan).SprintFunc()
	good  = color.New(color.FgGreen, color.Bold).SprintFunc()
	warn  = color.New(color.FgYellow).SprintFunc()
	fatal = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	var (
		addr     = flag.String("addr", "localhost:3000", "服務器地址")
		deadZone = flag.Float64("dead-zone", 20, "球與球拍中心距離小於此值時不移動")
		quiet    = flag.Bool("quiet", false, "不輸出 state-update")
		rematch  = flag.Bool("rematch", true, "對手離開後重新配對")
	)
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, fatal("連線失敗:"), err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println(info("已連線"), u.String())

	b := &bot{conn: conn, deadZone: *deadZone, quiet: *quiet, rematch: *rematch}

	done, err := b.start()
	if err != nil {
		fmt.Fprintln(os.Stderr, fatal("送出 seek 失敗:"), err)
		os.Exit(1)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

// bot 狀態只在 readLoop 裡讀寫，不需要鎖
//
// 連線寫入：readLoop 啟動後只有它呼叫 send；
// main 收到中斷時用 WriteControl，gorilla 允許它與其他寫入並發。
type bot struct {
	conn     *websocket.Conn
	deadZone float64
	quiet    bool
	rematch  bool

	matchID string
	player  game.Player
	ticks   int
}

// start 送出第一個 seek 後才啟動 readLoop，之後所有寫入都在 readLoop 裡
//
// readLoop 結束時關閉返回的 channel。
func (b *bot) start() (<-chan struct{}, error) {
	if err := b.send(internal.MsgSeek, nil); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.readLoop()
	}()
	return done, nil
}

func (b *bot) send(msgType string, data any) error {
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	return b.conn.WriteJSON(msg)
}

func (b *bot) readLoop() {
	for {
		var msg internal.Message
		if err := b.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Println(warn("連線結束:"), err)
			}
			return
		}

		if err := b.handle(msg); err != nil {
			fmt.Println(warn("處理訊息失敗:"), err)
		}
	}
}

func (b *bot) handle(msg internal.Message) error {
	switch msg.Type {
	case internal.EventWaiting:
		fmt.Println(info("等待對手..."))

	case internal.EventMatchFound:
		var found internal.MatchFound
		if err := json.Unmarshal(msg.Data, &found); err != nil {
			return err
		}
		b.matchID = found.MatchID
		b.player = found.PlayerNumber
		b.ticks = 0
		fmt.Println(good("配對成功"), "match:", found.MatchID, "player:", found.PlayerNumber)

	case internal.EventStateUpdate:
		var state game.State
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			return err
		}
		b.ticks++
		if !b.quiet && b.ticks%30 == 0 {
			fmt.Printf("%s %d : %d  ball=(%.0f, %.0f)\n",
				info("比分"), state.Score.Player1, state.Score.Player2, state.Ball.X, state.Ball.Y)
		}
		return b.track(state)

	case internal.EventOpponentLeft:
		fmt.Println(warn("對手已離開"), "match:", b.matchID)
		b.matchID = ""
		b.player = game.NoPlayer
		if b.rematch {
			return b.send(internal.MsgSeek, nil)
		}

	case internal.EventPong:
		fmt.Println(info("pong"))
	}
	return nil
}

// track 讓球拍中心追向球的 y
func (b *bot) track(state game.State) error {
	if b.matchID == "" {
		return nil
	}
	paddle := state.Paddle(b.player)
	if paddle == nil {
		return nil
	}

	center := paddle.Y + paddle.Height/2
	var dir game.Direction
	switch {
	case state.Ball.Y < center-b.deadZone:
		dir = game.Up
	case state.Ball.Y > center+b.deadZone:
		dir = game.Down
	default:
		return nil
	}

	return b.send(internal.MsgPaddleMove, internal.PaddleMove{MatchID: b.matchID, Direction: dir})
}
