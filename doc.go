// Package pong 提供一個即時雙人 Pong 對戰服務器。
//
// 服務器負責配對匿名客戶端、以固定頻率模擬每場對戰的物理狀態，
// 並透過 WebSocket 把權威狀態推送給雙方。
//
// # 配對
//
// 進程內只有一個等待位：
//   - 第一個 seek 的連線佔住等待位並收到 waiting
//   - 第二個 seek 的連線與其配對，先來的是 player 1
//   - 檢查與配對在同一把鎖內完成，不會有兩人同時排隊
//
// # 遊戲循環
//
// 每場對戰一個 goroutine + time.Ticker（預設 30Hz）：
//   - 依實際經過時間正規化物理（deltaTicks）
//   - 每個 tick 推送完整狀態給雙方
//   - 任一方斷線時同步停止循環，對手收到 opponent-left
//
// # 周邊服務（可選）
//
//   - NATS：發佈 pong.match.started / pong.match.ended / pong.player.connected
//   - Redis：累計對戰數、連線數、同時在線峰值
//   - PostgreSQL：已結束對戰的紀錄
//
// 任何周邊服務不可用時都會退回內存實作或停用，不影響對戰。
//
// # 使用範例
//
// 啟動服務器：
//
//	go run ./cmd/server -config config.yaml -log-level debug
//
// 啟動兩個 bot 互打：
//
//	go run ./cmd/pongbot -addr localhost:3000
//	go run ./cmd/pongbot -addr localhost:3000 -quiet
//
// 客戶端協議（JSON 信封 {"type", "data"}）：
//
//	→ {"type":"seek"}
//	← {"type":"waiting"}
//	← {"type":"match-found","data":{"matchId":"<p1>:<p2>","playerNumber":1}}
//	← {"type":"state-update","data":{"ball":{...},"paddles":{...},"score":{...}}}
//	→ {"type":"paddle-move","data":{"matchId":"<p1>:<p2>","direction":"up"}}
//	← {"type":"opponent-left"}
package pong
