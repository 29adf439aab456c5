package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koopa0/system-design/pong/pkg/logger"
)

// 系統設計問題：
//   如何把 30Hz 的權威狀態推給兩個客戶端，同時不讓慢客戶端拖住模擬？
//
// 核心挑戰：
//   1. 實時通信：每個 tick 都要推送完整狀態
//   2. 連接管理：斷線要立刻觸發對戰拆除
//   3. 心跳機制：檢測死連接（網絡異常、客戶端崩潰）
//   4. 非阻塞：tick goroutine 不能等待網絡 I/O
//
// 設計方案：
//   ✅ WebSocket - 全雙工通信（低延遲、服務器推送）
//   ✅ Hub 模式 - 集中管理所有連接
//   ✅ Ping/Pong 心跳 - 檢測死連接（54s/60s）
//   ✅ 緩衝 channel - 異步發送，state-update 滿了就丟棄（下一個 tick 會帶上最新狀態）
//   ✅ 控制事件保留空間 - waiting / match-found / opponent-left 不會被 tick 擠掉

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// 客戶端訊息都很小（seek / paddle-move），超過就斷線
	maxMessageSize = 4096

	// 發送緩衝區中 state-update 不能佔用的名額，留給控制事件
	controlReserve = 8
)

// Connection WebSocket 連接
type Connection struct {
	Handle    Handle
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *WebSocketHub
	closeOnce sync.Once // 確保 channel 只關閉一次
}

// close 關閉發送通道（writePump 收到後送出 close frame）
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Connections 在線連接表，實作 Notifier
//
// 並發安全：RWMutex
//   - 每個 tick 都會廣播（讀鎖），連線/斷線很少（寫鎖）
//   - Send 通道只在寫鎖內關閉，持有讀鎖時寫入不會碰到已關閉的通道
//
// 背壓：Send 容量是 sendBuffer + controlReserve。
// state-update 只能填到 sendBuffer，之後直接丟棄；
// 控制事件可以用到保留名額，連保留名額都滿了就斷開這條連線，
// 客戶端會看到斷線，而不是卡在一場收不到任何事件的對戰裡。
type Connections struct {
	conns      map[Handle]*Connection
	mu         sync.RWMutex
	sendBuffer int
	logger     *slog.Logger
}

// NewConnections 創建連接表
func NewConnections(sendBuffer int, logger *slog.Logger) *Connections {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Connections{
		conns:      make(map[Handle]*Connection),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// newConnection 建立連線，Send 容量包含控制事件的保留名額
func (cs *Connections) newConnection(h Handle, ws *websocket.Conn, hub *WebSocketHub) *Connection {
	return &Connection{
		Handle: h,
		Conn:   ws,
		Send:   make(chan []byte, cs.sendBuffer+controlReserve),
		Hub:    hub,
	}
}

// Send 推送事件（非阻塞）
//
// 事件只序列化一次；不在線的 handle 直接跳過。
func (cs *Connections) Send(event Event, handles ...Handle) {
	message, err := json.Marshal(event)
	if err != nil {
		cs.logger.Error("序列化事件失敗", "type", event.Type, "error", err)
		return
	}

	droppable := event.Type == EventStateUpdate

	cs.mu.RLock()
	defer cs.mu.RUnlock()

	for _, h := range handles {
		conn, exists := cs.conns[h]
		if !exists {
			continue
		}

		if droppable && len(conn.Send) >= cs.sendBuffer {
			cs.logger.Debug("連接緩衝區滿，丟棄 state-update", "handle", h)
			continue
		}

		select {
		case conn.Send <- message:
		default:
			// 保留名額也用完：客戶端長時間不讀，斷開連線交給 readPump 拆除
			cs.logger.Warn("連接緩衝區滿，關閉連接",
				"handle", h,
				"type", event.Type)
			if conn.Conn != nil {
				_ = conn.Conn.Close()
			}
		}
	}
}

// Count 在線連接數
func (cs *Connections) Count() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.conns)
}

// add 註冊連接，返回註冊後的在線數
func (cs *Connections) add(conn *Connection) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.conns[conn.Handle] = conn
	return len(cs.conns)
}

// remove 取消註冊連接並關閉發送通道
func (cs *Connections) remove(conn *Connection) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if actual, exists := cs.conns[conn.Handle]; exists && actual == conn {
		delete(cs.conns, conn.Handle)
	}
	conn.close()
}

// closeAll 關閉所有連接
func (cs *Connections) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for h, conn := range cs.conns {
		conn.close()
		conn.Conn.Close()
		delete(cs.conns, h)
	}
}

// WebSocketHub WebSocket 連接中心（ConnectionGateway）
//
// Hub 模式設計：
//   - 每條連線分配一個 UUID handle，斷線後作廢
//   - 入站訊息路由到 Matchmaker / Registry
//   - 出站訊息一律經由 Connections（Notifier）
//   - 連線結束（讀取錯誤、心跳超時、服務器關閉）統一走 Registry.Disconnect
type WebSocketHub struct {
	connections *Connections
	matchmaker  *Matchmaker
	registry    *Registry
	lifecycle   *Lifecycle
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewWebSocketHub 創建 WebSocket Hub
//
// allowedOrigins 為空時接受任何來源。
func NewWebSocketHub(connections *Connections, matchmaker *Matchmaker, registry *Registry, lifecycle *Lifecycle, allowedOrigins []string, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		connections: connections,
		matchmaker:  matchmaker,
		registry:    registry,
		lifecycle:   lifecycle,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWS 處理 WebSocket 連接
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	hub.mu.Lock()
	if hub.stopped {
		hub.mu.Unlock()
		http.Error(w, "服務器正在關閉", http.StatusServiceUnavailable)
		return
	}
	hub.wg.Add(1)
	hub.mu.Unlock()

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.wg.Done()
		hub.logger.Warn("升級 WebSocket 失敗", "error", err)
		return
	}

	connection := hub.connections.newConnection(Handle(uuid.NewString()), conn, hub)

	concurrent := hub.connections.add(connection)

	go connection.writePump()
	go func() {
		defer hub.wg.Done()
		connection.readPump()
	}()

	hub.logger.Info("WebSocket 連接建立",
		"handle", connection.Handle,
		"remote", r.RemoteAddr,
		"concurrent", concurrent)

	if hub.lifecycle != nil {
		hub.lifecycle.Emit(LifecycleEvent{
			Kind:       LifecycleConnected,
			Player1:    connection.Handle,
			Concurrent: concurrent,
		})
	}
}

// disconnect 連線結束：先從 Registry 拆除，再關閉發送通道
func (hub *WebSocketHub) disconnect(c *Connection) {
	hub.registry.Disconnect(c.Handle)
	hub.connections.remove(c)

	hub.logger.Info("WebSocket 連接關閉", "handle", c.Handle)
}

// Connections 在線連接表
func (hub *WebSocketHub) Connections() *Connections {
	return hub.connections
}

// Stop 關閉所有連接並等待讀取 goroutine 退出
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	if hub.stopped {
		hub.mu.Unlock()
		return
	}
	hub.stopped = true
	hub.mu.Unlock()

	hub.connections.closeAll()
	hub.wg.Wait()

	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端消息
//
// 心跳（讀取端）：60 秒內沒收到任何訊息（包括 Pong）就關閉連接，
// 配合 writePump 的 54 秒 Ping。
func (c *Connection) readPump() {
	defer func() {
		c.Hub.disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.Conn.SetPongHandler(func(string) error {
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	ctx := logger.WithConnID(context.Background(), string(c.Handle))

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.Hub.logger.WarnContext(ctx, "WebSocket 讀取錯誤", "error", err)
			}
			return
		}

		// 任何訊息都代表連線還活著
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.Hub.logger.ErrorContext(ctx, "設置讀取期限失敗", "error", err)
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(ctx, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 同一連線只有這一個 goroutine 寫入，Send 的順序就是送達順序，
// 所以同一場對戰的 state-update 按 tick 順序到達。
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 通道已關閉，嘗試送出 close frame，忽略錯誤（連接可能已關閉）
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 處理客戶端消息
//
// 協議誤用（格式錯誤、未知類型、不屬於自己的對戰）一律忽略，只記 debug。
func (c *Connection) handleMessage(ctx context.Context, raw []byte) {
	hub := c.Hub

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		hub.logger.DebugContext(ctx, "解析客戶端消息失敗", "error", err)
		return
	}

	switch msg.Type {
	case MsgSeek, msgFindMatch:
		result, _ := hub.matchmaker.Seek(c.Handle)
		hub.logger.DebugContext(ctx, "seek", "result", result)

	case MsgCancel, msgCancelMatch:
		hub.matchmaker.Cancel(c.Handle)

	case MsgPaddleMove, msgPaddleMove:
		var move PaddleMove
		if len(msg.Data) == 0 {
			hub.logger.DebugContext(ctx, "paddle-move 缺少內容")
			return
		}
		if err := json.Unmarshal(msg.Data, &move); err != nil {
			hub.logger.DebugContext(ctx, "解析 paddle-move 失敗", "error", err)
			return
		}
		if err := hub.registry.MovePaddle(c.Handle, move.Target(), move.Direction); err != nil {
			hub.logger.DebugContext(ctx, "忽略 paddle-move",
				"match_id", move.Target(),
				"direction", move.Direction,
				"error", err)
		}

	case MsgPing:
		hub.connections.Send(Event{Type: EventPong}, c.Handle)

	default:
		hub.logger.DebugContext(ctx, "收到未知消息類型", "type", msg.Type)
	}
}
