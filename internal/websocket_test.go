package internal_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
)

// dial 建立 WebSocket 客戶端
func dial(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil 讀到指定類型的訊息為止（跳過其他訊息）
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) internal.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg internal.Message
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

// readNext 讀下一則訊息
func readNext(t *testing.T, conn *websocket.Conn) internal.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg internal.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func matchFound(t *testing.T, msg internal.Message) internal.MatchFound {
	t.Helper()

	var found internal.MatchFound
	require.NoError(t, json.Unmarshal(msg.Data, &found))
	return found
}

func TestWebSocket_MatchFlow(t *testing.T) {
	ts := newTestServer(t, 10*time.Millisecond, nil)

	c1 := dial(t, ts)
	c2 := dial(t, ts)

	send(t, c1, internal.MsgSeek, nil)
	assert.Equal(t, internal.EventWaiting, readNext(t, c1).Type)

	send(t, c2, internal.MsgSeek, nil)

	found1 := matchFound(t, readUntil(t, c1, internal.EventMatchFound))
	found2 := matchFound(t, readUntil(t, c2, internal.EventMatchFound))

	assert.Equal(t, game.Player1, found1.PlayerNumber)
	assert.Equal(t, game.Player2, found2.PlayerNumber)
	assert.Equal(t, found1.MatchID, found2.MatchID)

	// 雙方都收到 state-update
	var state game.State
	require.NoError(t, json.Unmarshal(readUntil(t, c1, internal.EventStateUpdate).Data, &state))
	assert.Equal(t, game.PaddleHeight, state.Paddles.Player1.Height)
	readUntil(t, c2, internal.EventStateUpdate)

	// 球拍移動立即生效
	m, err := ts.registry.Get(found1.MatchID)
	require.NoError(t, err)
	before := m.Snapshot().Paddles.Player1.Y

	send(t, c1, internal.MsgPaddleMove, map[string]string{"matchId": found1.MatchID, "direction": "up"})
	require.Eventually(t, func() bool {
		return m.Snapshot().Paddles.Player1.Y == before-game.PaddleStep
	}, 2*time.Second, 5*time.Millisecond)

	// 對手不能移動別人的球拍，也不能送給不存在的對戰
	send(t, c2, internal.MsgPaddleMove, map[string]string{"matchId": "x:y", "direction": "down"})

	// c2 斷線 → c1 收到 opponent-left，對戰被拆除
	require.NoError(t, c2.Close())

	readUntil(t, c1, internal.EventOpponentLeft)
	assert.Equal(t, 0, ts.registry.Len())
	assert.Equal(t, 0, ts.scheduler.Active())
}

func TestWebSocket_LegacyAliases(t *testing.T) {
	ts := newTestServer(t, time.Hour, nil)

	c1 := dial(t, ts)
	c2 := dial(t, ts)

	send(t, c1, "findMatch", nil)
	assert.Equal(t, internal.EventWaiting, readNext(t, c1).Type)

	send(t, c1, "cancelMatch", nil)
	require.Eventually(t, func() bool {
		return ts.registry.Waiting() == ""
	}, 2*time.Second, 5*time.Millisecond)

	send(t, c1, "findMatch", nil)
	readUntil(t, c1, internal.EventWaiting)
	send(t, c2, "findMatch", nil)

	found := matchFound(t, readUntil(t, c2, internal.EventMatchFound))
	m, err := ts.registry.Get(found.MatchID)
	require.NoError(t, err)
	before := m.Snapshot().Paddles.Player2.Y

	send(t, c2, "paddleMove", map[string]string{"gameId": found.MatchID, "direction": "down"})
	require.Eventually(t, func() bool {
		return m.Snapshot().Paddles.Player2.Y == before+game.PaddleStep
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_PingAndMisuse(t *testing.T) {
	ts := newTestServer(t, time.Hour, nil)
	c := dial(t, ts)

	// 協議誤用不回覆任何東西，連線保持
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, c, "teleport", nil)
	send(t, c, internal.MsgPaddleMove, nil)
	send(t, c, internal.MsgPaddleMove, map[string]string{"matchId": "x:y", "direction": "up"})

	send(t, c, internal.MsgPing, nil)
	assert.Equal(t, internal.EventPong, readNext(t, c).Type)
}

func TestWebSocket_DisconnectWhileWaiting(t *testing.T) {
	ts := newTestServer(t, time.Hour, nil)
	c := dial(t, ts)

	send(t, c, internal.MsgSeek, nil)
	readUntil(t, c, internal.EventWaiting)
	require.NotEqual(t, internal.Handle(""), ts.registry.Waiting())

	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		return ts.registry.Waiting() == "" && ts.hub.Connections().Count() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_StopClosesConnections(t *testing.T) {
	ts := newTestServer(t, time.Hour, nil)
	c := dial(t, ts)

	require.Eventually(t, func() bool {
		return ts.hub.Connections().Count() == 1
	}, 2*time.Second, 5*time.Millisecond)

	ts.hub.Stop()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, ts.hub.Connections().Count())
}
