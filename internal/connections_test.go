package internal

import (
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

// drain 取出連線緩衝區內所有訊息的類型（不阻塞）
func drain(t *testing.T, c *Connection) []string {
	t.Helper()

	var types []string
	for {
		select {
		case raw := <-c.Send:
			var msg Message
			require.NoError(t, json.Unmarshal(raw, &msg))
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func count(types []string, want string) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

func TestConnections_SlowReaderStillGetsControlEvents(t *testing.T) {
	const buffer = 4

	log := logger.Discard()
	engine := game.NewEngine(game.DefaultPlayfield(), rand.NewPCG(1, 2))
	connections := NewConnections(buffer, log)
	scheduler := NewScheduler(engine, connections, 5*time.Millisecond, log)
	registry := NewRegistry(engine, scheduler, connections, nil, log)
	matchmaker := NewMatchmaker(registry, log)
	t.Cleanup(registry.Shutdown)

	a := connections.newConnection("a", nil, nil)
	b := connections.newConnection("b", nil, nil)
	connections.add(a)
	connections.add(b)

	matchmaker.Seek("a")
	result, m := matchmaker.Seek("b")
	require.Equal(t, SeekPaired, result)
	require.NotNil(t, m)

	// b 從不讀取：等 tick 把 state-update 的名額塞滿，再多跑幾個 tick
	require.Eventually(t, func() bool {
		return len(b.Send) >= buffer
	}, 2*time.Second, time.Millisecond)
	tickedAt := m.Ticks()
	require.Eventually(t, func() bool {
		return m.Ticks() >= tickedAt+5
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, buffer, len(b.Send), "state-update 不能佔用保留名額")

	registry.Disconnect("a")

	types := drain(t, b)
	require.NotEmpty(t, types)
	assert.Equal(t, EventMatchFound, types[0])
	assert.Equal(t, 1, count(types, EventOpponentLeft))
	assert.Equal(t, EventOpponentLeft, types[len(types)-1], "opponent-left 之後不能再有 state-update")
	assert.Equal(t, buffer-1, count(types, EventStateUpdate))
	assert.Equal(t, 0, registry.Len())
}

func TestConnections_StateUpdatesDroppedWhenFull(t *testing.T) {
	connections := NewConnections(2, logger.Discard())
	c := connections.newConnection("a", nil, nil)
	connections.add(c)

	for range 5 {
		connections.Send(Event{Type: EventStateUpdate, Data: game.State{}}, "a")
	}
	connections.Send(Event{Type: EventPong}, "a")

	types := drain(t, c)
	assert.Equal(t, []string{EventStateUpdate, EventStateUpdate, EventPong}, types)
}

func TestConnections_SendSkipsUnknownHandle(t *testing.T) {
	connections := NewConnections(2, logger.Discard())
	c := connections.newConnection("a", nil, nil)
	connections.add(c)

	connections.Send(Event{Type: EventWaiting}, "ghost", "a")

	assert.Equal(t, []string{EventWaiting}, drain(t, c))
}
