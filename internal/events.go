package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// EventPublisher 對外發佈對戰生命週期事件
//
// 事件只是通知（fire-and-forget），訂閱端掛掉不影響對戰。
type EventPublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
	Close()
}

// nopPublisher 未啟用 NATS 時使用
type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }
func (nopPublisher) Close()                                        {}

// NATSPublisher 透過 NATS 發佈事件
//
// 使用 Core NATS 而非 JetStream：
//   - 生命週期事件是通知，錯過就錯過，不需要持久化與 ACK
//   - 發佈是非同步寫入本地緩衝，不會阻塞 Lifecycle goroutine
//
// Subject 規則：
//
//	<prefix>.match.started
//	<prefix>.match.ended
//	<prefix>.player.connected
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher 連接 NATS
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("pong-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	if prefix == "" {
		prefix = "pong"
	}

	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Subject 事件對應的 subject
func Subject(prefix string, kind LifecycleKind) string {
	switch kind {
	case LifecycleMatchStarted:
		return prefix + ".match.started"
	case LifecycleMatchEnded:
		return prefix + ".match.ended"
	case LifecycleConnected:
		return prefix + ".player.connected"
	default:
		return prefix + ".unknown"
	}
}

// Publish 發佈事件
func (p *NATSPublisher) Publish(ctx context.Context, ev LifecycleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := p.conn.Publish(Subject(p.prefix, ev.Kind), data); err != nil {
		return fmt.Errorf("發佈事件失敗: %w", err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain 失敗", "error", err)
		p.conn.Close()
	}
}
