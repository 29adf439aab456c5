// Package history 保存已結束對戰的紀錄
//
// 只在對戰結束後寫入一次，活躍對戰從不落盤。
// 寫入失敗只影響歷史查詢，不影響任何進行中的對戰。
package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/pong/internal/game"
)

// 結束原因
const (
	ReasonDisconnect = "disconnect"
	ReasonShutdown   = "server_shutdown"
)

// DefaultLimit 查詢預設筆數
const DefaultLimit = 20

// MaxLimit 單次查詢上限
const MaxLimit = 100

// Record 一場已結束的對戰
type Record struct {
	MatchID   string     `json:"match_id"`
	Player1   string     `json:"player1"`
	Player2   string     `json:"player2"`
	Score     game.Score `json:"score"`
	Ticks     uint64     `json:"ticks"`
	Reason    string     `json:"end_reason"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// Duration 對戰時長
func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Store 歷史紀錄存儲
type Store interface {
	Save(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// NormalizeLimit 把查詢筆數限制在 [1, MaxLimit]，<= 0 使用預設值
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// MemoryStore 內存實作（測試，以及 Postgres 未啟用或連不上時）
//
// 只保留最近 capacity 筆。
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Record
	capacity int
}

// NewMemoryStore 創建內存存儲
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = MaxLimit
	}
	return &MemoryStore{capacity: capacity}
}

// Save 保存紀錄
func (s *MemoryStore) Save(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	if over := len(s.records) - s.capacity; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

// Recent 按結束時間由新到舊返回
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	limit = NormalizeLimit(limit)

	s.mu.RLock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndedAt.After(out[j].EndedAt)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PostgresStore PostgreSQL 實作
//
// 表結構見 internal/migrations。
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 創建 PostgreSQL 存儲
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const insertRecordSQL = `
INSERT INTO match_history (match_id, player1, player2, score1, score2, ticks, end_reason, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const recentRecordsSQL = `
SELECT match_id, player1, player2, score1, score2, ticks, end_reason, started_at, ended_at
FROM match_history
ORDER BY ended_at DESC, id DESC
LIMIT $1`

// Save 保存紀錄
func (s *PostgresStore) Save(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, insertRecordSQL,
		r.MatchID,
		r.Player1,
		r.Player2,
		r.Score.Player1,
		r.Score.Player2,
		int64(r.Ticks),
		r.Reason,
		r.StartedAt,
		r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("保存對戰紀錄失敗: %w", err)
	}
	return nil
}

// Recent 按結束時間由新到舊返回
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, recentRecordsSQL, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查詢對戰紀錄失敗: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			r     Record
			ticks int64
		)
		err := row.Scan(
			&r.MatchID,
			&r.Player1,
			&r.Player2,
			&r.Score.Player1,
			&r.Score.Player2,
			&ticks,
			&r.Reason,
			&r.StartedAt,
			&r.EndedAt,
		)
		r.Ticks = uint64(ticks)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("讀取對戰紀錄失敗: %w", err)
	}
	return records, nil
}
