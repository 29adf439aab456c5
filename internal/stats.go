package internal

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Counters 累計統計
type Counters struct {
	TotalGames       int64 `json:"total_games_played"`
	TotalConnections int64 `json:"total_players_connected"`
	PeakConcurrent   int64 `json:"peak_concurrent_players"`
}

// StatsStore 統計存儲
//
// 只保存累計計數，不保存任何對戰狀態。
// 呼叫發生在 Lifecycle 的背景 goroutine，不在模擬路徑上。
type StatsStore interface {
	IncrGames(ctx context.Context) error
	RecordConnection(ctx context.Context, concurrent int) error
	Counters(ctx context.Context) (Counters, error)
}

// MemoryStats 內存統計（單機預設）
type MemoryStats struct {
	games       atomic.Int64
	connections atomic.Int64
	peak        atomic.Int64
}

// NewMemoryStats 創建內存統計
func NewMemoryStats() *MemoryStats {
	return &MemoryStats{}
}

// IncrGames 對戰數 +1
func (s *MemoryStats) IncrGames(ctx context.Context) error {
	s.games.Add(1)
	return nil
}

// RecordConnection 連線數 +1，並更新同時在線峰值
func (s *MemoryStats) RecordConnection(ctx context.Context, concurrent int) error {
	s.connections.Add(1)

	c := int64(concurrent)
	for {
		peak := s.peak.Load()
		if c <= peak || s.peak.CompareAndSwap(peak, c) {
			return nil
		}
	}
}

// Counters 返回累計統計
func (s *MemoryStats) Counters(ctx context.Context) (Counters, error) {
	return Counters{
		TotalGames:       s.games.Load(),
		TotalConnections: s.connections.Load(),
		PeakConcurrent:   s.peak.Load(),
	}, nil
}

// recordConnectionScript 連線計數與峰值在同一個腳本內更新（原子）
//
// KEYS[1] = hash key
// ARGV[1] = 當前同時在線數
var recordConnectionScript = `
local key = KEYS[1]
local concurrent = tonumber(ARGV[1])

redis.call('HINCRBY', key, 'total_connections', 1)

local peak = tonumber(redis.call('HGET', key, 'peak_concurrent') or '0')
if concurrent > peak then
    redis.call('HSET', key, 'peak_concurrent', concurrent)
    peak = concurrent
end

return peak
`

// RedisStats Redis 統計
//
// 所有計數放在同一個 hash，服務器重啟後累計值保留。
// 只有累計數字，活躍對戰仍然只在內存中。
type RedisStats struct {
	client *redis.Client
	key    string
	script *redis.Script
}

// NewRedisStats 創建 Redis 統計
func NewRedisStats(client *redis.Client, key string) *RedisStats {
	if key == "" {
		key = "pong:stats"
	}
	return &RedisStats{
		client: client,
		key:    key,
		script: redis.NewScript(recordConnectionScript),
	}
}

// IncrGames 對戰數 +1
func (s *RedisStats) IncrGames(ctx context.Context) error {
	if err := s.client.HIncrBy(ctx, s.key, "total_games", 1).Err(); err != nil {
		return fmt.Errorf("累計對戰數失敗: %w", err)
	}
	return nil
}

// RecordConnection 連線數 +1，並更新同時在線峰值
func (s *RedisStats) RecordConnection(ctx context.Context, concurrent int) error {
	if err := s.script.Run(ctx, s.client, []string{s.key}, concurrent).Err(); err != nil {
		return fmt.Errorf("累計連線數失敗: %w", err)
	}
	return nil
}

// Counters 返回累計統計
func (s *RedisStats) Counters(ctx context.Context) (Counters, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("讀取統計失敗: %w", err)
	}

	parse := func(name string) int64 {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return 0
		}
		return v
	}

	return Counters{
		TotalGames:       parse("total_games"),
		TotalConnections: parse("total_connections"),
		PeakConcurrent:   parse("peak_concurrent"),
	}, nil
}
