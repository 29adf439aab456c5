package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/koopa0/system-design/pong/internal/game"
	apperrors "github.com/koopa0/system-design/pong/pkg/errors"
)

// Config 整個應用的配置
//
// 載入順序（後者覆蓋前者）：
//
//	DefaultConfig → config.yaml → .env / 環境變數 → 命令行參數（cmd/server）
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"` // 空值表示不檢查
	} `yaml:"server"`

	Game struct {
		TickRate   int            `yaml:"tick_rate"`   // 每秒 tick 數
		SendBuffer int            `yaml:"send_buffer"` // 每條連線可排隊的 state-update 數（控制事件另有保留名額）
		Playfield  game.Playfield `yaml:"playfield"`
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`

	Postgres struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		DBName   string `yaml:"dbname"`
		MaxConns int32  `yaml:"max_conns"`
		MinConns int32  `yaml:"min_conns"`
	} `yaml:"postgres"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 3000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Game.TickRate = 30
	cfg.Game.SendBuffer = 64
	cfg.Game.Playfield = game.DefaultPlayfield()

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.SubjectPrefix = "pong"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Key = "pong:stats"

	cfg.Postgres.Host = "localhost"
	cfg.Postgres.Port = 5432
	cfg.Postgres.User = "pong"
	cfg.Postgres.DBName = "pong"
	cfg.Postgres.MaxConns = 5
	cfg.Postgres.MinConns = 1

	return cfg
}

// LoadConfig 載入配置
//
// path 指向的檔案不存在時使用預設值，不視為錯誤。
func LoadConfig(path string) (*Config, error) {
	// .env 只是開發便利，找不到就算了
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "解析配置檔失敗")
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 環境變數覆蓋（部署平台常用 PORT）
func (c *Config) applyEnv() {
	if v := firstEnv("PONG_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if os.Getenv("DATABASE_URL") != "" {
		c.Postgres.Enabled = true
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate 驗證配置
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return apperrors.ErrInvalidConfig.WithDetails(fmt.Sprintf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port out of range: %d", c.Server.Port)
	}
	if c.Game.TickRate <= 0 || c.Game.TickRate > 240 {
		return invalid("game.tick_rate must be in (0, 240]: %d", c.Game.TickRate)
	}
	if c.Game.SendBuffer <= 0 {
		return invalid("game.send_buffer must be positive: %d", c.Game.SendBuffer)
	}

	f := c.Game.Playfield
	if f.Width <= 0 || f.Height <= 0 {
		return invalid("playfield size must be positive: %vx%v", f.Width, f.Height)
	}
	if f.PaddleHeight <= 0 || f.PaddleHeight >= f.Height {
		return invalid("paddle_height must be in (0, height): %v", f.PaddleHeight)
	}
	if f.PaddleWidth <= 0 || 2*(f.PaddleMargin+f.PaddleWidth) >= f.Width {
		return invalid("paddles do not fit the playfield width")
	}
	if f.BallRadius <= 0 || f.BallSpeed <= 0 || f.PaddleStep <= 0 {
		return invalid("ball_radius, ball_speed and paddle_step must be positive")
	}
	if f.MaxSpeed < f.BallSpeed {
		return invalid("max_speed (%v) below ball_speed (%v)", f.MaxSpeed, f.BallSpeed)
	}

	return nil
}

// TickInterval 標準 tick 間隔（30 Hz 時約 33ms）
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Game.TickRate)
}

// PostgresDSN 生成 PostgreSQL 連線字串
func (c *Config) PostgresDSN() string {
	// 支援環境變數覆蓋（生產環境常用）
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
	)
}
