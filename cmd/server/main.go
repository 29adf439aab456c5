package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/pong/internal"
	"github.com/koopa0/system-design/pong/internal/game"
	"github.com/koopa0/system-design/pong/internal/history"
	"github.com/koopa0/system-design/pong/internal/migrations"
	apperrors "github.com/koopa0/system-design/pong/pkg/errors"
	"github.com/koopa0/system-design/pong/pkg/logger"
)

func main() {
	// 解析命令行參數（覆蓋配置檔與環境變數）
	var (
		configPath  = flag.String("config", "config.yaml", "配置檔路徑")
		port        = flag.Int("port", 0, "服務器端口（0 表示使用配置）")
		logLevel    = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "日誌格式 (text, json)")
		migrateDown = flag.Bool("migrate-down", false, "回滾對戰紀錄表一個版本後退出")
	)
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		config.Server.Port = *port
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// 設置日誌
	log, closer, err := logger.New(config.Log.Level, config.Log.Format, config.Log.Output, config.Log.Level == "debug")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(log)

	if *migrateDown {
		if err := rollback(config, log); err != nil {
			log.Error("回滾失敗", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(config, log); err != nil {
		log.Error("服務器異常退出", "error", err)
		os.Exit(1)
	}
}

// run 組裝所有元件並等待關閉信號
func run(config *internal.Config, log *slog.Logger) error {
	ctx := context.Background()

	// 可選的外部依賴：任何一個連不上都退回內存實作
	publisher := setupPublisher(config, log)
	stats, closeStats := setupStats(ctx, config, log)
	defer closeStats()
	archive, closeArchive := setupArchive(ctx, config, log)
	defer closeArchive()

	lifecycle := internal.NewLifecycle(publisher, stats, archive, log)

	// 核心：Engine → Scheduler → Registry → Matchmaker → Hub
	engine := game.NewEngine(config.Game.Playfield, nil)
	connections := internal.NewConnections(config.Game.SendBuffer, log)
	scheduler := internal.NewScheduler(engine, connections, config.TickInterval(), log)
	registry := internal.NewRegistry(engine, scheduler, connections, lifecycle, log)
	matchmaker := internal.NewMatchmaker(registry, log)
	hub := internal.NewWebSocketHub(connections, matchmaker, registry, lifecycle, config.Server.AllowedOrigins, log)
	handler := internal.NewHandler(hub, registry, scheduler, lifecycle, log)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      handler.Routes(),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Pong 服務器啟動",
			"port", config.Server.Port,
			"tick_rate", config.Game.TickRate,
			"nats", config.NATS.Enabled,
			"redis", config.Redis.Enabled,
			"postgres", config.Postgres.Enabled)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP 服務器錯誤: %w", err)
		}
	case sig := <-shutdown:
		log.Info("收到關閉信號，開始優雅關閉", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	// 先結束所有對戰（不送 opponent-left），再關閉連線
	registry.Shutdown()
	hub.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("強制關閉服務器失敗", "error", closeErr)
		}
	}

	// 等待生命週期事件送完（對戰紀錄、統計）
	lifecycle.Stop()

	log.Info("服務器已關閉")
	return serveErr
}

// setupPublisher NATS 事件發佈
func setupPublisher(config *internal.Config, log *slog.Logger) internal.EventPublisher {
	if !config.NATS.Enabled {
		return nil
	}

	publisher, err := internal.NewNATSPublisher(config.NATS.URL, config.NATS.SubjectPrefix, log)
	if err != nil {
		log.Warn("NATS 不可用，停用事件發佈", "url", config.NATS.URL, "error", err)
		return nil
	}

	log.Info("NATS 已連線", "url", config.NATS.URL)
	return publisher
}

// setupStats Redis 統計，不可用時使用內存
func setupStats(ctx context.Context, config *internal.Config, log *slog.Logger) (internal.StatsStore, func()) {
	if !config.Redis.Enabled {
		return internal.NewMemoryStats(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Redis.Addr,
		Password:     config.Redis.Password,
		DB:           config.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis 不可用，改用內存統計", "addr", config.Redis.Addr, "error", err)
		_ = client.Close()
		return internal.NewMemoryStats(), func() {}
	}

	log.Info("Redis 已連線", "addr", config.Redis.Addr)
	return internal.NewRedisStats(client, config.Redis.Key), func() { _ = client.Close() }
}

// rollback 把對戰紀錄表退回一個版本
func rollback(config *internal.Config, log *slog.Logger) error {
	if !config.Postgres.Enabled {
		return apperrors.ErrHistoryDisabled.WithDetails("postgres.enabled 為 false")
	}

	migrator, err := migrations.New(config.PostgresDSN(), log)
	if err != nil {
		return err
	}
	defer migrator.Close()

	status, err := migrator.Rollback()
	if err != nil {
		return err
	}

	log.Info("對戰紀錄表已回滾", "version", status.Version)
	return nil
}

// setupArchive PostgreSQL 對戰紀錄（含遷移），不可用時退回內存
func setupArchive(ctx context.Context, config *internal.Config, log *slog.Logger) (history.Store, func()) {
	fallback := func() (history.Store, func()) {
		return history.NewMemoryStore(history.MaxLimit), func() {}
	}

	if !config.Postgres.Enabled {
		return fallback()
	}

	dsn := config.PostgresDSN()

	migrator, err := migrations.New(dsn, log)
	if err != nil {
		log.Warn("PostgreSQL 不可用，對戰紀錄改用內存", "error", err)
		return fallback()
	}
	status, err := migrator.Apply()
	if closeErr := migrator.Close(); closeErr != nil {
		log.Warn("關閉遷移管理器失敗", "error", closeErr)
	}
	if err != nil {
		log.Warn("資料庫遷移失敗，對戰紀錄改用內存", "error", err)
		return fallback()
	}

	pgConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Warn("解析 PostgreSQL 配置失敗，對戰紀錄改用內存", "error", err)
		return fallback()
	}
	pgConfig.MaxConns = config.Postgres.MaxConns
	pgConfig.MinConns = config.Postgres.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		log.Warn("連接 PostgreSQL 失敗，對戰紀錄改用內存", "error", err)
		return fallback()
	}

	log.Info("PostgreSQL 已連線",
		"host", config.Postgres.Host,
		"db", config.Postgres.DBName,
		"schema_version", status.Version)
	return history.NewPostgresStore(pool), pool.Close
}
