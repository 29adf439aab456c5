package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/pong/internal/history"
	apperrors "github.com/koopa0/system-design/pong/pkg/errors"
)

// Handler HTTP 請求處理器
type Handler struct {
	hub       *WebSocketHub
	registry  *Registry
	scheduler *Scheduler
	lifecycle *Lifecycle
	logger    *slog.Logger
	startedAt time.Time
}

// NewHandler 創建 HTTP 處理器
func NewHandler(hub *WebSocketHub, registry *Registry, scheduler *Scheduler, lifecycle *Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		registry:  registry,
		scheduler: scheduler,
		lifecycle: lifecycle,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// WebSocket 不經過日誌中間件（Hijack 後 ResponseWriter 包裝無效）
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))

	// 對戰查詢 API
	mux.HandleFunc("GET /api/v1/matches", wrap(h.listMatches))
	mux.HandleFunc("GET /api/v1/matches/{match_id}", wrap(h.getMatch))
	mux.HandleFunc("GET /api/v1/history", wrap(h.listHistory))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listMatches 活躍對戰列表
func (h *Handler) listMatches(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	matches := h.registry.List()

	summaries := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		summaries = append(summaries, m.Summary(now))
	}

	h.jsonResponse(w, map[string]any{
		"matches": summaries,
		"count":   len(summaries),
	}, http.StatusOK)
}

// getMatch 單場對戰詳情（含當前狀態快照）
func (h *Handler) getMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(r.PathValue("match_id"))
	if err != nil {
		h.appErrorResponse(w, err)
		return
	}

	detail := m.Summary(time.Now())
	detail["state"] = m.Snapshot()

	h.jsonResponse(w, detail, http.StatusOK)
}

// listHistory 最近結束的對戰
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	archive := h.lifecycle.Archive()
	if archive == nil {
		h.appErrorResponse(w, apperrors.ErrHistoryDisabled)
		return
	}

	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.appErrorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "limit 必須是正整數"))
			return
		}
		limit = n
	}

	records, err := archive.Recent(r.Context(), limit)
	if err != nil {
		h.appErrorResponse(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "查詢對戰紀錄失敗"))
		return
	}

	h.jsonResponse(w, map[string]any{
		"matches": records,
		"count":   len(records),
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	searching := 0
	if h.registry.Waiting() != "" {
		searching = 1
	}

	body := map[string]any{
		"connections":       h.hub.Connections().Count(),
		"searching_players": searching,
		"active_matches":    h.registry.Len(),
		"active_loops":      h.scheduler.Active(),
		"tick_interval_ms":  h.scheduler.Interval().Milliseconds(),
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
	}

	counters, err := h.lifecycle.Stats().Counters(r.Context())
	if err != nil {
		// 統計存儲不可用時仍返回即時數字
		h.logger.Warn("讀取累計統計失敗", "error", err)
	} else {
		body["total_games_played"] = counters.TotalGames
		body["total_players_connected"] = counters.TotalConnections
		body["peak_concurrent_players"] = counters.PeakConcurrent
	}

	h.jsonResponse(w, body, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// appErrorResponse 依錯誤碼決定狀態碼
func (h *Handler) appErrorResponse(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	switch {
	case apperrors.IsUnavailable(err):
		// 可選的依賴沒啟用，不是服務器故障
		h.logger.Warn("依賴不可用", "error", err)
	case status >= http.StatusInternalServerError:
		h.logger.Error("請求失敗", "error", err)
	}

	h.jsonResponse(w, map[string]any{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Debug("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
