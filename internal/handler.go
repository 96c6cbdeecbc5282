package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"
)

// OriginPolicy 跨來源規則（HTTP CORS 與 WebSocket 升級共用）
//
// 非生產環境或未設定清單時允許所有來源；沒有 Origin 標頭的請求
// （非瀏覽器客戶端）一律允許。
type OriginPolicy struct {
	Allowed    []string
	Production bool
}

// Allow 判斷來源是否允許
func (p OriginPolicy) Allow(origin string) bool {
	if origin == "" || !p.Production || len(p.Allowed) == 0 {
		return true
	}
	return slices.Contains(p.Allowed, origin)
}

// AllowRequest 供 websocket.Upgrader.CheckOrigin 使用
func (p OriginPolicy) AllowRequest(r *http.Request) bool {
	return p.Allow(r.Header.Get("Origin"))
}

// Handler HTTP 請求處理器
type Handler struct {
	manager *Manager
	hub     *Hub
	origins OriginPolicy
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, hub *Hub, origins OriginPolicy, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		origins: origins,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 健康檢查
	mux.HandleFunc("GET /api/health", wrap(h.health))
	mux.HandleFunc("GET /api/stats", wrap(h.stats))

	// WebSocket 升級需要 http.Hijacker，不能包 loggerMiddleware
	mux.HandleFunc("GET /ws", h.recoverer(h.hub.ServeWS))
	mux.HandleFunc("GET /socket", h.recoverer(h.hub.ServeWS))

	return h.cors(mux)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status":    "ok",
		"message":   "Server is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	h.jsonResponse(w, map[string]any{
		"rooms":       stats.Rooms,
		"members":     stats.Connections,
		"connections": h.hub.ConnectionCount(),
	}, http.StatusOK)
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

// cors 跨來源中間件
func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !h.origins.Allow(origin) {
				h.logger.Warn("拒絕跨來源請求", "origin", origin, "path", r.URL.Path)
				h.errorResponse(w, "來源不被允許", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
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
