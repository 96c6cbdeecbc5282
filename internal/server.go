package internal

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Server 組裝成員表、執行代理、WebSocket Hub 與 HTTP 路由
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	manager *Manager
	hub     *Hub

	httpServer *http.Server
	listener   net.Listener
	errCh      chan error
	mu         sync.Mutex
}

// NewServer 創建服務器，使用 Piston 相容的 HTTP 執行服務
func NewServer(cfg *Config, log *slog.Logger) *Server {
	return NewServerWithExecutor(cfg, NewPistonClient(cfg.Executor.URL, cfg.Executor.Timeout), log)
}

// NewServerWithExecutor 創建服務器並指定執行服務（測試用）
func NewServerWithExecutor(cfg *Config, executor Executor, log *slog.Logger) *Server {
	manager := NewManager(log)
	proxy := NewExecutionProxy(executor, cfg.Executor.Timeout, cfg.Executor.DefaultVersion, log)
	hubCfg := HubConfigFrom(cfg)
	hub := NewHub(manager, proxy, hubCfg, log)
	handler := NewHandler(manager, hub, hubCfg.Origins, log)

	return &Server{
		cfg:     cfg,
		logger:  log,
		manager: manager,
		hub:     hub,
		httpServer: &http.Server{
			Handler:      handler.Routes(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
			ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		},
		errCh: make(chan error, 1),
	}
}

// Start 綁定端口並開始服務，返回實際監聽地址
//
// 端口被佔用時依配置嘗試後續端口；全部失敗時返回 BIND_FAILED 錯誤。
func (s *Server) Start(ctx context.Context) (string, error) {
	ln, err := Listen(ctx, ListenConfig{
		Host:        s.cfg.Server.Host,
		Port:        s.cfg.Server.Port,
		MaxAttempts: s.cfg.Server.MaxPortAttempts,
		RetryDelay:  s.cfg.Server.PortRetryDelay,
	}, s.logger)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP 服務異常結束", "error", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()

	addr := ln.Addr().String()
	s.logger.Info("服務器啟動",
		"addr", addr,
		"executor", s.cfg.Executor.URL,
		"production", s.cfg.Server.Production)
	return addr, nil
}

// Err 服務異常結束時收到錯誤；正常關閉時 channel 被關閉
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Addr 返回實際監聽地址；尚未啟動時返回空字串
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Manager 返回房間成員表
func (s *Server) Manager() *Manager {
	return s.manager
}

// Shutdown 優雅關閉：先停止接受新請求，再關閉所有 WebSocket 連接
func (s *Server) Shutdown(ctx context.Context) error {
	httpErr := s.httpServer.Shutdown(ctx)
	hubErr := s.hub.Stop(ctx)
	return errors.Join(httpErr, hubErr)
}
