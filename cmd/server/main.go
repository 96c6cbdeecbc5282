package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koopa0/collab-relay/internal"
	"github.com/koopa0/collab-relay/pkg/logger"
)

// version 由 -ldflags "-X main.version=..." 注入
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// serveOptions 命令行覆蓋（優先於配置檔與環境變數）
type serveOptions struct {
	configPath  string
	port        int
	logLevel    string
	logFormat   string
	executorURL string
}

func newRootCmd() *cobra.Command {
	opts := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:          "collab-relay",
		Short:        "協作編輯中繼服務器",
		Long:         "collab-relay 透過 WebSocket 中繼房間內的編輯、游標與聊天事件，並代理程式碼執行請求。",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "配置檔路徑（不存在時使用預設值）")
	flags.IntVar(&opts.port, "port", 0, "服務器端口（覆蓋配置與 PORT）")
	flags.StringVar(&opts.logLevel, "log-level", "", "日誌級別 (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "日誌格式 (text, json)")
	flags.StringVar(&opts.executorURL, "executor-url", "", "程式執行服務 URL")

	rootCmd.AddCommand(
		newVersionCmd(),
		newTailCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "顯示版本",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

// loadConfig 載入配置並套用命令行覆蓋
func loadConfig(cmd *cobra.Command, opts *serveOptions) (*internal.Config, error) {
	cfg, err := internal.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if flags.Changed("executor-url") {
		cfg.Executor.URL = opts.executorURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return fmt.Errorf("載入配置失敗: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := internal.NewServer(cfg, log)

	addr, err := server.Start(ctx)
	if err != nil {
		// 端口全部被佔用是致命錯誤，不再重試
		log.Error("服務器啟動失敗", "error", err, "port", cfg.Server.Port)
		return err
	}

	log.Info("協作中繼服務器就緒",
		"addr", addr,
		"version", version,
		"log_level", cfg.Log.Level,
		"log_format", cfg.Log.Format)

	select {
	case <-ctx.Done():
		log.Info("收到關閉信號，開始優雅關閉...")
	case err := <-server.Err():
		if err != nil {
			log.Error("HTTP 服務異常結束，開始關閉", "error", err)
		}
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
		return err
	}

	log.Info("服務器已關閉")
	return nil
}
