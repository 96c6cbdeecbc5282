package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	apperrors "github.com/koopa0/collab-relay/pkg/errors"
)

// ListenConfig 監聽端口與重試參數
type ListenConfig struct {
	Host        string
	Port        int
	MaxAttempts int           // 第一次之後最多再試幾個端口
	RetryDelay  time.Duration // 給前一個監聽者釋放 socket 的時間
}

// Listen 綁定端口；端口被佔用時改試下一個端口
//
// 只有 EADDRINUSE 會重試，其他錯誤（權限不足、位址無效）立即失敗。
// 重試耗盡時返回 ErrNoFreePort。
func Listen(ctx context.Context, cfg ListenConfig, log *slog.Logger) (net.Listener, error) {
	var lc net.ListenConfig

	port := cfg.Port
	for attempt := 0; ; attempt++ {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

		ln, err := lc.Listen(ctx, "tcp", addr)
		if err == nil {
			if attempt > 0 {
				log.Warn("使用替代端口", "requested", cfg.Port, "port", port)
			}
			return ln, nil
		}

		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBindFailed, "listen "+addr)
		}

		if attempt >= cfg.MaxAttempts {
			return nil, apperrors.ErrNoFreePort.WithDetails(
				fmt.Sprintf("ports %d-%d are in use", cfg.Port, port))
		}

		log.Warn("端口被佔用，嘗試下一個端口",
			"port", port,
			"next", port+1,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxAttempts)

		select {
		case <-time.After(cfg.RetryDelay):
		case <-ctx.Done():
			return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeBindFailed, "listen cancelled")
		}
		port++
	}
}
