package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		MaxPortAttempts int           `yaml:"max_port_attempts"` // 第一次綁定失敗後最多再試幾個端口
		PortRetryDelay  time.Duration `yaml:"port_retry_delay"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"` // 空 = 允許所有來源
		Production      bool          `yaml:"production"`
	} `yaml:"server"`

	Executor struct {
		URL            string        `yaml:"url"`
		Timeout        time.Duration `yaml:"timeout"`
		DefaultVersion string        `yaml:"default_version"`
	} `yaml:"executor"`

	WebSocket struct {
		MaxMessageBytes int64         `yaml:"max_message_bytes"`
		SendBuffer      int           `yaml:"send_buffer"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongWait        time.Duration `yaml:"pong_wait"`
		WriteWait       time.Duration `yaml:"write_wait"`
	} `yaml:"websocket"`

	Limits struct {
		ExecBurst        int64 `yaml:"exec_burst"`
		ExecRefillPerSec int64 `yaml:"exec_refill_per_sec"`
	} `yaml:"limits"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 5000
	cfg.Server.MaxPortAttempts = 5
	cfg.Server.PortRetryDelay = 150 * time.Millisecond
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second

	cfg.Executor.URL = "https://emkc.org/api/v2/piston/execute"
	cfg.Executor.Timeout = 15 * time.Second
	cfg.Executor.DefaultVersion = "*"

	cfg.WebSocket.MaxMessageBytes = 1 << 20
	cfg.WebSocket.SendBuffer = 256
	cfg.WebSocket.PingInterval = 54 * time.Second
	cfg.WebSocket.PongWait = 60 * time.Second
	cfg.WebSocket.WriteWait = 10 * time.Second

	cfg.Limits.ExecBurst = 5
	cfg.Limits.ExecRefillPerSec = 1

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 載入配置：預設值 → YAML 檔案（可選）→ 環境變數
//
// path 為空或檔案不存在時只使用預設值與環境變數。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// 沒有配置檔就用預設值
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 套用環境變數覆蓋（部署平台常用）
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	if v := getenv("FRONTEND_URL"); v != "" {
		c.Server.AllowedOrigins = splitOrigins(v)
	}

	if v := getenv("EXECUTOR_URL"); v != "" {
		c.Executor.URL = v
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if getenv("NODE_ENV") == "production" {
		c.Server.Production = true
	}

	return nil
}

// Validate 檢查配置是否合理
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port 必須在 0-65535 之間: %d", c.Server.Port)
	}
	if c.Server.MaxPortAttempts < 0 {
		return fmt.Errorf("server.max_port_attempts 不能為負數: %d", c.Server.MaxPortAttempts)
	}
	if c.Executor.URL == "" {
		return fmt.Errorf("executor.url 不能為空")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout 必須大於 0")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer 必須大於 0")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_wait 必須大於 ping_interval")
	}
	return nil
}

// splitOrigins 解析逗號分隔的來源清單
func splitOrigins(v string) []string {
	var origins []string
	for _, o := range strings.Split(v, ",") {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	return origins
}
