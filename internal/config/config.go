package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// DefaultSessionName 本地会话文件/记录的固定名称
const DefaultSessionName = "session_name"

// ErrMissingEnv 必需的环境变量缺失
var ErrMissingEnv = errors.New("missing required environment variable")

// Config 进程级配置（来自环境变量）
// 远端下发的运行配置见 backend.WorkerConfig
type Config struct {
	APIEndpoint string // 后端 functions 根地址，例如 https://xxx.supabase.co/functions/v1
	ConfigID    string // 配置 ID（UUID）

	SessionName string // 会话名称
	SessionDir  string // 会话文件目录

	MongoURI    string // 设置后会话保存在 MongoDB
	MongoDBName string // MongoDB 数据库名称

	TelegramToken    string // 设置后使用 Bot API 而不是用户会话
	TelegramPassword string // 两步验证密码（可选）
	TelegramDebug    bool

	BackendTimeout       time.Duration // 后端 HTTP 超时
	HeartbeatInterval    time.Duration // 心跳间隔，0 表示关闭
	MetricsFlushInterval time.Duration // 指标上报间隔，0 表示关闭
	MetricsAddr          string        // Prometheus 监听地址，空表示关闭
	QueueSize            int           // 事件队列长度
}

// LoadDotEnv 加载工作目录和可执行文件目录下的 .env（不存在时忽略）
// 返回实际加载的文件列表
func LoadDotEnv() []string {
	candidates := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".env"))
	}

	var loaded []string
	seen := make(map[string]bool, len(candidates))
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		// godotenv.Load 不覆盖已存在的环境变量
		if err := godotenv.Load(abs); err == nil {
			loaded = append(loaded, abs)
		}
	}
	return loaded
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{
		APIEndpoint:      strings.TrimRight(strings.TrimSpace(os.Getenv("API_ENDPOINT")), "/"),
		ConfigID:         strings.TrimSpace(os.Getenv("CONFIG_ID")),
		SessionName:      getEnv("SESSION_NAME", DefaultSessionName),
		SessionDir:       getEnv("SESSION_DIR", "."),
		MongoURI:         strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDBName:      getEnv("MONGO_DB_NAME", "mirror_worker"),
		TelegramToken:    strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TelegramPassword: os.Getenv("TELEGRAM_PASSWORD"),
		MetricsAddr:      strings.TrimSpace(os.Getenv("METRICS_ADDR")),
	}

	if cfg.APIEndpoint == "" {
		return nil, fmt.Errorf("%w: API_ENDPOINT", ErrMissingEnv)
	}
	if cfg.ConfigID == "" {
		return nil, fmt.Errorf("%w: CONFIG_ID", ErrMissingEnv)
	}
	if _, err := uuid.Parse(cfg.ConfigID); err != nil {
		return nil, fmt.Errorf("invalid CONFIG_ID %q: %w", cfg.ConfigID, err)
	}

	if debug := strings.TrimSpace(os.Getenv("TELEGRAM_DEBUG")); debug != "" {
		value, err := strconv.ParseBool(debug)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TELEGRAM_DEBUG: %w", err)
		}
		cfg.TelegramDebug = value
	}

	var err error
	if cfg.BackendTimeout, err = getEnvSeconds("BACKEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvSeconds("HEARTBEAT_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MetricsFlushInterval, err = getEnvSeconds("METRICS_FLUSH_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	cfg.QueueSize = 100
	if sizeStr := strings.TrimSpace(os.Getenv("QUEUE_SIZE")); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse QUEUE_SIZE: %w", err)
		}
		if size < 1 {
			return nil, fmt.Errorf("QUEUE_SIZE must be >= 1, got %d", size)
		}
		cfg.QueueSize = size
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvSeconds 解析以秒为单位的整数，0 合法（表示关闭）
func getEnvSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return time.Duration(seconds) * time.Second, nil
}
