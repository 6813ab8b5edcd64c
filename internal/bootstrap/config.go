package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/infra/llm"
	"github.com/msea200/clipshare/internal/infra/setup"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	ServerPort string
	AppEnv     string // development / production
	LogLevel   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	DB setup.DBConfig

	JWTSecret      string
	JWTExpiryHours int
	AdminEmails    []string

	RoomExpiry    time.Duration
	RoomCodeTZ    *time.Location // 日期房间码使用的时区
	SweepSchedule string         // asynq cron 表达式

	CORSAllowedOrigins []string
	RateLimitMax       int
	RateLimitWindow    time.Duration

	AnthropicAPIKey   string
	ReformatModel     string
	ReformatMaxTokens int64
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:    envOr("SERVER_PORT", "8080"),
		AppEnv:        envOr("APP_ENV", "development"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     envOr("REDIS_KEY_PREFIX", "cs:"),
		DB: setup.DBConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     envOr("DB_HOST", "127.0.0.1"),
			Port:     envOr("DB_PORT", "3306"),
			Name:     envOr("DB_NAME", "clipshare"),
		},
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminEmails:        splitList(os.Getenv("ADMIN_EMAILS")),
		SweepSchedule:      envOr("SWEEP_SCHEDULE", "@every 10m"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		ReformatModel:      envOr("REFORMAT_MODEL", llm.DefaultModel),
	}

	var err error
	if cfg.RedisDB, err = envInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.JWTExpiryHours, err = envInt("JWT_EXPIRY_HOURS", 24); err != nil {
		return nil, err
	}
	expiryHours, err := envInt("ROOM_EXPIRY_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.RoomExpiry = time.Duration(expiryHours) * time.Hour
	if cfg.RateLimitMax, err = envInt("RATE_LIMIT_MAX", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = envDuration("RATE_LIMIT_WINDOW", time.Second); err != nil {
		return nil, err
	}
	maxTokens, err := envInt("REFORMAT_MAX_TOKENS", llm.DefaultMaxTokens)
	if err != nil {
		return nil, err
	}
	cfg.ReformatMaxTokens = int64(maxTokens)

	tz := envOr("ROOM_CODE_TZ", "UTC")
	if cfg.RoomCodeTZ, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid ROOM_CODE_TZ %q: %w", tz, err)
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.RoomExpiry <= 0 {
		return nil, fmt.Errorf("ROOM_EXPIRY_HOURS must be positive")
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

// splitList 解析逗号分隔的列表，忽略空项
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
