package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

// Config 同时承载后端服务与终端客户端的配置，全部来自环境变量。
type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	NatsURL               string

	APIURL          string
	RealtimeURL     string
	AccessToken     string
	Username        string
	Password        string
	DraftDBPath     string
	UnreadPollSecs  int
	DraftDebounceMS int
	SignalMode      string
	BlinkIntervalMS int
	VideoSweepSecs  int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Load 读取 .env（若存在）后再从环境变量组装配置。
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=socialhub port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 60),
		NatsURL:               os.Getenv("NATS_URL"),

		APIURL:          strings.TrimSuffix(getenv("API_URL", "http://localhost:8080"), "/"),
		RealtimeURL:     getenv("REALTIME_URL", "ws://localhost:8080/realtime"),
		AccessToken:     os.Getenv("ACCESS_TOKEN"),
		Username:        os.Getenv("CLIENT_USERNAME"),
		Password:        os.Getenv("CLIENT_PASSWORD"),
		DraftDBPath:     getenv("DRAFT_DB_PATH", "drafts.db"),
		UnreadPollSecs:  getenvInt("UNREAD_POLL_SECONDS", 15),
		DraftDebounceMS: getenvInt("DRAFT_DEBOUNCE_MS", 500),
		SignalMode:      getenv("SIGNAL_MODE", "badge"),
		BlinkIntervalMS: getenvInt("BLINK_INTERVAL_MS", 1000),
		VideoSweepSecs:  getenvInt("VIDEO_SWEEP_SECONDS", 30),
	}
}

// Validate 校验后端启动所需的配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	switch cfg.SignalMode {
	case "", "badge", "blink":
	default:
		return errors.New("config: SIGNAL_MODE must be badge or blink")
	}
	return nil
}
