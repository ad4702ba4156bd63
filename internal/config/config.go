package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	// SeedFile 为空时使用内置的默认订阅源与分类
	SeedFile string

	FeedTimeout    time.Duration
	FeedRetries    int
	ContentTimeout time.Duration
	FetchWorkers   int

	// Extractor: readability / browser / none
	Extractor           string
	BrowserExtractorURL string

	StartupDelay time.Duration

	// 全站 Basic Auth，用户名和密码都配置时才启用
	BasicAuthUser string
	BasicAuthPass string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		AppPort:             getEnv("APP_PORT", "9000"),
		PostgresDSN:         getEnv("POSTGRES_DSN", "host=localhost user=newsticker password=newsticker dbname=newsticker port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6380"),
		SeedFile:            getEnv("SEED_FILE", ""),
		FeedTimeout:         getDuration("FEED_TIMEOUT", 20*time.Second),
		FeedRetries:         getInt("FEED_RETRIES", 1),
		ContentTimeout:      getDuration("CONTENT_TIMEOUT", 10*time.Second),
		FetchWorkers:        getInt("FETCH_WORKERS", 4),
		Extractor:           strings.ToLower(getEnv("EXTRACTOR", "readability")),
		BrowserExtractorURL: getEnv("BROWSER_EXTRACTOR_URL", ""),
		StartupDelay:        getDuration("STARTUP_DELAY", 5*time.Second),
		BasicAuthUser:       getEnv("APP_BASIC_USER", ""),
		BasicAuthPass:       getEnv("APP_BASIC_PASS", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}

	SetupLogger(cfg.LogLevel, cfg.LogFormat)
	log.Printf("config loaded: port=%s extractor=%s workers=%d", cfg.AppPort, cfg.Extractor, cfg.FetchWorkers)
	return cfg
}

// SetupLogger 按配置设置 logrus 的级别与输出格式，非法级别回退到 info
func SetupLogger(level, format string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		log.Warnf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

// getDuration 同时支持 "15s" 形式和纯数字秒数
func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Warnf("config: invalid %s=%q, using %s", key, v, def)
	return def
}
