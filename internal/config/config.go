package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// サポートするデータベースドライバ
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// サポートするトレースエクスポーター
const (
	TracingExporterNone   = "none"
	TracingExporterStdout = "stdout"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string
	DatabaseDriver   string
	DBMaxOpenConns   int
	DBBreakerTimeout time.Duration

	// Rate Limit（req/min/client）
	RateLimitGeneral int
	RateLimitWrite   int
	// X-Forwarded-Forを信頼するリバースプロキシのアドレス範囲
	TrustedProxies []netip.Prefix

	// Logging
	LogLevel string

	// Tracing
	TracingEnabled  bool
	TracingExporter string
	ServiceName     string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.DatabaseDriver = getEnvString("DATABASE_DRIVER", DriverPostgres)
	if cfg.DatabaseDriver != DriverPostgres && cfg.DatabaseDriver != DriverSQLite {
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %q", cfg.DatabaseDriver)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBBreakerTimeout = getEnvDuration("DB_BREAKER_TIMEOUT", 30*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	if cfg.RateLimitGeneral <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_GENERAL must be positive: %d", cfg.RateLimitGeneral)
	}
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 10)
	if cfg.RateLimitWrite <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_WRITE must be positive: %d", cfg.RateLimitWrite)
	}

	proxies, err := parseTrustedProxies(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, err
	}
	cfg.TrustedProxies = proxies

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.TracingExporter = getEnvString("TRACING_EXPORTER", TracingExporterStdout)
	if cfg.TracingExporter != TracingExporterNone && cfg.TracingExporter != TracingExporterStdout {
		return nil, fmt.Errorf("unsupported TRACING_EXPORTER: %q", cfg.TracingExporter)
	}
	cfg.ServiceName = getEnvString("SERVICE_NAME", "locallibrary")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// parseTrustedProxies はカンマ区切りのIPアドレスまたはCIDRを解析する。
// 単一アドレスはそのアドレスのみを含むプレフィックスとして扱う。
func parseTrustedProxies(v string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, field := range strings.Split(v, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		if strings.Contains(field, "/") {
			p, err := netip.ParsePrefix(field)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", field, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", field, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
