// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/locallibrary/internal/author"
	"github.com/hitoshi/locallibrary/internal/config"
	"github.com/hitoshi/locallibrary/internal/database"
	"github.com/hitoshi/locallibrary/internal/handler"
	"github.com/hitoshi/locallibrary/internal/logger"
	"github.com/hitoshi/locallibrary/internal/metrics"
	"github.com/hitoshi/locallibrary/internal/middleware"
	"github.com/hitoshi/locallibrary/internal/repository"
	"github.com/hitoshi/locallibrary/internal/resilience"
	"github.com/hitoshi/locallibrary/internal/security"
	"github.com/hitoshi/locallibrary/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("driver", cfg.DatabaseDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve はDB接続を開き、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされるとサーバーを停止する。
func serve(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if cfg.DatabaseDriver == config.DriverPostgres {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. トレーシング
	if cfg.TracingEnabled {
		exporter, err := tracing.NewExporter(cfg.TracingExporter, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		shutdownTracing, err := tracing.Setup(cfg.ServiceName, exporter)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				slog.Warn("tracer shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	// 3. ルーターの構築
	reg := prometheus.NewRegistry()
	rateLimiter := middleware.NewRateLimiter(newRateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := newRouter(cfg, db, reg, rateLimiter)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newRateLimiterConfig は設定値からレート制限設定を組み立てる。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite)
	rlCfg.TrustedProxies = cfg.TrustedProxies
	return rlCfg
}

// newRouter はリポジトリ・サービス・メトリクスを組み立ててルーターを返す。
func newRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, rateLimiter *middleware.RateLimiter) http.Handler {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	breaker := resilience.New(resilience.DBConfig(cfg.DBBreakerTimeout))
	repo := repository.NewBreakerAuthorRepo(newAuthorRepository(cfg.DatabaseDriver, db), breaker)
	service := author.NewService(repo, security.NewInputSanitizer(), collector)

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		AuthorService:     service,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
	})
}

// newAuthorRepository はドライバに応じた著者リポジトリを返す。
func newAuthorRepository(driver string, db *sql.DB) repository.AuthorRepository {
	if driver == config.DriverSQLite {
		return repository.NewSQLiteAuthorRepo(db)
	}
	return repository.NewPostgresAuthorRepo(db)
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	return checkHealth(fmt.Sprintf("http://localhost:%s/health", port))
}

func checkHealth(healthURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(healthURL)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// スキームのないSQLiteのファイルパスはそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.Scheme == "" {
		return raw
	}
	return u.Redacted()
}
