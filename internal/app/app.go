package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/domainwatch/internal/analysis"
	"github.com/hitoshi/domainwatch/internal/config"
	"github.com/hitoshi/domainwatch/internal/database"
	"github.com/hitoshi/domainwatch/internal/dispatch"
	"github.com/hitoshi/domainwatch/internal/handler"
	"github.com/hitoshi/domainwatch/internal/logger"
	"github.com/hitoshi/domainwatch/internal/metrics"
	"github.com/hitoshi/domainwatch/internal/middleware"
	"github.com/hitoshi/domainwatch/internal/model"
	"github.com/hitoshi/domainwatch/internal/queue"
	"github.com/hitoshi/domainwatch/internal/repository"
	"github.com/hitoshi/domainwatch/internal/security"
	analyzepkg "github.com/hitoshi/domainwatch/internal/worker/analyze"
	"github.com/hitoshi/domainwatch/internal/worker/sweep"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSweep:
		return runSweepOnce(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	domainRepo := repository.NewPostgresDomainRepo(db)
	logRepo := repository.NewPostgresRequestLogRepo(db)

	// 3. プライマリキュー（投入専用。消費はワーカープロセスが行う）
	primary := queue.NewPostgresQueue(db, model.QueueAnalyze, queue.PostgresConfig{
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryDelay:   cfg.QueueRetryDelay,
		PollInterval: cfg.QueuePollInterval,
		Visibility:   cfg.QueueVisibility,
	}, slog.Default())

	// 4. ディスパッチャー
	dispatcher := dispatch.NewDispatcher(domainRepo, primary, slog.Default())

	// 5. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitPerMin) / 60.0),
		Burst:           cfg.RateLimitPerMin,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		RateLimiter:    rateLimiter,
		Collector:      collector,
		Logger:         slog.Default(),
		Dispatcher:     dispatcher,
		RequestLogRepo: logRepo,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、分析ワーカープールとスイープスケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとキューの初期化
	domainRepo := repository.NewPostgresDomainRepo(db)

	queueCfg := queue.PostgresConfig{
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryDelay:   cfg.QueueRetryDelay,
		PollInterval: cfg.QueuePollInterval,
		Visibility:   cfg.QueueVisibility,
	}
	primary := queue.NewPostgresQueue(db, model.QueueAnalyze, queueCfg, slog.Default())
	secondary := queue.NewPostgresQueue(db, model.QueueFailedAnalyze, queueCfg, slog.Default())

	// 3. 外部ルックアップクライアントの初期化
	// ベースURLは運用者の設定値のため、起動時にSSRF検証を行う
	ssrfGuard := security.NewSSRFGuard()
	for _, baseURL := range []string{cfg.ThreatAPIURL, cfg.RegistrationAPIURL} {
		if baseURL == "" {
			continue
		}
		if err := ssrfGuard.ValidateURL(baseURL); err != nil {
			return fmt.Errorf("lookup API URL validation failed: %w", err)
		}
	}

	// クライアントのタイムアウトは試行単位で適用されるため、
	// タイムアウトした試行もローカルリトライの対象になる
	httpClient := ssrfGuard.NewSafeClient(cfg.AnalyzeTimeout)
	retryCfg := analysis.RetryConfig{
		MaxAttempts: cfg.AnalyzeMaxRetries,
		DelayUnit:   cfg.AnalyzeRetryUnit,
		Timeout:     cfg.AnalyzeTimeout,
	}
	threatClient := analysis.NewThreatClient(httpClient, cfg.ThreatAPIURL, cfg.ThreatAPIKey, slog.Default(), retryCfg)
	registrationClient := analysis.NewRegistrationClient(httpClient, cfg.RegistrationAPIURL, cfg.RegistrationAPIKey, slog.Default(), retryCfg)
	analyzer := analysis.NewAnalyzer(threatClient, registrationClient, slog.Default())

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. ワーカープールとスイーパーの初期化
	pool := analyzepkg.NewPool(
		primary, secondary, analyzer, domainRepo,
		collector, slog.Default(), cfg.JobConcurrency,
	)
	sweeper := sweep.NewSweeper(
		domainRepo, primary, collector, slog.Default(),
		cfg.SweepBatchSize, cfg.RetentionWindow,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("concurrency", cfg.JobConcurrency),
		slog.String("sweep_schedule", cfg.SweepSchedule),
	)

	// 運用エンドポイント（/health, /metrics）をバックグラウンドで公開
	opsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: newOpsHandler(db, reg),
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		opsServer.Shutdown(shutdownCtx)
	}()

	// スイープスケジューラをバックグラウンドで起動
	go func() {
		if err := sweeper.Start(ctx, cfg.SweepSchedule); err != nil {
			slog.Error("sweep scheduler failed", slog.String("error", err.Error()))
		}
	}()

	// ワーカープールをメインgoroutineで実行（ブロッキング）
	pool.Run(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// newOpsHandler はワーカープロセスの運用エンドポイントを構成する。
func newOpsHandler(db handler.HealthChecker, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// runSweepOnce はスイープを1回だけ実行して終了する。
// 定期実行を待たずに手動で鮮度維持を行うための運用コマンド。
func runSweepOnce(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	domainRepo := repository.NewPostgresDomainRepo(db)
	primary := queue.NewPostgresQueue(db, model.QueueAnalyze, queue.PostgresConfig{
		MaxAttempts:  cfg.QueueMaxAttempts,
		RetryDelay:   cfg.QueueRetryDelay,
		PollInterval: cfg.QueuePollInterval,
		Visibility:   cfg.QueueVisibility,
	}, slog.Default())

	sweeper := sweep.NewSweeper(
		domainRepo, primary, metrics.Noop{}, slog.Default(),
		cfg.SweepBatchSize, cfg.RetentionWindow,
	)

	enqueued, err := sweeper.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	slog.Info("manual sweep completed", slog.Int("enqueued_count", enqueued))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
