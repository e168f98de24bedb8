package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/ghosted/internal/application"
	"github.com/hitoshi/ghosted/internal/auth"
	"github.com/hitoshi/ghosted/internal/config"
	"github.com/hitoshi/ghosted/internal/cv"
	"github.com/hitoshi/ghosted/internal/database"
	"github.com/hitoshi/ghosted/internal/handler"
	"github.com/hitoshi/ghosted/internal/logger"
	"github.com/hitoshi/ghosted/internal/mailer"
	"github.com/hitoshi/ghosted/internal/metrics"
	"github.com/hitoshi/ghosted/internal/middleware"
	"github.com/hitoshi/ghosted/internal/repository"
	"github.com/hitoshi/ghosted/internal/storage"
	"github.com/hitoshi/ghosted/internal/worker/nudge"
)

// dbConnectTimeout は起動時のDB疎通確認のタイムアウト。
const dbConnectTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// カレントディレクトリに.envがあれば読み込み、環境変数からConfigを読み込んで
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envの読み込み（既に設定済みの環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再セットアップ
	logger.SetupDefault(w, cfg.LogLevel)

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
		slog.String("app_url", cfg.AppURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandNotify:
		return runNotify(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	appRepo := repository.NewPostgresApplicationRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 認証（Supabase発行のJWTをJWKSで検証）
	httpClient := &http.Client{Timeout: 10 * time.Second}
	keys := auth.NewKeySetCache(auth.KeySetConfig{
		URL:              cfg.JWKSURL,
		MaxAge:           cfg.JWKSMaxAge,
		RefreshPerMinute: cfg.JWKSRefreshPerMinute,
		HTTPClient:       httpClient,
		Logger:           slog.Default(),
		Metrics:          collector,
	})
	verifier := auth.NewVerifier(keys, auth.VerifierConfig{
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Algorithms: cfg.JWTAlgorithms,
	})

	// 5. ドメインサービスの初期化
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}
	cvService := cv.NewService(appRepo, store, slog.Default())
	appService := application.NewService(appRepo, userRepo, store, cvService, slog.Default())

	// 6. レート制限
	limiter, closeLimiter, err := newLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// 7. 催促メールの手動トリガー（メール送信が設定されている場合のみ）
	var nudgeRunner handler.NudgeRunner
	if cfg.RequireMailer() == nil {
		job, err := newNudgeJob(cfg, db, collector)
		if err != nil {
			return err
		}
		nudgeRunner = job
	} else {
		slog.Warn("nudge trigger disabled: mailer is not configured")
	}

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		TokenVerifier:      verifier,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		HTTPMetrics:        collector,

		ApplicationService: appService,
		CVService:          cvService,

		NudgeRunner:        nudgeRunner,
		NudgeTriggerSecret: cfg.NudgeTriggerSecret,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
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
// 催促メールのバッチをNUDGE_INTERVAL間隔で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if err := cfg.RequireMailer(); err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := newNudgeJob(cfg, db, nil)
	if err != nil {
		return err
	}
	scheduler := nudge.NewScheduler(job, slog.Default())

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
		slog.Duration("nudge_interval", cfg.NudgeInterval),
		slog.Duration("stale_after", cfg.NudgeStaleAfter),
		slog.Int("max_concurrency", cfg.NudgeMaxConcurrency),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.NudgeInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runNotify は催促メールのバッチを1回だけ実行して終了する。
func runNotify(cfg *config.Config) error {
	if err := cfg.RequireMailer(); err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	job, err := newNudgeJob(cfg, db, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("nudge run failed: %w", err)
	}

	slog.Info("nudge run finished",
		slog.Int("candidates", result.Candidates),
		slog.Int("emailed_users", result.EmailedUsers),
		slog.Int("failed_users", result.FailedUsers),
		slog.Int64("updated_apps", result.UpdatedApps),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
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

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig(), dbConnectTimeout)
	if err != nil {
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// newBlobStore は履歴書保存用のS3互換ストレージを生成する。
func newBlobStore(cfg *config.Config) (*storage.S3Store, error) {
	store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:  cfg.StorageS3Endpoint,
		Region:    cfg.StorageS3Region,
		AccessKey: cfg.StorageS3AccessKey,
		SecretKey: cfg.StorageS3SecretKey,
		Bucket:    cfg.StorageBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return store, nil
}

// newLimiter はレート制限のバックエンドを生成する。
// REDIS_URLが設定されていればRedis、未設定ならプロセス内メモリを使用する。
// 戻り値の関数で後始末を行う。
func newLimiter(cfg *config.Config) (middleware.Limiter, func(), error) {
	rlCfg := middleware.RateLimitConfig{
		Requests:        cfg.RateLimitRequests,
		Window:          cfg.RateLimitWindow,
		CleanupInterval: cfg.RateLimitWindow,
	}

	if cfg.RedisURL == "" {
		limiter := middleware.NewMemoryLimiter(rlCfg)
		return limiter, limiter.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	slog.Info("rate limiter backed by redis", slog.String("addr", opts.Addr))

	closeFn := func() {
		if err := client.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	return middleware.NewRedisLimiter(client, rlCfg, slog.Default()), closeFn, nil
}

// newUserFinder は催促メールの宛先解決に使うUserFinderを選ぶ。
// service roleキーがあればSupabase Admin API、なければusersテーブルを参照する。
func newUserFinder(cfg *config.Config, db *sql.DB) nudge.UserFinder {
	if cfg.SupabaseServiceRoleKey != "" {
		return auth.NewAdminClient(
			&http.Client{Timeout: 10 * time.Second},
			slog.Default(),
			cfg.SupabaseURL,
			cfg.SupabaseServiceRoleKey,
		)
	}
	return repository.NewPostgresUserRepo(db)
}

// newNudgeJob は催促メールのバッチジョブを組み立てる。
// recがnilの場合はメトリクスを記録しない。
func newNudgeJob(cfg *config.Config, db *sql.DB, rec nudge.Recorder) (*nudge.Job, error) {
	m, err := mailer.NewResendMailer(mailer.ResendConfig{
		APIKey: cfg.ResendAPIKey,
		From:   cfg.EmailFrom(),
		Client: &http.Client{Timeout: 15 * time.Second},
		Logger: slog.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}

	return nudge.NewJob(
		repository.NewPostgresApplicationRepo(db),
		newUserFinder(cfg, db),
		m,
		nudge.Config{
			StaleAfter:     cfg.NudgeStaleAfter,
			Cooldown:       cfg.NudgeCooldown,
			AppURL:         cfg.AppURL,
			MaxConcurrency: cfg.NudgeMaxConcurrency,
		},
		slog.Default(),
		rec,
	), nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
