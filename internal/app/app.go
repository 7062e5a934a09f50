package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/accountcore/internal/auth"
	"github.com/hitoshi/accountcore/internal/cache"
	"github.com/hitoshi/accountcore/internal/config"
	"github.com/hitoshi/accountcore/internal/database"
	"github.com/hitoshi/accountcore/internal/handler"
	"github.com/hitoshi/accountcore/internal/logger"
	"github.com/hitoshi/accountcore/internal/metrics"
	"github.com/hitoshi/accountcore/internal/middleware"
	"github.com/hitoshi/accountcore/internal/model"
	"github.com/hitoshi/accountcore/internal/notify"
	"github.com/hitoshi/accountcore/internal/repository"
	"github.com/hitoshi/accountcore/internal/security"
	"github.com/hitoshi/accountcore/internal/session"
	"github.com/hitoshi/accountcore/internal/token"
	"github.com/hitoshi/accountcore/internal/user"
	"github.com/hitoshi/accountcore/internal/worker/sweep"
)

const (
	providerHTTPTimeout = 10 * time.Second
	shutdownTimeout     = 30 * time.Second
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

	// 3. 設定されたログレベルを反映する（Loadで検証済み）
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger.SetLevel(level)

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// rateLimiterConfig は設定値（req/min）からレート制限設定（req/sec）を組み立てる。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlCfg.GeneralBurst = cfg.RateLimitGeneral
	rlCfg.CredentialRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rlCfg.CredentialBurst = cfg.RateLimitLogin
	return rlCfg
}

// newRegistry はプロセスメトリクスを含むPrometheusレジストリとCollectorを生成する。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// openCache はRedisに接続し、疎通を確認する。
func openCache(ctx context.Context, cfg *config.Config) (*cache.RedisCache, error) {
	redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache client: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("failed to connect to cache: %w", err)
	}
	return redisCache, nil
}

// runServe はAPIサーバーモードで起動する。
// DB・キャッシュ接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. キャッシュ接続
	redisCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	slog.Info("cache connection established")

	// 3. メトリクス
	reg, collector := newRegistry()

	// 4. トークン・セッション台帳
	issuer, err := token.NewIssuer(token.Config{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Lifetime:   cfg.JWTLifetime(),
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	sessionStore := session.NewStore(redisCache, slog.Default())

	// 5. 通知（Redis Streamsへ非同期に送出）
	notifier := notify.NewAsyncNotifier(
		notify.NewRedisStreamPublisher(redisCache.Client(), cfg.NotifyStream),
		cfg.NotifyBuffer,
		slog.Default(),
		notify.WithFailureHandler(func(t model.NotificationType) {
			collector.RecordNotificationDropped(string(t))
		}),
	)

	// 6. ドメインサービスの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	authService, err := auth.NewService(
		accountRepo, issuer, sessionStore, redisCache, notifier,
		auth.ServiceConfig{
			ResetTokenTTL: cfg.ResetTokenTTL,
			BcryptCost:    cfg.BcryptCost,
		},
		auth.WithMetrics(collector),
		auth.WithLogger(slog.Default()),
	)
	if err != nil {
		return fmt.Errorf("failed to create auth service: %w", err)
	}

	urlGuard := security.NewURLGuard()
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   urlGuard.NewSafeClient(providerHTTPTimeout),
	})
	linker := auth.NewLinker(authService, oauthProvider, security.NewProfileSanitizer(), urlGuard)

	userService := user.NewService(accountRepo, authService)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		TokenValidator:     authService,
		StatusRecorder:     collector,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rateLimiter,

		AuthService:      authService,
		FederatedService: linker,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		SessionService: authService,
		UserService:    userService,

		HealthChecks: map[string]handler.HealthCheck{
			"database": db.PingContext,
			"cache":    redisCache.Ping,
		},
		MetricsHandler: metrics.Handler(reg),
	})

	// 8. HTTPサーバーの起動
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

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// キューに残った通知を送出し終えてから終了する
	if err := notifier.Close(shutdownCtx); err != nil {
		slog.Warn("notifier did not drain before shutdown", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// キャッシュに接続し、セッション索引の清掃ジョブを定期実行する。
// /metricsでジョブのメトリクスを公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. キャッシュ接続
	redisCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	slog.Info("cache connection established (worker)")

	// 2. メトリクス
	reg, collector := newRegistry()
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()

	// 3. 清掃ジョブ
	sweepJob := sweep.NewJob(session.NewStore(redisCache, slog.Default()), collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)

	// 清掃ジョブをメインgoroutineで実行（ブロッキング）
	sweepJob.Start(ctx, cfg.SweepInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
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
