// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/linkhub/internal/auth"
	"github.com/hitoshi/linkhub/internal/billing"
	"github.com/hitoshi/linkhub/internal/config"
	"github.com/hitoshi/linkhub/internal/database"
	"github.com/hitoshi/linkhub/internal/handler"
	"github.com/hitoshi/linkhub/internal/logger"
	"github.com/hitoshi/linkhub/internal/mailbox"
	"github.com/hitoshi/linkhub/internal/metrics"
	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/repository"
	"github.com/hitoshi/linkhub/internal/security"
	"github.com/hitoshi/linkhub/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envファイル（存在する場合）と環境変数からConfigを読み込み、
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. ローカル開発用の.envを読み込む。本番では存在しないため無視する
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env file")
	}

	// 3. 環境変数から設定を読み込む
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

// buildProviders は設定済みの資格情報からプロバイダーを構築する。
// ログインと連携でコールバックURLが異なるため、フローごとに別インスタンスを返す。
// client idが未設定のプロバイダーは登録されず、該当ルートは503を返す。
// トークン交換・ユーザー情報取得は全てhttpClient（タイムアウト付き）で行う。
func buildProviders(cfg *config.Config, httpClient *http.Client) (login, connect []auth.Provider) {
	loginRedirect := func(name string) string {
		return cfg.OAuthRedirectBase + "/auth/" + name + "/callback"
	}
	connectRedirect := func(name string) string {
		return cfg.OAuthRedirectBase + "/connect/" + name + "/callback"
	}

	// Googleはidentityプロバイダー兼チャンネルプロバイダー
	login = append(login, auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  loginRedirect("google"),
		HTTPClient:   httpClient,
	}))
	connect = append(connect, auth.NewGoogleProvider(auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  connectRedirect("google"),
		HTTPClient:   httpClient,
	}))

	if cfg.FacebookClientID != "" {
		connect = append(connect, auth.NewFacebookProvider(auth.FacebookConfig{
			ClientID:     cfg.FacebookClientID,
			ClientSecret: cfg.FacebookClientSecret,
			RedirectURL:  connectRedirect("facebook"),
			HTTPClient:   httpClient,
		}))
	}
	if cfg.TwitterClientID != "" {
		connect = append(connect, auth.NewTwitterProvider(auth.TwitterConfig{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			RedirectURL:  connectRedirect("twitter"),
			HTTPClient:   httpClient,
		}))
	}
	if cfg.LinkedInClientID != "" {
		connect = append(connect, auth.NewLinkedInProvider(auth.LinkedInConfig{
			ClientID:     cfg.LinkedInClientID,
			ClientSecret: cfg.LinkedInClientSecret,
			RedirectURL:  connectRedirect("linkedin"),
			HTTPClient:   httpClient,
		}))
	}
	if cfg.MicrosoftClientID != "" {
		connect = append(connect, auth.NewMicrosoftProvider(auth.MicrosoftConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  connectRedirect("microsoft"),
			HTTPClient:   httpClient,
		}))
	}

	return login, connect
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
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	channelRepo := repository.NewPostgresChannelCredentialRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	eventRepo := repository.NewPostgresWebhookEventRepo(db)
	mailboxRepo := repository.NewPostgresMailboxRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewProfileSanitizer()

	// 5. OAuth連携サービスの初期化
	stateStore := auth.NewMemoryStateStore(cfg.StateTTL)
	defer stateStore.Stop()

	// 外部API呼び出しは全てタイムアウト付きクライアントで行う
	outbound := &http.Client{Timeout: cfg.OutboundTimeout}

	loginProviders, connectProviders := buildProviders(cfg, outbound)
	authService := auth.NewService(auth.ServiceConfig{
		LoginProviders:   loginProviders,
		ConnectProviders: connectProviders,
		States:           stateStore,
		Users:            userRepo,
		Identities:       identRepo,
		Sessions:         sessionRepo,
		Channels:         channelRepo,
		Sanitizer:        sanitizer,
		Avatars:          auth.NewAvatarChecker(ssrfGuard, cfg.OutboundTimeout),
		SessionMaxAge:    time.Duration(cfg.SessionMaxAge) * time.Second,
	})

	// 6. 課金サービスの初期化
	mailboxService := mailbox.NewService(mailboxRepo, collector)
	billingClient := billing.NewClient(cfg.BillingAPIBase, cfg.BillingAPIKey, outbound)
	billingService := billing.NewService(subRepo, eventRepo, mailboxService, billingClient)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitConnect))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		HealthChecker:     db,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		OAuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ChannelStore:       channelRepo,
		SubscriptionFinder: subRepo,
		MailboxLister:      mailboxService,

		WebhookSecret:    cfg.BillingWebhookSecret,
		WebhookProcessor: billingService,

		Metrics: collector,
	}

	router := handler.NewRouter(deps)

	// 8. メトリクスサーバーの起動（別ポート、外部非公開）
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// 9. HTTPサーバーの起動
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
	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、クリーンアップジョブを日次実行する。
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

	// 2. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())
	cleanupJob.RetentionDays = cfg.WebhookRetentionDays

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
		slog.Int("webhook_retention_days", cfg.WebhookRetentionDays),
	)

	// 起動直後に1回実行し、以後は日次で実行する
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
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
