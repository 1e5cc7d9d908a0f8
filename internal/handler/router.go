package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/metrics"
	"github.com/hitoshi/linkhub/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なインターフェース。
// *sql.DB のPingContextを想定する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	// 認証・連携
	OAuthService OAuthServiceInterface
	AuthConfig   AuthHandlerConfig

	// チャンネル
	ChannelStore ChannelStoreInterface

	// サブスクリプション
	SubscriptionFinder SubscriptionFinderInterface
	MailboxLister      MailboxListerInterface

	// Webhook
	WebhookSecret    string
	WebhookProcessor WebhookProcessorInterface

	// メトリクス（nil可）
	Metrics metrics.MetricsCollector
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → (Session → CSRF → RateLimit)
//
// 認証ルート（/auth/*）、連携コールバック、Webhook、/healthは
// セッションチェーンの外に配置する。Webhookは署名で、コールバックはstateで
// それぞれ独自に認証される。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.OAuthService, deps.AuthConfig, deps.Metrics)
	channelHandler := NewChannelHandler(deps.ChannelStore)
	subHandler := NewSubscriptionHandler(deps.SubscriptionFinder, deps.MailboxLister)
	webhookHandler := NewWebhookHandler(deps.WebhookSecret, deps.WebhookProcessor, deps.Metrics)

	// --- 認証不要のルート ---

	// ヘルスチェック
	r.Get("/health", newHealthHandler(deps.HealthChecker))

	// 認証ルート（OAuthログインフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/{provider}/login", authHandler.Login)
		r.Get("/{provider}/callback", authHandler.LoginCallback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// 連携コールバック（ユーザーはstateで復元されるためセッション不要）
	r.Get("/connect/{provider}/callback", authHandler.ConnectCallback)

	// Webhook（署名で認証される）
	r.Post("/webhooks/billing", webhookHandler.HandleBillingWebhook)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 連携開始（専用レート制限を追加）
		r.With(deps.RateLimiter.ConnectMiddleware()).Get("/connect/{provider}", authHandler.Connect)

		// CSRFトークン取得
		r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		// チャンネル管理
		r.Route("/api/channels", func(r chi.Router) {
			r.Get("/", channelHandler.ListChannels)
			r.Delete("/{provider}", channelHandler.Disconnect)
		})

		// サブスクリプション参照
		r.Get("/api/subscription", subHandler.GetSubscription)
	})

	return r
}

// newHealthHandler はDB接続を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := checker.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
