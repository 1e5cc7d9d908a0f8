// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/auth"
	"github.com/hitoshi/linkhub/internal/metrics"
	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/model"
)

const sessionCookieName = middleware.SessionCookieName

// OAuthServiceInterface は認証・連携ハンドラーが必要とするサービスインターフェース。
type OAuthServiceInterface interface {
	BeginLogin(provider string) (string, error)
	BeginConnect(userID, provider string) (string, error)
	HandleLoginCallback(ctx context.Context, in auth.CallbackInput) (*model.Session, *auth.OAuthError)
	HandleConnectCallback(ctx context.Context, in auth.CallbackInput) (model.Provider, *auth.OAuthError)
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuthログイン・チャンネル連携のHTTPハンドラー。
type AuthHandler struct {
	service OAuthServiceInterface
	config  AuthHandlerConfig
	metrics metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。collectorはnil可。
func NewAuthHandler(service OAuthServiceInterface, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
		metrics: collector,
	}
}

// Login はOAuthログインフローを開始する。
// GET /auth/{provider}/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	url, err := h.service.BeginLogin(provider)
	if err != nil {
		h.writeBeginError(w, provider, err)
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// LoginCallback はログインコールバックを処理する。
// GET /auth/{provider}/callback
// 失敗時はエラーコードのみをクエリに載せてログイン画面へ戻す。
func (h *AuthHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	in := callbackInputFromRequest(r, provider)

	session, oerr := h.service.HandleLoginCallback(r.Context(), in)
	if oerr != nil {
		slog.Warn("login callback failed",
			slog.String("provider", provider),
			slog.String("code", oerr.Code),
			slog.String("error", oerr.Error()),
		)
		h.recordCallback(provider, oerr.Code)
		http.Redirect(w, r, h.config.BaseURL+"/login?error="+oerr.Code, http.StatusFound)
		return
	}

	// セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	h.recordCallback(provider, "success")
	http.Redirect(w, r, h.config.BaseURL+"/dashboard", http.StatusFound)
}

// Connect はチャンネル連携フローを開始する。
// GET /connect/{provider}（要セッション）
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	url, err := h.service.BeginConnect(userID, provider)
	if err != nil {
		h.writeBeginError(w, provider, err)
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// ConnectCallback はチャンネル連携コールバックを処理する。
// GET /connect/{provider}/callback
// 連携先ユーザーはstateに紐付いているため、セッション不要で処理できる。
func (h *AuthHandler) ConnectCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	in := callbackInputFromRequest(r, provider)

	connected, oerr := h.service.HandleConnectCallback(r.Context(), in)
	if oerr != nil {
		slog.Warn("connect callback failed",
			slog.String("provider", provider),
			slog.String("code", oerr.Code),
			slog.String("error", oerr.Error()),
		)
		h.recordCallback(provider, oerr.Code)
		http.Redirect(w, r, h.config.BaseURL+"/settings?error="+oerr.Code, http.StatusFound)
		return
	}

	h.recordCallback(provider, "success")
	http.Redirect(w, r, h.config.BaseURL+"/settings?connected="+string(connected), http.StatusFound)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	// セッションCookieをクリア
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"first_name": user.FirstName,
		"last_name":  user.LastName,
		"picture":    user.Picture,
	})
}

// writeBeginError はフロー開始時のエラーを書き込む。
func (h *AuthHandler) writeBeginError(w http.ResponseWriter, provider string, err error) {
	var apiErr *model.APIError
	if e, ok := err.(*model.APIError); ok {
		apiErr = e
		status := http.StatusBadRequest
		if e.Code == model.ErrCodeProviderDisabled {
			status = http.StatusServiceUnavailable
		}
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	slog.Error("failed to begin oauth flow",
		slog.String("provider", provider),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// recordCallback はコールバック結果のメトリクスを記録する。
func (h *AuthHandler) recordCallback(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordOAuthCallback(provider, outcome)
	}
}

// callbackInputFromRequest はコールバックのクエリパラメータを取り出す。
func callbackInputFromRequest(r *http.Request, provider string) auth.CallbackInput {
	q := r.URL.Query()
	return auth.CallbackInput{
		Provider:   provider,
		State:      q.Get("state"),
		Code:       q.Get("code"),
		ErrorParam: q.Get("error"),
	}
}
