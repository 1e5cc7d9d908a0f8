// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, billing, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUnknownProvider     = "UNKNOWN_PROVIDER"
	ErrCodeProviderDisabled    = "PROVIDER_DISABLED"
	ErrCodeChannelNotFound     = "CHANNEL_NOT_FOUND"
	ErrCodeSubscriptionMissing = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
)

// OAuthコールバックのリダイレクトに埋め込むエラーコード。
// ブラウザには不透明なコードのみを返し、詳細はサーバー側ログに残す。
const (
	OAuthErrProviderDenied      = "provider_denied"
	OAuthErrInvalidState        = "invalid_state"
	OAuthErrMissingCode         = "missing_code"
	OAuthErrTokenExchangeFailed = "token_exchange_failed"
	OAuthErrUserInfoFailed      = "userinfo_failed"
	OAuthErrAccountFailed       = "account_failed"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewUnknownProviderError は未知のプロバイダー名エラーを生成する。
func NewUnknownProviderError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("未対応のプロバイダーです: %s", name),
		Category: "validation",
		Action:   "google、facebook、twitter、linkedin、microsoftのいずれかを指定してください。",
	}
}

// NewProviderDisabledError は資格情報未設定のプロバイダーへのアクセスエラーを生成する。
func NewProviderDisabledError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderDisabled,
		Message:  fmt.Sprintf("このプロバイダーは現在利用できません: %s", name),
		Category: "system",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewChannelNotFoundError は連携チャンネル未検出エラーを生成する。
func NewChannelNotFoundError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeChannelNotFound,
		Message:  fmt.Sprintf("連携済みのチャンネルが見つかりません: %s", provider),
		Category: "validation",
		Action:   "チャンネル設定画面から連携状態を確認してください。",
	}
}

// NewSubscriptionNotFoundError はサブスクリプション未検出エラーを生成する。
func NewSubscriptionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionMissing,
		Message:  "有効なサブスクリプションが見つかりません。",
		Category: "billing",
		Action:   "プラン購入ページから契約を完了してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
