package model

import "time"

// Provider はOAuthプロバイダー種別を表す。
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderFacebook  Provider = "facebook"
	ProviderTwitter   Provider = "twitter"
	ProviderLinkedIn  Provider = "linkedin"
	ProviderMicrosoft Provider = "microsoft"
)

// ValidProvider は既知のプロバイダー名かどうかを判定する。
func ValidProvider(name string) bool {
	switch Provider(name) {
	case ProviderGoogle, ProviderFacebook, ProviderTwitter, ProviderLinkedIn, ProviderMicrosoft:
		return true
	default:
		return false
	}
}

// ChannelStatus はチャンネル連携の状態を表す。
type ChannelStatus string

const (
	ChannelConnected    ChannelStatus = "connected"
	ChannelDisconnected ChannelStatus = "disconnected"
)

// ChannelCredential はユーザーに紐付く外部チャンネルの連携情報を表す。
// (user_id, provider)ごとに1件のみ有効で、再連携は既存レコードを上書きする。
type ChannelCredential struct {
	ID                string
	UserID            string
	Provider          Provider
	ProviderAccountID string
	DisplayName       string
	AvatarURL         string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    *time.Time
	Status            ChannelStatus
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
