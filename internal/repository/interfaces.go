// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ChannelCredentialRepository は外部チャンネル連携情報の永続化インターフェース。
type ChannelCredentialRepository interface {
	// Upsert は(user_id, provider)をキーに連携情報を冪等に作成または上書きする。
	// 再連携は既存レコードのトークン・表示情報を置き換え、statusをconnectedに戻す。
	Upsert(ctx context.Context, cred *model.ChannelCredential) error

	// FindByUserAndProvider はユーザーIDとプロバイダーで連携情報を検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.ChannelCredential, error)

	// ListByUserID はユーザーの連携一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.ChannelCredential, error)

	// UpdateStatus は連携の状態を更新する（ソフト切断）。
	// 該当レコードが存在しない場合はfalseを返す。
	UpdateStatus(ctx context.Context, userID string, provider model.Provider, status model.ChannelStatus) (bool, error)
}

// SubscriptionRepository はサブスクリプションの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// FindByExternalID はプロバイダー側IDでサブスクリプションを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)

	// FindActiveByUserID はユーザーの最新のサブスクリプションを返す。
	// 見つからない場合はnilを返す。
	FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// Create はサブスクリプションを作成する（checkout開始時、status=pending）。
	Create(ctx context.Context, sub *model.Subscription) error

	// Update はサブスクリプションの状態・期間・イベント時刻を更新する。
	Update(ctx context.Context, sub *model.Subscription) error
}

// WebhookEventRepository は受信済みWebhookイベント台帳の永続化インターフェース。
type WebhookEventRepository interface {
	// InsertIfAbsent はイベントを台帳に記録する。
	// 既に同一event_idが存在する場合はfalseを返す（重複配信）。
	InsertIfAbsent(ctx context.Context, event *model.WebhookEvent) (bool, error)

	// MarkProcessed はイベントの処理完了時刻を記録する。
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error

	// DeleteByEventID はイベントを台帳から削除する。
	// 処理に失敗したイベントの再配信を受け付けるために使用する。
	DeleteByEventID(ctx context.Context, eventID string) error
}

// MailboxRepository はメールアドレスプールの永続化インターフェース。
type MailboxRepository interface {
	// CountAssignedBySubscription はサブスクリプションに割当済みのアドレス数を返す。
	CountAssignedBySubscription(ctx context.Context, subscriptionID string) (int, error)

	// AssignToSubscription はプールから未割当のアドレスをn件、排他的に割り当てる。
	// FOR UPDATE SKIP LOCKEDにより並行実行しても同一アドレスを二重割当しない。
	// 割り当てた件数を返す（プール枯渇時はn未満になり得る）。
	AssignToSubscription(ctx context.Context, userID, subscriptionID string, n int) (int, error)

	// ReleaseBySubscription はサブスクリプションに割当済みのアドレスを全てプールに返却する。
	// 冪等: 割当が無い場合は0件返却で正常終了する。
	ReleaseBySubscription(ctx context.Context, subscriptionID string) (int, error)

	// ListByUserID はユーザーに割当済みのアドレス一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Mailbox, error)
}
