package model

import "time"

// SubscriptionStatus はサブスクリプションの状態を表す。
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription は決済プロバイダー上の継続課金をローカルに写像したレコード。
// checkout完了時に作成され、以後は検証済みWebhookイベントによってのみ更新される。
// 削除は行わず、statusの遷移のみで管理する。
type Subscription struct {
	ID                string
	UserID            string
	ExternalID        string // プロバイダー側のサブスクリプションID
	PriceID           string
	Status            SubscriptionStatus
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	MailboxQuantity   int
	// LastEventAt は最後に適用したWebhookイベントの発生時刻。
	// 順序保証のないWebhook配信に対する新旧判定に使用する。
	LastEventAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WebhookEvent は受信済みWebhookイベントの台帳レコード。
// event_idのユニーク制約により、再配信されたイベントの二重処理を防ぐ。
type WebhookEvent struct {
	ID          string
	EventID     string // プロバイダーのイベントID
	EventType   string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// MailboxStatus はプール内メールアドレスの状態を表す。
type MailboxStatus string

const (
	MailboxAvailable MailboxStatus = "available"
	MailboxAssigned  MailboxStatus = "assigned"
)

// Mailbox はプール管理される送信用メールアドレスを表す。
// サブスクリプションのactive化でユーザーに割り当てられ、
// 失効でプールに返却される。
type Mailbox struct {
	ID             string
	Address        string
	Status         MailboxStatus
	UserID         *string
	SubscriptionID *string
	AssignedAt     *time.Time
	CreatedAt      time.Time
}
