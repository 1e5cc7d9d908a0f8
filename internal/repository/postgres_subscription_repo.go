package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用したサブスクリプションリポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, external_id, price_id, status,
	period_start, period_end, cancel_at_period_end, mailbox_quantity, last_event_at,
	created_at, updated_at`

// scanSubscription は1行をmodel.Subscriptionに読み込む。
func scanSubscription(row interface{ Scan(...any) error }) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ExternalID, &sub.PriceID, &sub.Status,
		&sub.PeriodStart, &sub.PeriodEnd, &sub.CancelAtPeriodEnd, &sub.MailboxQuantity, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// FindByID は指定IDのサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by ID: %w", err)
	}
	return sub, nil
}

// FindByExternalID はプロバイダー側IDでサブスクリプションを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by external ID: %w", err)
	}
	return sub, nil
}

// FindActiveByUserID はユーザーの最新のサブスクリプションを返す。
// 見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by user ID: %w", err)
	}
	return sub, nil
}

// Create はサブスクリプションを作成する（checkout開始時、status=pending）。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		 (id, user_id, external_id, price_id, status, period_start, period_end,
		  cancel_at_period_end, mailbox_quantity, last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, sub.UserID, sub.ExternalID, sub.PriceID, sub.Status, sub.PeriodStart, sub.PeriodEnd,
		sub.CancelAtPeriodEnd, sub.MailboxQuantity, sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Update はサブスクリプションの状態・期間・イベント時刻を更新する。
func (r *PostgresSubscriptionRepo) Update(ctx context.Context, sub *model.Subscription) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		   external_id          = $2,
		   status               = $3,
		   period_start         = $4,
		   period_end           = $5,
		   cancel_at_period_end = $6,
		   mailbox_quantity     = $7,
		   last_event_at        = $8,
		   updated_at           = now()
		 WHERE id = $1`,
		sub.ID, sub.ExternalID, sub.Status, sub.PeriodStart, sub.PeriodEnd,
		sub.CancelAtPeriodEnd, sub.MailboxQuantity, sub.LastEventAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: %s", sub.ID)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
