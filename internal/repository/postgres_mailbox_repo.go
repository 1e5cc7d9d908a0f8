package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresMailboxRepo はPostgreSQLを使用したメールアドレスプールリポジトリ。
type PostgresMailboxRepo struct {
	db *sql.DB
}

// NewPostgresMailboxRepo はPostgresMailboxRepoを生成する。
func NewPostgresMailboxRepo(db *sql.DB) *PostgresMailboxRepo {
	return &PostgresMailboxRepo{db: db}
}

// CountAssignedBySubscription はサブスクリプションに割当済みのアドレス数を返す。
func (r *PostgresMailboxRepo) CountAssignedBySubscription(ctx context.Context, subscriptionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM mailboxes WHERE subscription_id = $1 AND status = 'assigned'`,
		subscriptionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assigned mailboxes: %w", err)
	}
	return count, nil
}

// AssignToSubscription はプールから未割当のアドレスをn件、排他的に割り当てる。
// FOR UPDATE SKIP LOCKEDにより並行実行しても同一アドレスを二重割当しない。
// 割り当てた件数を返す（プール枯渇時はn未満になり得る）。
func (r *PostgresMailboxRepo) AssignToSubscription(ctx context.Context, userID, subscriptionID string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE mailboxes SET
		   status          = 'assigned',
		   user_id         = $1,
		   subscription_id = $2,
		   assigned_at     = now()
		 WHERE id IN (
		   SELECT id FROM mailboxes
		   WHERE status = 'available'
		   ORDER BY created_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )`,
		userID, subscriptionID, n,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to assign mailboxes: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// ReleaseBySubscription はサブスクリプションに割当済みのアドレスを全てプールに返却する。
// 冪等: 割当が無い場合は0件返却で正常終了する。
func (r *PostgresMailboxRepo) ReleaseBySubscription(ctx context.Context, subscriptionID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE mailboxes SET
		   status          = 'available',
		   user_id         = NULL,
		   subscription_id = NULL,
		   assigned_at     = NULL
		 WHERE subscription_id = $1 AND status = 'assigned'`,
		subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to release mailboxes: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rowsAffected), nil
}

// ListByUserID はユーザーに割当済みのアドレス一覧を返す。
func (r *PostgresMailboxRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Mailbox, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, address, status, user_id, subscription_id, assigned_at, created_at
		 FROM mailboxes
		 WHERE user_id = $1 AND status = 'assigned'
		 ORDER BY assigned_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	defer rows.Close()

	var boxes []*model.Mailbox
	for rows.Next() {
		box := &model.Mailbox{}
		var userID, subID sql.NullString
		if err := rows.Scan(&box.ID, &box.Address, &box.Status, &userID, &subID, &box.AssignedAt, &box.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mailbox: %w", err)
		}
		if userID.Valid {
			box.UserID = &userID.String
		}
		if subID.Valid {
			box.SubscriptionID = &subID.String
		}
		boxes = append(boxes, box)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mailboxes: %w", err)
	}

	return boxes, nil
}

// compile-time interface check
var _ MailboxRepository = (*PostgresMailboxRepo)(nil)
