package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresWebhookEventRepo はPostgreSQLを使用したWebhookイベント台帳リポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// InsertIfAbsent はイベントを台帳に記録する。
// 既に同一event_idが存在する場合はfalseを返す（重複配信）。
// ON CONFLICT DO NOTHINGにより並行配信でも高々1回だけtrueになる。
func (r *PostgresWebhookEventRepo) InsertIfAbsent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, event_id, event_type, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.ID, event.EventID, event.EventType, event.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkProcessed はイベントの処理完了時刻を記録する。
func (r *PostgresWebhookEventRepo) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = $2 WHERE event_id = $1`,
		eventID, processedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

// DeleteByEventID はイベントを台帳から削除する。
// 処理途中で失敗したイベントの再配信を受け付けるために使用する。
func (r *PostgresWebhookEventRepo) DeleteByEventID(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_events WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete webhook event: %w", err)
	}
	return nil
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
