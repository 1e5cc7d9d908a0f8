// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 期限切れセッションと、保持期間（デフォルト90日）を超過した
// Webhookイベント台帳を日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れセッションと古いWebhookイベントの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // Webhookイベント台帳の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は期限切れセッションと古いWebhookイベントを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
// 台帳の削除対象は保持期間より古いものに限られるため、
// 直近イベントの重複排除には影響しない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessionsDeleted, err := j.exec(ctx,
		`DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	eventsDeleted, err := j.exec(ctx,
		`DELETE FROM webhook_events WHERE received_at < now() - $1::interval`, interval)
	if err != nil {
		j.logger.Error("Webhookイベントクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("Webhookイベントクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int64("webhook_events_deleted", eventsDeleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// exec はDELETE文を実行し、削除件数を返す。
func (j *CleanupJob) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}
