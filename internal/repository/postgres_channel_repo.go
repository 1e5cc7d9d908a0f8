package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/linkhub/internal/model"
)

// PostgresChannelCredentialRepo はPostgreSQLを使用したチャンネル連携リポジトリ。
type PostgresChannelCredentialRepo struct {
	db *sql.DB
}

// NewPostgresChannelCredentialRepo はPostgresChannelCredentialRepoを生成する。
func NewPostgresChannelCredentialRepo(db *sql.DB) *PostgresChannelCredentialRepo {
	return &PostgresChannelCredentialRepo{db: db}
}

// Upsert は(user_id, provider)をキーに連携情報を冪等に作成または上書きする。
// 再連携は既存レコードのトークン・表示情報を置き換え、statusをconnectedに戻す。
func (r *PostgresChannelCredentialRepo) Upsert(ctx context.Context, cred *model.ChannelCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channel_credentials
		 (id, user_id, provider, provider_account_id, display_name, avatar_url,
		  access_token, refresh_token, token_expires_at, status, last_synced_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   provider_account_id = EXCLUDED.provider_account_id,
		   display_name        = EXCLUDED.display_name,
		   avatar_url          = EXCLUDED.avatar_url,
		   access_token        = EXCLUDED.access_token,
		   refresh_token       = EXCLUDED.refresh_token,
		   token_expires_at    = EXCLUDED.token_expires_at,
		   status              = EXCLUDED.status,
		   last_synced_at      = EXCLUDED.last_synced_at,
		   updated_at          = EXCLUDED.updated_at`,
		cred.ID, cred.UserID, cred.Provider, cred.ProviderAccountID, cred.DisplayName, cred.AvatarURL,
		cred.AccessToken, cred.RefreshToken, cred.TokenExpiresAt, cred.Status, cred.LastSyncedAt,
		cred.CreatedAt, cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert channel credential: %w", err)
	}
	return nil
}

// FindByUserAndProvider はユーザーIDとプロバイダーで連携情報を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresChannelCredentialRepo) FindByUserAndProvider(ctx context.Context, userID string, provider model.Provider) (*model.ChannelCredential, error) {
	cred := &model.ChannelCredential{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_account_id, display_name, avatar_url,
		        access_token, refresh_token, token_expires_at, status, last_synced_at, created_at, updated_at
		 FROM channel_credentials
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider,
	).Scan(&cred.ID, &cred.UserID, &cred.Provider, &cred.ProviderAccountID, &cred.DisplayName, &cred.AvatarURL,
		&cred.AccessToken, &cred.RefreshToken, &cred.TokenExpiresAt, &cred.Status, &cred.LastSyncedAt,
		&cred.CreatedAt, &cred.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find channel credential: %w", err)
	}

	return cred, nil
}

// ListByUserID はユーザーの連携一覧を返す。
func (r *PostgresChannelCredentialRepo) ListByUserID(ctx context.Context, userID string) ([]*model.ChannelCredential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_account_id, display_name, avatar_url,
		        access_token, refresh_token, token_expires_at, status, last_synced_at, created_at, updated_at
		 FROM channel_credentials
		 WHERE user_id = $1
		 ORDER BY provider`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.ChannelCredential
	for rows.Next() {
		cred := &model.ChannelCredential{}
		if err := rows.Scan(&cred.ID, &cred.UserID, &cred.Provider, &cred.ProviderAccountID, &cred.DisplayName, &cred.AvatarURL,
			&cred.AccessToken, &cred.RefreshToken, &cred.TokenExpiresAt, &cred.Status, &cred.LastSyncedAt,
			&cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channel credentials: %w", err)
	}

	return creds, nil
}

// UpdateStatus は連携の状態を更新する（ソフト切断）。
// 該当レコードが存在しない場合はfalseを返す。
func (r *PostgresChannelCredentialRepo) UpdateStatus(ctx context.Context, userID string, provider model.Provider, status model.ChannelStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE channel_credentials
		 SET status = $3, updated_at = now()
		 WHERE user_id = $1 AND provider = $2`,
		userID, provider, status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update channel status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ ChannelCredentialRepository = (*PostgresChannelCredentialRepo)(nil)
