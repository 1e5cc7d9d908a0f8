// Package mailbox はプール方式のメールアドレス割り当てを提供する。
package mailbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/linkhub/internal/metrics"
	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// Service はサブスクリプションに対するアドレスの割り当てと返却を行う。
// 割り当ては数量到達を条件とした差分方式で、同一イベントの再処理や
// 再配信に対して冪等になる。
type Service struct {
	mailboxes repository.MailboxRepository
	metrics   metrics.MetricsCollector
}

// NewService はServiceを生成する。metricsはnil可。
func NewService(mailboxes repository.MailboxRepository, collector metrics.MetricsCollector) *Service {
	return &Service{mailboxes: mailboxes, metrics: collector}
}

// Provision はサブスクリプションの割当数がquantityに達するまで
// プールからアドレスを割り当てる。新規に割り当てた件数を返す。
// 既に数量分割当済みの場合は何もしない。
func (s *Service) Provision(ctx context.Context, userID, subscriptionID string, quantity int) (int, error) {
	assigned, err := s.mailboxes.CountAssignedBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("failed to count assigned mailboxes: %w", err)
	}

	needed := quantity - assigned
	if needed <= 0 {
		return 0, nil
	}

	got, err := s.mailboxes.AssignToSubscription(ctx, userID, subscriptionID, needed)
	if err != nil {
		return 0, fmt.Errorf("failed to assign mailboxes: %w", err)
	}

	if got < needed {
		// プール枯渇。割当できた分はそのまま有効にし、運用で補充する
		slog.Warn("mailbox pool exhausted",
			"subscription_id", subscriptionID,
			"requested", needed,
			"assigned", got,
		)
	}

	if s.metrics != nil && got > 0 {
		s.metrics.RecordMailboxesProvisioned(got)
	}
	return got, nil
}

// Deprovision はサブスクリプションに割当済みのアドレスを全て返却する。
// 返却した件数を返す。割当が無い場合は0件で正常終了する。
func (s *Service) Deprovision(ctx context.Context, subscriptionID string) (int, error) {
	released, err := s.mailboxes.ReleaseBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release mailboxes: %w", err)
	}
	if s.metrics != nil && released > 0 {
		s.metrics.RecordMailboxesReleased(released)
	}
	return released, nil
}

// ListByUser はユーザーに割当済みのアドレス一覧を返す。
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.Mailbox, error) {
	boxes, err := s.mailboxes.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}
	return boxes, nil
}
