package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
)

// 処理対象のイベント種別。
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentFailed       = "invoice.payment_failed"
)

// checkoutセッションのmetadataに埋め込まれるキー。
// sub_idはローカルサブスクリプションIDの突き合わせに必須。
// user_id/price_idはレコードが未作成の場合の新規作成に使用する。
const (
	subscriptionMetadataKey = "linkhub_sub_id"
	userMetadataKey         = "linkhub_user_id"
	priceMetadataKey        = "linkhub_price_id"
)

// Outcome はイベント処理の結果分類。メトリクスとログに使用する。
type Outcome string

const (
	// OutcomeProcessed はイベントが状態変更を伴って処理されたことを表す。
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate は既に処理済みのイベントの再配信を表す。
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored は対象外・未知・古いイベントの受領のみを表す。
	OutcomeIgnored Outcome = "ignored"
)

// ErrMalformedEvent はペイロードがイベントとして解釈できない場合のエラー。
var ErrMalformedEvent = fmt.Errorf("malformed webhook event")

// Result はイベント処理の結果。
type Result struct {
	EventType string
	Outcome   Outcome
}

// event はWebhookペイロードの外形。
type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"` // unix秒
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// checkoutSession はcheckout.session.completedイベントのオブジェクト。
type checkoutSession struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

// subscriptionObject はsubscription系イベントのオブジェクト。
type subscriptionObject struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
}

// invoiceObject はinvoice系イベントのオブジェクト。
type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
}

// Provisioner はサブスクリプションに対するメールアドレスの
// 割り当てと返却を行うインターフェース。
type Provisioner interface {
	// Provision はサブスクリプションの数量に達するまでアドレスを割り当てる。
	// 冪等: 既に数量分割当済みなら何もしない。新規割当数を返す。
	Provision(ctx context.Context, userID, subscriptionID string, quantity int) (int, error)
	// Deprovision はサブスクリプションの割当を全て返却する。冪等。
	Deprovision(ctx context.Context, subscriptionID string) (int, error)
}

// Service は検証済みWebhookイベントをサブスクリプション状態に反映する。
// イベントは重複・順序逆転・再配信があり得る前提で、全ての処理を冪等に行う。
type Service struct {
	subs        repository.SubscriptionRepository
	events      repository.WebhookEventRepository
	provisioner Provisioner
	client      *Client
}

// NewService はServiceを生成する。
func NewService(
	subs repository.SubscriptionRepository,
	events repository.WebhookEventRepository,
	provisioner Provisioner,
	client *Client,
) *Service {
	return &Service{
		subs:        subs,
		events:      events,
		provisioner: provisioner,
		client:      client,
	}
}

// HandleEvent は署名検証済みのWebhookペイロードを処理する。
// event_idの台帳記録により重複配信は高々1回の効果に抑えられる。
// 処理に失敗した場合は台帳から削除し、プロバイダーの再配信でやり直せるようにする。
func (s *Service) HandleEvent(ctx context.Context, payload []byte) (*Result, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}

	inserted, err := s.events.InsertIfAbsent(ctx, &model.WebhookEvent{
		ID:         uuid.New().String(),
		EventID:    ev.ID,
		EventType:  ev.Type,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !inserted {
		slog.Info("duplicate webhook event ignored", "event_id", ev.ID, "event_type", ev.Type)
		return &Result{EventType: ev.Type, Outcome: OutcomeDuplicate}, nil
	}

	outcome, err := s.dispatch(ctx, &ev)
	if err != nil {
		// 再配信で処理し直せるよう台帳から取り除く
		if delErr := s.events.DeleteByEventID(ctx, ev.ID); delErr != nil {
			slog.Error("failed to unrecord webhook event", "event_id", ev.ID, "error", delErr)
		}
		return nil, err
	}

	if err := s.events.MarkProcessed(ctx, ev.ID, time.Now()); err != nil {
		slog.Error("failed to mark webhook event processed", "event_id", ev.ID, "error", err)
	}

	return &Result{EventType: ev.Type, Outcome: outcome}, nil
}

// dispatch はイベント種別ごとの処理に振り分ける。
// 未知の種別は受領のみとし、将来のイベント追加でエラーにならないようにする。
func (s *Service) dispatch(ctx context.Context, ev *event) (Outcome, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	case EventSubscriptionUpdated:
		return s.handleSubscriptionUpdated(ctx, ev)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case EventPaymentFailed:
		return s.handlePaymentFailed(ctx, ev)
	default:
		slog.Info("unhandled webhook event type", "event_id", ev.ID, "event_type", ev.Type)
		return OutcomeIgnored, nil
	}
}

// handleCheckoutCompleted はcheckout完了を処理する。
// metadataのローカルIDで突き合わせ（未作成ならmetadataから作成）、
// プロバイダーAPIから取得した正式な状態を反映してアドレスを割り当てる。
// 終端・新旧ガードは更新系イベントと共通。
func (s *Service) handleCheckoutCompleted(ctx context.Context, ev *event) (Outcome, error) {
	var session checkoutSession
	if err := json.Unmarshal(ev.Data.Object, &session); err != nil {
		return "", fmt.Errorf("%w: invalid checkout session object: %v", ErrMalformedEvent, err)
	}

	localID := session.Metadata[subscriptionMetadataKey]
	if localID == "" {
		slog.Warn("checkout completed without subscription metadata", "event_id", ev.ID, "session_id", session.ID)
		return OutcomeIgnored, nil
	}

	sub, err := s.subs.FindByID(ctx, localID)
	if err != nil {
		return "", fmt.Errorf("failed to find subscription %s: %w", localID, err)
	}

	created := false
	if sub == nil {
		// checkout開始時のpendingレコードが無い場合はmetadataから作成する。
		// ユーザーIDが取れないイベントは突き合わせ不能として受領のみ
		userID := session.Metadata[userMetadataKey]
		if userID == "" {
			slog.Warn("checkout completed for unknown subscription", "event_id", ev.ID, "subscription_id", localID)
			return OutcomeIgnored, nil
		}
		now := time.Now()
		sub = &model.Subscription{
			ID:        localID,
			UserID:    userID,
			PriceID:   session.Metadata[priceMetadataKey],
			Status:    model.SubscriptionPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created = true
	}

	// 更新系イベントと同じ終端・新旧ガード。
	// deleted後に遅延配信されたcheckoutがexpiredを復活させてはならない
	if sub.Status == model.SubscriptionExpired {
		slog.Info("checkout for expired subscription ignored", "event_id", ev.ID, "subscription_id", sub.ID)
		return OutcomeIgnored, nil
	}
	eventTime := time.Unix(ev.Created, 0)
	if sub.LastEventAt != nil && eventTime.Before(*sub.LastEventAt) {
		slog.Info("stale checkout event ignored",
			"event_id", ev.ID,
			"subscription_id", sub.ID,
			"event_time", eventTime.UTC().Format(time.RFC3339),
			"last_event_at", sub.LastEventAt.UTC().Format(time.RFC3339),
		)
		return OutcomeIgnored, nil
	}

	externalID := session.Subscription
	if externalID == "" {
		externalID = sub.ExternalID
	}
	if externalID == "" {
		slog.Warn("checkout completed without external subscription id", "event_id", ev.ID, "subscription_id", localID)
		return OutcomeIgnored, nil
	}

	// イベント本文ではなくAPIの現在状態を正とする
	provider, err := s.client.FetchSubscription(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch subscription %s from provider: %w", externalID, err)
	}

	// APIが既にcanceled等を返す場合、activeには持ち上げない
	status := model.SubscriptionActive
	if mapped, ok := mapProviderStatus(provider.Status); ok {
		status = mapped
	}

	sub.ExternalID = provider.ID
	sub.Status = status
	applyPeriod(sub, provider.CurrentPeriodStart, provider.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = provider.CancelAtPeriodEnd
	if provider.Quantity > 0 {
		sub.MailboxQuantity = provider.Quantity
	}
	if sub.MailboxQuantity == 0 {
		sub.MailboxQuantity = 1
	}
	sub.LastEventAt = &eventTime

	if created {
		if err := s.subs.Create(ctx, sub); err != nil {
			return "", fmt.Errorf("failed to create subscription %s: %w", sub.ID, err)
		}
	} else if err := s.subs.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}

	if status != model.SubscriptionActive {
		slog.Info("checkout completed with non-active provider status",
			"event_id", ev.ID,
			"subscription_id", sub.ID,
			"status", status,
		)
		return OutcomeProcessed, nil
	}

	assigned, err := s.provisioner.Provision(ctx, sub.UserID, sub.ID, sub.MailboxQuantity)
	if err != nil {
		return "", fmt.Errorf("failed to provision mailboxes for subscription %s: %w", sub.ID, err)
	}

	slog.Info("subscription activated",
		"event_id", ev.ID,
		"subscription_id", sub.ID,
		"external_id", sub.ExternalID,
		"mailboxes_assigned", assigned,
	)
	return OutcomeProcessed, nil
}

// handleSubscriptionUpdated はサブスクリプション更新を処理する。
// last_event_atより古いイベントと、終端状態（expired）への更新は適用しない。
func (s *Service) handleSubscriptionUpdated(ctx context.Context, ev *event) (Outcome, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("%w: invalid subscription object: %v", ErrMalformedEvent, err)
	}

	sub, outcome, err := s.loadForUpdate(ctx, ev, obj.ID)
	if sub == nil {
		return outcome, err
	}

	eventTime := time.Unix(ev.Created, 0)
	if status, ok := mapProviderStatus(obj.Status); ok {
		sub.Status = status
	}
	applyPeriod(sub, obj.CurrentPeriodStart, obj.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	sub.LastEventAt = &eventTime

	if err := s.subs.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}

	slog.Info("subscription updated",
		"event_id", ev.ID,
		"subscription_id", sub.ID,
		"status", sub.Status,
	)
	return OutcomeProcessed, nil
}

// handleSubscriptionDeleted はサブスクリプションの終了を処理する。
// statusをexpired（終端）にし、割当済みアドレスを全て返却する。
// 到着順序に関わらずexpiredは以後のイベントで上書きされない。
func (s *Service) handleSubscriptionDeleted(ctx context.Context, ev *event) (Outcome, error) {
	var obj subscriptionObject
	if err := json.Unmarshal(ev.Data.Object, &obj); err != nil {
		return "", fmt.Errorf("%w: invalid subscription object: %v", ErrMalformedEvent, err)
	}

	sub, err := s.subs.FindByExternalID(ctx, obj.ID)
	if err != nil {
		return "", fmt.Errorf("failed to find subscription by external id %s: %w", obj.ID, err)
	}
	if sub == nil {
		slog.Warn("subscription deleted for unknown external id", "event_id", ev.ID, "external_id", obj.ID)
		return OutcomeIgnored, nil
	}

	eventTime := time.Unix(ev.Created, 0)
	sub.Status = model.SubscriptionExpired
	sub.LastEventAt = &eventTime

	if err := s.subs.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}

	released, err := s.provisioner.Deprovision(ctx, sub.ID)
	if err != nil {
		return "", fmt.Errorf("failed to deprovision mailboxes for subscription %s: %w", sub.ID, err)
	}

	slog.Info("subscription expired",
		"event_id", ev.ID,
		"subscription_id", sub.ID,
		"mailboxes_released", released,
	)
	return OutcomeProcessed, nil
}

// handlePaymentFailed は支払い失敗を処理する。
// 対応するサブスクリプションをpast_dueにする。未知のIDは受領のみ。
func (s *Service) handlePaymentFailed(ctx context.Context, ev *event) (Outcome, error) {
	var invoice invoiceObject
	if err := json.Unmarshal(ev.Data.Object, &invoice); err != nil {
		return "", fmt.Errorf("%w: invalid invoice object: %v", ErrMalformedEvent, err)
	}

	if invoice.Subscription == "" {
		slog.Info("payment failed without subscription reference", "event_id", ev.ID)
		return OutcomeIgnored, nil
	}

	sub, outcome, err := s.loadForUpdate(ctx, ev, invoice.Subscription)
	if sub == nil {
		return outcome, err
	}

	eventTime := time.Unix(ev.Created, 0)
	sub.Status = model.SubscriptionPastDue
	sub.LastEventAt = &eventTime

	if err := s.subs.Update(ctx, sub); err != nil {
		return "", fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
	}

	slog.Info("subscription past due", "event_id", ev.ID, "subscription_id", sub.ID)
	return OutcomeProcessed, nil
}

// loadForUpdate は更新系イベント共通のガードを適用してサブスクリプションを取得する。
// 未知の外部ID、終端状態、last_event_atより古いイベントの場合は
// nilとOutcomeIgnoredを返す。
func (s *Service) loadForUpdate(ctx context.Context, ev *event, externalID string) (*model.Subscription, Outcome, error) {
	sub, err := s.subs.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find subscription by external id %s: %w", externalID, err)
	}
	if sub == nil {
		slog.Warn("webhook event for unknown external id", "event_id", ev.ID, "event_type", ev.Type, "external_id", externalID)
		return nil, OutcomeIgnored, nil
	}

	if sub.Status == model.SubscriptionExpired {
		slog.Info("webhook event for expired subscription ignored", "event_id", ev.ID, "subscription_id", sub.ID)
		return nil, OutcomeIgnored, nil
	}

	eventTime := time.Unix(ev.Created, 0)
	if sub.LastEventAt != nil && eventTime.Before(*sub.LastEventAt) {
		slog.Info("stale webhook event ignored",
			"event_id", ev.ID,
			"subscription_id", sub.ID,
			"event_time", eventTime.UTC().Format(time.RFC3339),
			"last_event_at", sub.LastEventAt.UTC().Format(time.RFC3339),
		)
		return nil, OutcomeIgnored, nil
	}

	return sub, "", nil
}

// mapProviderStatus はプロバイダーのstatus文字列をローカルのstatusに写像する。
// 未知のstatusは適用しない。
func mapProviderStatus(status string) (model.SubscriptionStatus, bool) {
	switch status {
	case "active":
		return model.SubscriptionActive, true
	case "past_due":
		return model.SubscriptionPastDue, true
	case "canceled":
		return model.SubscriptionCancelled, true
	default:
		return "", false
	}
}

// applyPeriod はunix秒の期間をサブスクリプションに反映する。0は未設定扱い。
func applyPeriod(sub *model.Subscription, startUnix, endUnix int64) {
	if startUnix > 0 {
		start := time.Unix(startUnix, 0)
		sub.PeriodStart = &start
	}
	if endUnix > 0 {
		end := time.Unix(endUnix, 0)
		sub.PeriodEnd = &end
	}
}
