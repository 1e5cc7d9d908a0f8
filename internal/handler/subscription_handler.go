package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/model"
)

// SubscriptionFinderInterface はサブスクリプションハンドラーが必要とする
// 永続化インターフェース。repository.SubscriptionRepositoryの部分集合。
type SubscriptionFinderInterface interface {
	FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error)
}

// MailboxListerInterface は割当済みアドレスの参照インターフェース。
type MailboxListerInterface interface {
	ListByUser(ctx context.Context, userID string) ([]*model.Mailbox, error)
}

// SubscriptionHandler はサブスクリプション参照のHTTPハンドラー。
type SubscriptionHandler struct {
	subs      SubscriptionFinderInterface
	mailboxes MailboxListerInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(subs SubscriptionFinderInterface, mailboxes MailboxListerInterface) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, mailboxes: mailboxes}
}

// subscriptionResponse はサブスクリプションのレスポンス形。
type subscriptionResponse struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	PriceID           string     `json:"price_id"`
	PeriodStart       *time.Time `json:"period_start,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	MailboxQuantity   int        `json:"mailbox_quantity"`
	Mailboxes         []string   `json:"mailboxes"`
}

// GetSubscription は現在のサブスクリプションと割当済みアドレスを返す。
// GET /api/subscription
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	sub, err := h.subs.FindActiveByUserID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to find subscription",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if sub == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewSubscriptionNotFoundError())
		return
	}

	boxes, err := h.mailboxes.ListByUser(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list mailboxes",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	addresses := make([]string, 0, len(boxes))
	for _, b := range boxes {
		addresses = append(addresses, b.Address)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subscriptionResponse{
		ID:                sub.ID,
		Status:            string(sub.Status),
		PriceID:           sub.PriceID,
		PeriodStart:       sub.PeriodStart,
		PeriodEnd:         sub.PeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		MailboxQuantity:   sub.MailboxQuantity,
		Mailboxes:         addresses,
	})
}
