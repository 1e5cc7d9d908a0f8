package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

type mockSubscriptionFinder struct {
	findActiveFn func(ctx context.Context, userID string) (*model.Subscription, error)
}

func (m *mockSubscriptionFinder) FindActiveByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	if m.findActiveFn != nil {
		return m.findActiveFn(ctx, userID)
	}
	return nil, nil
}

type mockMailboxLister struct {
	listFn func(ctx context.Context, userID string) ([]*model.Mailbox, error)
}

func (m *mockMailboxLister) ListByUser(ctx context.Context, userID string) ([]*model.Mailbox, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

var _ SubscriptionFinderInterface = (*mockSubscriptionFinder)(nil)
var _ MailboxListerInterface = (*mockMailboxLister)(nil)

func TestGetSubscription_ReturnsSubscriptionWithMailboxes(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	subs := &mockSubscriptionFinder{
		findActiveFn: func(ctx context.Context, userID string) (*model.Subscription, error) {
			return &model.Subscription{
				ID:              "sub-1",
				UserID:          userID,
				Status:          model.SubscriptionActive,
				PriceID:         "price_basic",
				PeriodEnd:       &periodEnd,
				MailboxQuantity: 2,
			}, nil
		},
	}
	boxes := &mockMailboxLister{
		listFn: func(ctx context.Context, userID string) ([]*model.Mailbox, error) {
			return []*model.Mailbox{
				{Address: "alpha@mail.example.com"},
				{Address: "bravo@mail.example.com"},
			}, nil
		},
	}
	h := NewSubscriptionHandler(subs, boxes)

	w := httptest.NewRecorder()
	h.GetSubscription(w, authedRequest(http.MethodGet, "/api/subscription", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		ID        string   `json:"id"`
		Status    string   `json:"status"`
		Mailboxes []string `json:"mailboxes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "sub-1" || resp.Status != "active" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Mailboxes) != 2 || resp.Mailboxes[0] != "alpha@mail.example.com" {
		t.Errorf("mailboxes = %v", resp.Mailboxes)
	}
}

func TestGetSubscription_NoActiveSubscription(t *testing.T) {
	h := NewSubscriptionHandler(&mockSubscriptionFinder{}, &mockMailboxLister{})

	w := httptest.NewRecorder()
	h.GetSubscription(w, authedRequest(http.MethodGet, "/api/subscription", ""))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetSubscription_Unauthenticated(t *testing.T) {
	h := NewSubscriptionHandler(&mockSubscriptionFinder{}, &mockMailboxLister{})

	w := httptest.NewRecorder()
	h.GetSubscription(w, httptest.NewRequest(http.MethodGet, "/api/subscription", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
