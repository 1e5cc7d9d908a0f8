package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/linkhub/internal/billing"
	"github.com/hitoshi/linkhub/internal/metrics"
)

// maxWebhookBodySize はWebhookリクエストボディの上限サイズ。
const maxWebhookBodySize = 1 << 20 // 1MB

// WebhookProcessorInterface はWebhookハンドラーが必要とするサービスインターフェース。
type WebhookProcessorInterface interface {
	HandleEvent(ctx context.Context, payload []byte) (*billing.Result, error)
}

// WebhookHandler は決済プロバイダーからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	secret    string
	processor WebhookProcessorInterface
	metrics   metrics.MetricsCollector
	now       func() time.Time
}

// NewWebhookHandler はWebhookHandlerを生成する。collectorはnil可。
func NewWebhookHandler(secret string, processor WebhookProcessorInterface, collector metrics.MetricsCollector) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		processor: processor,
		metrics:   collector,
		now:       time.Now,
	}
}

// HandleBillingWebhook はWebhookイベントを受信する。
// POST /webhooks/billing
//
// 署名は生のボディに対して検証する。検証前には一切の処理を行わず、
// 検証失敗は400で拒否する。検証後のDBエラーは500を返し、
// プロバイダーの再配信に委ねる。
func (h *WebhookHandler) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	start := h.now()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Error("failed to read webhook body", slog.String("error", err.Error()))
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if err := billing.VerifySignature(h.secret, r.Header.Get(billing.SignatureHeader), body, h.now()); err != nil {
		slog.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		h.record("unknown", "rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	result, err := h.processor.HandleEvent(r.Context(), body)
	if err != nil {
		if errors.Is(err, billing.ErrMalformedEvent) {
			slog.Warn("malformed webhook event", slog.String("error", err.Error()))
			h.record("unknown", "malformed")
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		slog.Error("webhook event processing failed", slog.String("error", err.Error()))
		h.record("unknown", "error")
		http.Error(w, "event processing failed", http.StatusInternalServerError)
		return
	}

	h.record(result.EventType, string(result.Outcome))
	if h.metrics != nil {
		h.metrics.RecordWebhookLatency(h.now().Sub(start))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{
		"received": true,
	})
}

// record はWebhookイベントのメトリクスを記録する。
func (h *WebhookHandler) record(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(eventType, outcome)
	}
}
