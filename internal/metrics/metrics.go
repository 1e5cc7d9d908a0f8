// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordOAuthCallback(provider string, outcome string)
	RecordWebhookEvent(eventType string, outcome string)
	RecordWebhookLatency(duration time.Duration)
	RecordMailboxesProvisioned(count int)
	RecordMailboxesReleased(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	oauthCallbacks       *prometheus.CounterVec
	webhookEvents        *prometheus.CounterVec
	webhookLatency       prometheus.Histogram
	mailboxesProvisioned prometheus.Counter
	mailboxesReleased    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		oauthCallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkhub_oauth_callbacks_total",
			Help: "OAuthコールバック処理のプロバイダー・結果別の合計数",
		}, []string{"provider", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkhub_webhook_events_total",
			Help: "Webhookイベント処理の種別・結果別の合計数",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linkhub_webhook_latency_seconds",
			Help:    "Webhookイベント処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		mailboxesProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_mailboxes_provisioned_total",
			Help: "割り当てられたメールアドレスの合計数",
		}),
		mailboxesReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkhub_mailboxes_released_total",
			Help: "プールに返却されたメールアドレスの合計数",
		}),
	}

	reg.MustRegister(
		c.oauthCallbacks,
		c.webhookEvents,
		c.webhookLatency,
		c.mailboxesProvisioned,
		c.mailboxesReleased,
	)

	return c
}

// RecordOAuthCallback はOAuthコールバックの結果を記録する。
func (c *Collector) RecordOAuthCallback(provider string, outcome string) {
	c.oauthCallbacks.WithLabelValues(provider, outcome).Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType string, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordWebhookLatency はWebhookイベント処理のレイテンシを記録する。
func (c *Collector) RecordWebhookLatency(duration time.Duration) {
	c.webhookLatency.Observe(duration.Seconds())
}

// RecordMailboxesProvisioned は割り当てたメールアドレス数を記録する。
func (c *Collector) RecordMailboxesProvisioned(count int) {
	c.mailboxesProvisioned.Add(float64(count))
}

// RecordMailboxesReleased は返却したメールアドレス数を記録する。
func (c *Collector) RecordMailboxesReleased(count int) {
	c.mailboxesReleased.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
