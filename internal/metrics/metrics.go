// Package metrics exposes the Prometheus instruments for the backend.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Business Prometheus metrics.
var (
	ArticleExtractTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "article_extract_total",
			Help:      "Total number of article extraction requests",
		},
		[]string{"status"},
	)

	TranscriptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "transcription_total",
			Help:      "Total number of transcription requests",
		},
		[]string{"status"},
	)

	TranscriptionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "voicemargin",
			Name:      "transcription_latency_seconds",
			Help:      "Transcription request latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 10, 15, 30},
		},
	)

	TokenConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "token_consumed_total",
			Help:      "Total tokens debited from device balances",
		},
		[]string{"kind"}, // "free" / "paid" / "unlimited"
	)

	PaymentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "payment_total",
			Help:      "Total checkout sessions created",
		},
		[]string{"product", "status"},
	)

	WebhookTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "webhook_total",
			Help:      "Total payment webhook deliveries",
		},
		[]string{"event_type", "status"},
	)

	NotionSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicemargin",
			Name:      "notion_sync_total",
			Help:      "Total Notion sync requests",
		},
		[]string{"status"},
	)
)

var registered bool

// Register registers the business metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(ArticleExtractTotal)
	prometheus.MustRegister(TranscriptionTotal)
	prometheus.MustRegister(TranscriptionLatency)
	prometheus.MustRegister(TokenConsumedTotal)
	prometheus.MustRegister(PaymentTotal)
	prometheus.MustRegister(WebhookTotal)
	prometheus.MustRegister(NotionSyncTotal)
	registered = true
}
