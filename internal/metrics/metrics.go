package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Webhook metrics
	WebhookRequestsTotal   *prometheus.CounterVec
	WebhookDurationSeconds *prometheus.HistogramVec

	// Extraction metrics
	ExtractionsTotal          *prometheus.CounterVec
	ExtractionDurationSeconds *prometheus.HistogramVec

	// Order metrics
	OrdersCreatedTotal        *prometheus.CounterVec
	ConversationsActiveGauge  prometheus.Gauge
	ConversationsByStateTotal *prometheus.CounterVec

	// Reply throttle metrics
	ReplySlotDecisionsTotal *prometheus.CounterVec

	// Quota metrics
	QuotaDecisionsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		WebhookRequestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_webhook_requests_total",
				Help: "Total number of webhook events by event type and status",
			},
			[]string{"event_type", "status"}, // status: success, error, skipped
		),

		WebhookDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "talkorder_webhook_duration_seconds",
				Help:    "Webhook event processing duration in seconds by event type",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"event_type"},
		),

		ExtractionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_extractions_total",
				Help: "Total number of LLM extraction calls by provider, policy and status",
			},
			[]string{"provider", "policy", "status"}, // policy: goods, service
		),

		ExtractionDurationSeconds: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "talkorder_extraction_duration_seconds",
				Help:    "LLM extraction call duration in seconds by provider",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"provider"},
		),

		OrdersCreatedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_orders_created_total",
				Help: "Total number of orders materialized from conversations by status",
			},
			[]string{"status"}, // status: pending, draft
		),

		ConversationsActiveGauge: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "talkorder_conversations_active",
				Help: "Current number of conversations in collecting_info state",
			},
		),

		ConversationsByStateTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_conversation_transitions_total",
				Help: "Total conversation state transitions by target state",
			},
			[]string{"state"}, // state: collecting_info, completed, abandoned
		),

		ReplySlotDecisionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_reply_slot_decisions_total",
				Help: "Reply slot reservation outcomes",
			},
			[]string{"decision"}, // decision: granted, suppressed, error_fail_open
		),

		QuotaDecisionsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "talkorder_quota_decisions_total",
				Help: "AI quota check outcomes",
			},
			[]string{"decision"}, // decision: allowed, denied, error_fail_open
		),
	}

	return m
}

// RecordWebhook records a webhook event with status
func (m *Metrics) RecordWebhook(eventType, status string, duration float64) {
	m.WebhookRequestsTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDurationSeconds.WithLabelValues(eventType).Observe(duration)
}

// RecordExtraction records an LLM extraction call
func (m *Metrics) RecordExtraction(provider, policy, status string, duration float64) {
	m.ExtractionsTotal.WithLabelValues(provider, policy, status).Inc()
	m.ExtractionDurationSeconds.WithLabelValues(provider).Observe(duration)
}

// RecordOrderCreated records a materialized order
func (m *Metrics) RecordOrderCreated(status string) {
	m.OrdersCreatedTotal.WithLabelValues(status).Inc()
}

// RecordConversationTransition records a conversation state transition
func (m *Metrics) RecordConversationTransition(state string) {
	m.ConversationsByStateTotal.WithLabelValues(state).Inc()
}

// SetActiveConversations sets the active conversation gauge
func (m *Metrics) SetActiveConversations(n int) {
	m.ConversationsActiveGauge.Set(float64(n))
}

// RecordReplySlot records a reply slot reservation outcome
func (m *Metrics) RecordReplySlot(decision string) {
	m.ReplySlotDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordQuotaDecision records an AI quota check outcome
func (m *Metrics) RecordQuotaDecision(decision string) {
	m.QuotaDecisionsTotal.WithLabelValues(decision).Inc()
}
