package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records webhook and settlement activity per provider.
type PaymentMetrics struct {
	webhookEvents   *prometheus.CounterVec
	duplicateEvents *prometheus.CounterVec
	creditsApplied  *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	reconciliations prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Webhook events accepted for processing.",
	}, []string{"provider", "outcome"})
	duplicateEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_duplicates_total",
		Help: "Webhook events suppressed as already processed.",
	}, []string{"provider"})
	creditsApplied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_credits_applied_total",
		Help: "Balance credits durably applied.",
	}, []string{"provider"})
	providerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_provider_call_seconds",
		Help:    "Latency of outbound provider API calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
	reconciliations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_fallback_reconciliations_total",
		Help: "Credits recovered by the poll-triggered reconciler.",
	})
	reg.MustRegister(webhookEvents, duplicateEvents, creditsApplied, providerLatency, reconciliations)
	return &PaymentMetrics{
		webhookEvents:   webhookEvents,
		duplicateEvents: duplicateEvents,
		creditsApplied:  creditsApplied,
		providerLatency: providerLatency,
		reconciliations: reconciliations,
	}
}

// IncWebhookEvent counts one processed webhook event with its outcome.
func (m *PaymentMetrics) IncWebhookEvent(provider, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncDuplicateEvent counts one suppressed redelivery.
func (m *PaymentMetrics) IncDuplicateEvent(provider string) {
	if m == nil || m.duplicateEvents == nil {
		return
	}
	m.duplicateEvents.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncCreditApplied counts one durable balance credit.
func (m *PaymentMetrics) IncCreditApplied(provider string) {
	if m == nil || m.creditsApplied == nil {
		return
	}
	m.creditsApplied.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveProviderCall records the duration of one provider API call.
func (m *PaymentMetrics) ObserveProviderCall(provider string, duration time.Duration) {
	if m == nil || m.providerLatency == nil {
		return
	}
	m.providerLatency.WithLabelValues(normalizeLabel(provider)).Observe(duration.Seconds())
}

// IncReconciliation counts one fallback recovery.
func (m *PaymentMetrics) IncReconciliation() {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return strings.ReplaceAll(value, " ", "_")
}
