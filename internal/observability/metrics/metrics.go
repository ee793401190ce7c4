package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for the webhook pipeline.
type ConversationMetrics struct {
	inboundTotal     *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	assistantLatency prometheus.Histogram
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelbot",
			Subsystem: "conversation",
			Name:      "inbound_events_total",
			Help:      "Total inbound VK callback events",
		}, []string{"event_type", "outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "travelbot",
			Subsystem: "conversation",
			Name:      "escalations_total",
			Help:      "Total manager escalations",
		}, []string{"kind"}),
		assistantLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "travelbot",
			Subsystem: "conversation",
			Name:      "assistant_latency_seconds",
			Help:      "Latency of assistant reply generation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.escalationsTotal, m.assistantLatency)
	return m
}

func (m *ConversationMetrics) ObserveInbound(eventType, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *ConversationMetrics) ObserveEscalation(kind string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(kind).Inc()
}

func (m *ConversationMetrics) ObserveAssistantLatency(seconds float64) {
	if m == nil {
		return
	}
	m.assistantLatency.Observe(seconds)
}
