package chatbot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "messages_total",
			Help:      "Inbound messages handled, by platform and category.",
		},
		[]string{"platform", "category"},
	)

	authFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "auth_failures_total",
			Help:      "Messages whose sender could not be authenticated.",
		},
		[]string{"platform"},
	)

	ignoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "ignored_events_total",
			Help:      "Webhook events acknowledged without a conversation turn.",
		},
		[]string{"platform", "reason"},
	)

	handlerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "handler_errors_total",
			Help:      "Flow handler failures replaced by an apology.",
		},
		[]string{"flow"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "deliveries_total",
			Help:      "Response deliveries by platform and result.",
		},
		[]string{"platform", "result"},
	)

	handleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "timeprofiler",
			Subsystem: "chatbot",
			Name:      "handle_duration_seconds",
			Help:      "Time from receipt to committed state change, excluding delivery.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"platform"},
	)
)

func flowLabel(flow string) string {
	if flow == "" {
		return "none"
	}
	return flow
}
