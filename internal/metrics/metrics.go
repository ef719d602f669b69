package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/event_id labels).

var (
	// EventsIngestedTotal counts accepted alarm messages that produced an Event.
	EventsIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_events_ingested_total",
			Help: "Total alarm messages accepted and persisted as events",
		},
	)

	// EventsSuppressedTotal counts alarms swallowed by snooze windows.
	EventsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_events_suppressed_total",
			Help: "Total alarms suppressed by camera or account snooze",
		},
	)

	// IngestRejectedTotal counts SMTP-level rejections by reason.
	IngestRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_ingest_rejected_total",
			Help: "Total SMTP rejections by reason",
		},
		[]string{"reason"},
	)

	// StreamsActive tracks live transcode sessions.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_streams_active",
			Help: "Number of live transcode sessions",
		},
	)

	// TranscodeRestartsTotal counts transcoder restarts after crash or stall.
	TranscodeRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_transcode_restarts_total",
			Help: "Total transcoder restarts",
		},
	)

	// StreamsDegradedTotal counts sessions that hit the restart ceiling.
	StreamsDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_streams_degraded_total",
			Help: "Total sessions marked degraded after repeated failures",
		},
	)

	// HubDroppedTotal counts subscribers disconnected for falling behind.
	HubDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_hub_dropped_total",
			Help: "Total subscribers disconnected with a full queue",
		},
	)

	// HubSubscribers tracks connected broadcast subscribers.
	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_hub_subscribers",
			Help: "Number of connected broadcast subscribers",
		},
	)

	// WebhookCallsTotal counts action-plan webhook invocations by result.
	WebhookCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_webhook_calls_total",
			Help: "Total action-plan webhook calls by result",
		},
		[]string{"result"},
	)
)

func RecordIngestRejected(reason string) {
	IngestRejectedTotal.WithLabelValues(reason).Inc()
}

func RecordWebhookCall(ok bool) {
	if ok {
		WebhookCallsTotal.WithLabelValues("success").Inc()
	} else {
		WebhookCallsTotal.WithLabelValues("failure").Inc()
	}
}
