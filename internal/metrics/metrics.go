package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons used with EventsDropped.
const (
	ReasonDuplicate = "duplicate"
	ReasonThrottled = "throttled"
	ReasonNoSender  = "no_sender"
	ReasonNoMessage = "no_message"
	ReasonEcho      = "echo"
)

var (
	// Webhook ingress
	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_webhook_requests_total",
			Help: "Webhook requests by method and response status",
		},
		[]string{"method", "status"},
	)

	EventsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_events_accepted_total",
			Help: "Messaging events handed to the reply dispatcher",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_events_dropped_total",
			Help: "Messaging events skipped before dispatch, by reason",
		},
		[]string{"reason"},
	)

	RateLimitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_rate_limit_errors_total",
			Help: "Rate limiter backend failures (events are allowed on failure)",
		},
	)

	// Reply dispatch
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_dispatches_total",
			Help: "Completed reply dispatch tasks by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagebot_dispatch_in_flight",
			Help: "Reply dispatch tasks currently running or waiting for a slot",
		},
	)

	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagebot_collaborator_duration_seconds",
			Help:    "Duration of external collaborator calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator", "outcome"},
	)

	// Outbound delivery
	SendRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagebot_send_retries_total",
			Help: "Send API attempts retried after a transient failure",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagebot_dead_letters_total",
			Help: "Failed dispatch records published to the dead letter sink",
		},
		[]string{"outcome"},
	)
)
