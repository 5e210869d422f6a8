package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_delivery",
			Name:      "status_updates_total",
			Help:      "Delivery callbacks applied to a message, by resulting status.",
		},
		[]string{"status"},
	)

	// Unlabelled: the raw status comes from the request and is unbounded.
	unmappedStatusTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sms_delivery",
			Name:      "unmapped_status_total",
			Help:      "Provider statuses with no local mapping.",
		},
	)

	correlationMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_delivery",
			Name:      "correlation_misses_total",
			Help:      "Lookups that found no outbound message.",
		},
		[]string{"key"}, // local_id or external_id
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_delivery",
			Name:      "sends_total",
			Help:      "Outbound sends, by provider and outcome.",
		},
		[]string{"provider_name", "outcome"},
	)

	natsSendRequestsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sms_delivery",
			Name:      "nats_send_requests_received_total",
			Help:      "Send requests received over NATS.",
		},
		[]string{"subject"},
	)
)
