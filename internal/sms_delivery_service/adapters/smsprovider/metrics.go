package smsprovider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "sms_delivery",
		Name:      "provider_request_duration_seconds",
		Help:      "Duration of HTTP requests to SMS providers.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"provider_name"},
)
