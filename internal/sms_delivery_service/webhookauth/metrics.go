package webhookauth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAccepted     = "accepted"
	resultBypassed     = "bypassed"
	resultBadSignature = "bad_signature"
	resultIPNotAllowed = "ip_not_allowed"
	resultBadIP        = "bad_ip"
)

var validationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sms_webhook",
		Name:      "validations_total",
		Help:      "Webhook authentication outcomes.",
	},
	[]string{"result"},
)
