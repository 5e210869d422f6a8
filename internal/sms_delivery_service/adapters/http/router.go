package http

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusCallbackPath = "/webhooks/sms/status"
	requestTimeout     = 30 * time.Second
)

// NewRouter mounts the webhook, health and metrics endpoints. Forwarding
// headers are honoured only from peers in trustedProxies.
func NewRouter(webhooks *WebhookHandler, trustedProxies []netip.Prefix) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(TrustedProxyRealIP(trustedProxies))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post(StatusCallbackPath, webhooks.HandleStatusCallback)

	return r
}
