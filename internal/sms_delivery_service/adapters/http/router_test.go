package http_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adapter_http "github.com/flockcare/golang_services/internal/sms_delivery_service/adapters/http"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/webhookauth"
)

func TestRouter_Health(t *testing.T) {
	handler, _ := newHandler(t, webhookauth.Config{ValidationEnabled: true}, publicURL)
	srv := httptest.NewServer(adapter_http.NewRouter(handler, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestRouter_MetricsExposesRequestCounters(t *testing.T) {
	handler, _ := newHandler(t, webhookauth.Config{ValidationEnabled: true}, publicURL)
	srv := httptest.NewServer(adapter_http.NewRouter(handler, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sms_delivery_http_requests_total{method="GET",path="/health",status_code="200"}`)
}

const providerIP = "54.172.60.5"

var providerRange = webhookauth.Config{ValidationEnabled: true, AllowedCIDRs: []string{"54.172.60.0/23"}}

func TestRouter_StatusCallbackAllowsDirectProviderPeer(t *testing.T) {
	handler, applier := newHandler(t, providerRange, publicURL)
	router := adapter_http.NewRouter(handler, nil)
	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}

	applier.On("ApplyDeliveryStatus", mock.Anything, "SM123", "delivered", (*int)(nil), (*string)(nil)).Return(nil).Once()

	req := signedRequest(t, publicURL, adapter_http.StatusCallbackPath, form)
	req.RemoteAddr = providerIP + ":5555"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	applier.AssertExpectations(t)
}

func TestRouter_StatusCallbackIgnoresForwardingHeadersFromUntrustedPeer(t *testing.T) {
	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}

	for _, header := range []string{"True-Client-IP", "X-Real-IP", "X-Forwarded-For"} {
		t.Run(header, func(t *testing.T) {
			handler, applier := newHandler(t, providerRange, publicURL)
			trusted, err := adapter_http.ParseTrustedProxies([]string{"10.0.0.0/8"})
			require.NoError(t, err)

			for _, router := range []http.Handler{
				adapter_http.NewRouter(handler, nil),
				adapter_http.NewRouter(handler, trusted),
			} {
				req := signedRequest(t, publicURL, adapter_http.StatusCallbackPath, form)
				req.RemoteAddr = "8.8.8.8:5555"
				req.Header.Set(header, providerIP)
				rr := httptest.NewRecorder()
				router.ServeHTTP(rr, req)

				assert.Equal(t, http.StatusForbidden, rr.Code)
			}
			applier.AssertNotCalled(t, "ApplyDeliveryStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRouter_StatusCallbackUsesForwardedSourceIPFromTrustedProxy(t *testing.T) {
	handler, applier := newHandler(t, providerRange, publicURL)
	trusted, err := adapter_http.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	router := adapter_http.NewRouter(handler, trusted)
	form := url.Values{"MessageSid": {"SM123"}, "MessageStatus": {"delivered"}}

	applier.On("ApplyDeliveryStatus", mock.Anything, "SM123", "delivered", (*int)(nil), (*string)(nil)).Return(nil).Once()

	allowed := signedRequest(t, publicURL, adapter_http.StatusCallbackPath, form)
	allowed.RemoteAddr = "10.1.2.3:443"
	allowed.Header.Set("X-Forwarded-For", providerIP)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, allowed)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	blocked := signedRequest(t, publicURL, adapter_http.StatusCallbackPath, form)
	blocked.RemoteAddr = "10.1.2.3:443"
	blocked.Header.Set("X-Forwarded-For", "8.8.8.8")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, blocked)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	applier.AssertExpectations(t)
}

func TestParseTrustedProxies(t *testing.T) {
	prefixes, err := adapter_http.ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.7 ", "", "::ffff:172.16.0.1", "fd00::/8"})
	require.NoError(t, err)
	got := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		got = append(got, p.String())
	}
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7/32", "172.16.0.1/32", "fd00::/8"}, got)

	_, err = adapter_http.ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = adapter_http.ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)
}

func TestRouter_StatusCallbackRejectsGet(t *testing.T) {
	handler, _ := newHandler(t, webhookauth.Config{ValidationEnabled: true}, publicURL)
	rr := httptest.NewRecorder()

	adapter_http.NewRouter(handler, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, adapter_http.StatusCallbackPath, nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
