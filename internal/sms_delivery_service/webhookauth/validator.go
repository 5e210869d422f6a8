// Package webhookauth decides whether an inbound delivery-status callback was
// really sent by the SMS provider.
//
// Two checks are applied: an HMAC-SHA1 signature over the callback URL and its
// form parameters, keyed by the account auth token, and an optional source-IP
// allow-list expressed as CIDR ranges. Every failure is reported as false with
// a warning log; nothing here returns an error per request.
package webhookauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/netip"
	"sort"
	"strings"
)

// ErrMissingAuthToken is returned by NewValidator when no shared secret is configured.
var ErrMissingAuthToken = errors.New("webhookauth: auth token is required")

// Config is built once at start-up and never mutated afterwards.
type Config struct {
	AuthToken         string
	ValidationEnabled bool
	AllowedCIDRs      []string
}

// Validator checks provider webhook signatures and source addresses.
type Validator struct {
	authToken     []byte
	enabled       bool
	allowed       []netip.Prefix
	rangesPresent bool
	logger        *slog.Logger
}

// NewValidator builds a Validator from cfg. Malformed CIDR entries are logged
// and kept out of the allow-list, so they can never admit a request.
func NewValidator(cfg Config, logger *slog.Logger) (*Validator, error) {
	if strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, ErrMissingAuthToken
	}
	logger = logger.With("component", "webhook_signature_validator")

	v := &Validator{
		authToken: []byte(cfg.AuthToken),
		enabled:   cfg.ValidationEnabled,
		logger:    logger,
	}
	for _, raw := range cfg.AllowedCIDRs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		v.rangesPresent = true
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			logger.Warn("Ignoring malformed webhook CIDR range", "cidr", raw, "error", err)
			continue
		}
		v.allowed = append(v.allowed, prefix.Masked())
	}
	if !v.enabled {
		logger.Warn("Webhook signature validation is DISABLED; all callbacks will be accepted")
	}
	return v, nil
}

// ValidateSignature reports whether a callback to requestURL carrying params
// and signature came from the provider. sourceIP may be empty.
func (v *Validator) ValidateSignature(ctx context.Context, requestURL string, params map[string]string, signature string, sourceIP string) bool {
	if !v.enabled {
		validationsTotal.WithLabelValues(resultBypassed).Inc()
		v.logger.WarnContext(ctx, "Webhook validation disabled; accepting callback without checks",
			"url", requestURL, "source_ip", sourceIP)
		return true
	}

	if !v.sourceAllowed(ctx, sourceIP) {
		return false
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		validationsTotal.WithLabelValues(resultBadSignature).Inc()
		v.logger.WarnContext(ctx, "Webhook signature missing", "url", requestURL, "source_ip", sourceIP)
		return false
	}
	// Compared in encoded form: decoding would tolerate non-canonical padding bits.
	if !hmac.Equal([]byte(signature), []byte(v.sign(requestURL, params))) {
		validationsTotal.WithLabelValues(resultBadSignature).Inc()
		v.logger.WarnContext(ctx, "Webhook signature mismatch",
			"url", requestURL, "source_ip", sourceIP, "param_keys", sortedKeys(params), "signature_length", len(signature))
		return false
	}

	validationsTotal.WithLabelValues(resultAccepted).Inc()
	return true
}

func (v *Validator) sourceAllowed(ctx context.Context, sourceIP string) bool {
	if !v.rangesPresent {
		return true
	}
	sourceIP = strings.TrimSpace(sourceIP)
	if sourceIP == "" {
		return true
	}
	addr, err := netip.ParseAddr(sourceIP)
	if err != nil {
		validationsTotal.WithLabelValues(resultBadIP).Inc()
		v.logger.WarnContext(ctx, "Webhook source IP is unparsable", "source_ip", sourceIP, "error", err)
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range v.allowed {
		if prefix.Contains(addr) {
			return true
		}
	}
	validationsTotal.WithLabelValues(resultIPNotAllowed).Inc()
	v.logger.WarnContext(ctx, "Webhook source IP not in allowed ranges", "source_ip", sourceIP)
	return false
}

func (v *Validator) sign(requestURL string, params map[string]string) string {
	return computeSignature(v.authToken, requestURL, params)
}

// ComputeSignature returns the base64 signature the provider would send for a
// callback to requestURL with params, keyed by authToken.
func ComputeSignature(authToken, requestURL string, params map[string]string) string {
	return computeSignature([]byte(authToken), requestURL, params)
}

func computeSignature(key []byte, requestURL string, params map[string]string) string {
	h := hmac.New(sha1.New, key)
	_, _ = h.Write([]byte(canonicalString(requestURL, params)))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// canonicalString is the URL followed by every key+value, keys in byte order.
func canonicalString(requestURL string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(requestURL)
	for _, k := range sortedKeys(params) {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	return b.String()
}

func sortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
