package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const (
	MaxRequestBodySize = 64 << 10 // 64 KB; status callbacks are a few hundred bytes
	SignatureHeader    = "X-Twilio-Signature"
)

// SignatureValidator is satisfied by *webhookauth.Validator.
type SignatureValidator interface {
	ValidateSignature(ctx context.Context, requestURL string, params map[string]string, signature, sourceIP string) bool
}

// DeliveryStatusApplier is satisfied by *app.DeliveryStatusService.
type DeliveryStatusApplier interface {
	ApplyDeliveryStatus(ctx context.Context, externalMessageID, providerStatus string, errorCode *int, errorMessage *string) error
}

// StatusCallbackRequest is the subset of the provider's status callback form we act on.
type StatusCallbackRequest struct {
	MessageSid    string `validate:"required"`
	MessageStatus string `validate:"required"`
	ErrorCode     string `validate:"omitempty,numeric"`
	ErrorMessage  string
}

type WebhookHandler struct {
	validator SignatureValidator
	statuses  DeliveryStatusApplier
	validate  *validator.Validate
	publicURL string
	logger    *slog.Logger
}

// NewWebhookHandler builds the status callback handler. publicURL is the exact
// callback URL configured at the provider; when empty it is reconstructed
// from each request.
func NewWebhookHandler(sigValidator SignatureValidator, statuses DeliveryStatusApplier, validate *validator.Validate, publicURL string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		validator: sigValidator,
		statuses:  statuses,
		validate:  validate,
		publicURL: publicURL,
		logger:    logger.With("component", "webhook_handler"),
	}
}

// HandleStatusCallback receives delivery status callbacks from the SMS provider.
func (h *WebhookHandler) HandleStatusCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi_middleware.GetReqID(ctx)
	logger := h.logger.With("request_id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "Status callback body too large", "limit", tooLarge.Limit)
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.WarnContext(ctx, "Failed to parse status callback form", "error", err)
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return
	}

	params := flattenForm(r)
	signature := r.Header.Get(SignatureHeader)
	sourceIP := remoteIP(r.RemoteAddr)
	requestURL := h.callbackURL(r)

	if !h.validator.ValidateSignature(ctx, requestURL, params, signature, sourceIP) {
		logger.WarnContext(ctx, "Rejected status callback",
			"remote_addr", sourceIP,
			"url", requestURL,
			"signature_present", signature != "")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	req := StatusCallbackRequest{
		MessageSid:    firstNonEmpty(params["MessageSid"], params["SmsSid"]),
		MessageStatus: firstNonEmpty(params["MessageStatus"], params["SmsStatus"]),
		ErrorCode:     strings.TrimSpace(params["ErrorCode"]),
		ErrorMessage:  params["ErrorMessage"],
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		logger.WarnContext(ctx, "Invalid status callback", "error", err)
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	var errorCode *int
	if req.ErrorCode != "" {
		code, err := strconv.Atoi(req.ErrorCode)
		if err != nil {
			logger.WarnContext(ctx, "Status callback error code out of range", "error_code", req.ErrorCode)
			http.Error(w, "Invalid ErrorCode", http.StatusBadRequest)
			return
		}
		errorCode = &code
	}
	var errorMessage *string
	if _, present := r.PostForm["ErrorMessage"]; present {
		errorMessage = &req.ErrorMessage
	}

	logger.InfoContext(ctx, "Received status callback",
		"external_message_id", req.MessageSid,
		"provider_status", req.MessageStatus)

	if err := h.statuses.ApplyDeliveryStatus(ctx, req.MessageSid, req.MessageStatus, errorCode, errorMessage); err != nil {
		logger.ErrorContext(ctx, "Error applying delivery status", "error", err, "external_message_id", req.MessageSid)
		http.Error(w, "Internal server error processing callback", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) callbackURL(r *http.Request) string {
	if h.publicURL != "" {
		return h.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// flattenForm keeps the first value of each body parameter. Query parameters
// are already part of the signed URL and are not repeated here.
func flattenForm(r *http.Request) map[string]string {
	params := make(map[string]string, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}

// remoteIP strips the port that net/http leaves on RemoteAddr. After
// TrustedProxyRealIP rewrites it RemoteAddr may be a bare address.
func remoteIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
