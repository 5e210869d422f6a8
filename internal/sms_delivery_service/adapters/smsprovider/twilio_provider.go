package smsprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// TwilioConfig holds account credentials for the Messages REST API.
type TwilioConfig struct {
	BaseURL           string // e.g. https://api.twilio.com
	AccountSID        string
	AuthToken         string
	FromNumber        string
	StatusCallbackURL string
}

type TwilioAdapter struct {
	cfg        TwilioConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewTwilioAdapter(cfg TwilioConfig, httpClient *http.Client, logger *slog.Logger) *TwilioAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TwilioAdapter{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("provider", "twilio"),
	}
}

func (p *TwilioAdapter) Name() string {
	return "twilio"
}

type twilioMessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func (p *TwilioAdapter) Send(ctx context.Context, request SendRequest) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", request.Recipient)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Body", request.Content)
	callback := request.StatusCallbackURL
	if callback == "" {
		callback = p.cfg.StatusCallbackURL
	}
	if callback != "" {
		form.Set("StatusCallback", callback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.cfg.BaseURL, url.PathEscape(p.cfg.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request for twilio: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	start := time.Now()
	httpResp, err := p.httpClient.Do(httpReq)
	providerRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to send request to twilio", "error", err, "message_id", request.InternalMessageID)
		return nil, fmt.Errorf("failed to send request to twilio: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read twilio response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var apiErr twilioErrorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(httpResp.StatusCode)
		}
		p.logger.WarnContext(ctx, "Twilio rejected message",
			"message_id", request.InternalMessageID,
			"status_code", httpResp.StatusCode,
			"error_code", apiErr.Code,
			"error_message", apiErr.Message)
		return nil, fmt.Errorf("%w: twilio status %d code %d: %s", ErrRejected, httpResp.StatusCode, apiErr.Code, apiErr.Message)
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode twilio response: %w", err)
	}
	if msg.SID == "" {
		return nil, fmt.Errorf("twilio response carried no message sid")
	}

	p.logger.InfoContext(ctx, "SMS accepted by twilio",
		"message_id", request.InternalMessageID,
		"provider_message_id", msg.SID,
		"provider_status", msg.Status)
	return &SendResult{ProviderMessageID: msg.SID, ProviderStatus: msg.Status, ProviderName: p.Name()}, nil
}
