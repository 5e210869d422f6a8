package smsprovider

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// MockAdapter accepts every message without talking to a provider.
type MockAdapter struct {
	logger *slog.Logger
}

func NewMockAdapter(logger *slog.Logger) *MockAdapter {
	return &MockAdapter{logger: logger.With("provider", "mock")}
}

func (p *MockAdapter) Name() string {
	return "mock"
}

func (p *MockAdapter) Send(ctx context.Context, request SendRequest) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sid := "SM" + uuid.NewString()
	p.logger.InfoContext(ctx, "MockAdapter: SMS accepted (simulated)",
		"message_id", request.InternalMessageID,
		"provider_message_id", sid,
		"content_len", len(request.Content))
	return &SendResult{ProviderMessageID: sid, ProviderStatus: "queued", ProviderName: p.Name()}, nil
}
