package smsprovider

import (
	"context"
	"errors"
)

// ErrRejected is wrapped by adapters when the provider refused the message.
var ErrRejected = errors.New("provider rejected message")

// SendRequest holds what a provider needs to send one SMS.
type SendRequest struct {
	InternalMessageID int64
	Recipient         string
	Content           string
	StatusCallbackURL string // empty leaves the provider's account default in place
}

// SendResult is the provider's acknowledgement of an accepted message.
type SendResult struct {
	ProviderMessageID string
	ProviderStatus    string // e.g. "queued"
	ProviderName      string
}

// Adapter defines the interface for an SMS provider adapter.
type Adapter interface {
	Send(ctx context.Context, request SendRequest) (*SendResult, error)
	Name() string
}
