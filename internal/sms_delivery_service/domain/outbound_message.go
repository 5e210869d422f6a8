package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateExternalMessageID is returned by a repository when the
// correlation key is already held by a different record.
var ErrDuplicateExternalMessageID = errors.New("external message id already assigned to another message")

// OutboundMessage is one SMS handed to the provider and tracked until it
// reaches a terminal delivery status.
type OutboundMessage struct {
	ID                 int64          `json:"id"`
	ExternalMessageID  *string        `json:"external_message_id,omitempty"` // set once the provider acknowledges the send
	DestinationAddress string         `json:"destination_address"`
	Body               string         `json:"body"`
	Status             DeliveryStatus `json:"status"`
	ProviderStatus     *string        `json:"provider_status,omitempty"` // last raw status seen from the provider
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	ErrorCode          *int           `json:"error_code,omitempty"`
	ErrorMessage       *string        `json:"error_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	LastModifiedAt     time.Time      `json:"last_modified_at"`
}

// NewOutboundMessage returns a Pending message with no correlation key yet.
func NewOutboundMessage(destination, body string, now time.Time) *OutboundMessage {
	return &OutboundMessage{
		DestinationAddress: destination,
		Body:               body,
		Status:             DeliveryStatusPending,
		CreatedAt:          now,
		LastModifiedAt:     now,
	}
}

// OutboundMessageRepository is the persistence port for outbound messages.
// Find methods return (nil, nil) when nothing matches.
type OutboundMessageRepository interface {
	// Create inserts msg and assigns msg.ID.
	Create(ctx context.Context, msg *OutboundMessage) error
	FindByID(ctx context.Context, id int64) (*OutboundMessage, error)
	FindByExternalMessageID(ctx context.Context, externalMessageID string) (*OutboundMessage, error)
	// Save overwrites the mutable fields of an existing record.
	Save(ctx context.Context, msg *OutboundMessage) error
}
