package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subjects used on the message broker.
const (
	SubjectStatusChangedPrefix = "sms.status." // + lower-cased status
	SubjectSendRequested       = "sms.send.requested"
)

// DeliveryStatusChangedEvent is published after a provider callback has been
// applied to a message.
type DeliveryStatusChangedEvent struct {
	EventID           uuid.UUID  `json:"event_id"`
	MessageID         int64      `json:"message_id"`
	ExternalMessageID string     `json:"external_message_id"`
	Status            string     `json:"status"`
	ProviderStatus    string     `json:"provider_status"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ErrorCode         *int       `json:"error_code,omitempty"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

// SendRequestedEvent asks the service to send one SMS.
type SendRequestedEvent struct {
	Destination string `json:"destination" validate:"required,e164"`
	Body        string `json:"body" validate:"required,max=1600"`
}
