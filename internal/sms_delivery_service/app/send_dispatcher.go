package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flockcare/golang_services/internal/sms_delivery_service/adapters/smsprovider"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

// SendDispatcher creates the local record for an outbound SMS, hands it to the
// provider and stores the provider's identifier for later callbacks.
type SendDispatcher struct {
	repo              domain.OutboundMessageRepository
	provider          smsprovider.Adapter
	statuses          *DeliveryStatusService
	statusCallbackURL string
	logger            *slog.Logger
	now               func() time.Time
}

func NewSendDispatcher(
	repo domain.OutboundMessageRepository,
	provider smsprovider.Adapter,
	statuses *DeliveryStatusService,
	statusCallbackURL string,
	logger *slog.Logger,
) *SendDispatcher {
	return &SendDispatcher{
		repo:              repo,
		provider:          provider,
		statuses:          statuses,
		statusCallbackURL: statusCallbackURL,
		logger:            logger.With("service", "send_dispatcher"),
		now:               statuses.now,
	}
}

// Send returns the stored record. A provider rejection leaves the record
// Failed and is returned as an error alongside it.
func (d *SendDispatcher) Send(ctx context.Context, destination, body string) (*domain.OutboundMessage, error) {
	msg := domain.NewOutboundMessage(destination, body, d.now())
	if err := d.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating outbound message: %w", err)
	}

	result, sendErr := d.provider.Send(ctx, smsprovider.SendRequest{
		InternalMessageID: msg.ID,
		Recipient:         destination,
		Content:           body,
		StatusCallbackURL: d.statusCallbackURL,
	})
	if sendErr != nil {
		sendsTotal.WithLabelValues(d.provider.Name(), "error").Inc()
		d.logger.ErrorContext(ctx, "Provider send failed", "error", sendErr, "message_id", msg.ID, "provider", d.provider.Name())

		reason := sendErr.Error()
		msg.Status = domain.DeliveryStatusFailed
		msg.ErrorMessage = &reason
		msg.LastModifiedAt = d.now()
		if err := d.repo.Save(ctx, msg); err != nil {
			d.logger.ErrorContext(ctx, "Failed to mark outbound message failed", "error", err, "message_id", msg.ID)
		}
		return msg, fmt.Errorf("sending outbound message %d: %w", msg.ID, sendErr)
	}
	sendsTotal.WithLabelValues(d.provider.Name(), "accepted").Inc()

	if err := d.statuses.RecordExternalMessageID(ctx, msg.ID, result.ProviderMessageID); err != nil {
		return msg, err
	}
	msg.ExternalMessageID = &result.ProviderMessageID
	return msg, nil
}
