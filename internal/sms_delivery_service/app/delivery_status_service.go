package app

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flockcare/golang_services/internal/platform/messagebroker"
	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

// Option configures a DeliveryStatusService.
type Option func(*DeliveryStatusService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *DeliveryStatusService) { s.now = now }
}

// lockStripes bounds the per-message locks; unrelated messages may share one.
const lockStripes = 64

// DeliveryStatusService keeps outbound message records in step with the
// provider's delivery callbacks. Callbacks for the same external id are
// applied one at a time within a process.
type DeliveryStatusService struct {
	repo      domain.OutboundMessageRepository
	publisher messagebroker.Publisher
	logger    *slog.Logger
	now       func() time.Time
	locks     [lockStripes]sync.Mutex
}

// NewDeliveryStatusService creates the service. publisher may be nil, in
// which case no status events are emitted.
func NewDeliveryStatusService(repo domain.OutboundMessageRepository, publisher messagebroker.Publisher, logger *slog.Logger, opts ...Option) *DeliveryStatusService {
	s := &DeliveryStatusService{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("service", "delivery_status"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordExternalMessageID stores the provider's identifier on the local
// record. A missing record is logged and ignored.
func (s *DeliveryStatusService) RecordExternalMessageID(ctx context.Context, localID int64, externalMessageID string) error {
	msg, err := s.repo.FindByID(ctx, localID)
	if err != nil {
		return fmt.Errorf("loading outbound message %d: %w", localID, err)
	}
	if msg == nil {
		correlationMissesTotal.WithLabelValues("local_id").Inc()
		s.logger.WarnContext(ctx, "Outbound message not found while recording external id",
			"message_id", localID, "external_message_id", externalMessageID)
		return nil
	}

	if msg.ExternalMessageID != nil && *msg.ExternalMessageID != externalMessageID {
		s.logger.WarnContext(ctx, "Overwriting external message id",
			"message_id", localID,
			"previous_external_message_id", *msg.ExternalMessageID,
			"external_message_id", externalMessageID)
	}
	msg.ExternalMessageID = &externalMessageID
	msg.LastModifiedAt = s.now()

	if err := s.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("saving external id for outbound message %d: %w", localID, err)
	}
	s.logger.InfoContext(ctx, "Recorded external message id", "message_id", localID, "external_message_id", externalMessageID)
	return nil
}

// ApplyDeliveryStatus applies one provider callback to the record it refers
// to. An unknown externalMessageID is logged and ignored; only persistence
// failures are returned.
func (s *DeliveryStatusService) ApplyDeliveryStatus(ctx context.Context, externalMessageID, providerStatus string, errorCode *int, errorMessage *string) error {
	unlock := s.lock(externalMessageID)
	defer unlock()

	msg, err := s.repo.FindByExternalMessageID(ctx, externalMessageID)
	if err != nil {
		return fmt.Errorf("loading outbound message %s: %w", externalMessageID, err)
	}
	if msg == nil {
		correlationMissesTotal.WithLabelValues("external_id").Inc()
		s.logger.WarnContext(ctx, "No outbound message for delivery callback",
			"external_message_id", externalMessageID, "provider_status", providerStatus)
		return nil
	}

	mapped, known := domain.MapProviderStatus(providerStatus)
	if !known {
		unmappedStatusTotal.Inc()
		s.logger.WarnContext(ctx, "Unmapped provider status, treating as pending",
			"external_message_id", externalMessageID, "provider_status", providerStatus)
	}

	now := s.now()
	previous := msg.Status
	next := nextStatus(previous, mapped)
	if next != mapped {
		s.logger.WarnContext(ctx, "Ignoring status regression from terminal state",
			"message_id", msg.ID,
			"external_message_id", externalMessageID,
			"status", previous.String(),
			"provider_status", providerStatus)
	}

	msg.Status = next
	raw := providerStatus
	msg.ProviderStatus = &raw
	switch next {
	case domain.DeliveryStatusDelivered:
		if msg.DeliveredAt == nil {
			msg.DeliveredAt = &now
		}
	case domain.DeliveryStatusFailed:
		if mapped == domain.DeliveryStatusFailed {
			if errorCode != nil {
				code := *errorCode
				msg.ErrorCode = &code
			}
			if errorMessage != nil && *errorMessage != "" {
				text := *errorMessage
				msg.ErrorMessage = &text
			}
		}
	}
	msg.LastModifiedAt = now

	if err := s.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("saving delivery status for %s: %w", externalMessageID, err)
	}

	statusUpdatesTotal.WithLabelValues(next.String()).Inc()
	s.logger.InfoContext(ctx, "Applied delivery status",
		"message_id", msg.ID,
		"external_message_id", externalMessageID,
		"provider_status", providerStatus,
		"previous_status", previous.String(),
		"status", next.String())

	s.publishStatusChanged(ctx, msg, providerStatus, now)
	return nil
}

func (s *DeliveryStatusService) lock(externalMessageID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(externalMessageID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// nextStatus keeps Delivered and Failed sticky; only Pending may move.
func nextStatus(current, mapped domain.DeliveryStatus) domain.DeliveryStatus {
	if current.IsTerminal() && mapped != current {
		return current
	}
	return mapped
}

func (s *DeliveryStatusService) publishStatusChanged(ctx context.Context, msg *domain.OutboundMessage, providerStatus string, occurredAt time.Time) {
	if s.publisher == nil {
		return
	}
	event := domain.DeliveryStatusChangedEvent{
		EventID:           uuid.New(),
		MessageID:         msg.ID,
		ExternalMessageID: *msg.ExternalMessageID,
		Status:            msg.Status.String(),
		ProviderStatus:    providerStatus,
		DeliveredAt:       msg.DeliveredAt,
		ErrorCode:         msg.ErrorCode,
		ErrorMessage:      msg.ErrorMessage,
		OccurredAt:        occurredAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal status event", "error", err, "message_id", msg.ID)
		return
	}
	subject := domain.SubjectStatusChangedPrefix + strings.ToLower(msg.Status.String())
	if err := s.publisher.Publish(ctx, subject, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish status event", "error", err, "subject", subject, "message_id", msg.ID)
	}
}
