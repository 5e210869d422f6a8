package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"

	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

const sendJobTimeout = 30 * time.Second

// Subscriber is satisfied by *messagebroker.NatsClient.
type Subscriber interface {
	SubscribeQueue(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) error
}

// SendConsumer turns send requests arriving over NATS into provider sends.
type SendConsumer struct {
	subscriber Subscriber
	dispatcher *SendDispatcher
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewSendConsumer(subscriber Subscriber, dispatcher *SendDispatcher, logger *slog.Logger) *SendConsumer {
	return &SendConsumer{
		subscriber: subscriber,
		dispatcher: dispatcher,
		validate:   validator.New(),
		logger:     logger.With("service", "send_consumer"),
	}
}

// Run blocks until ctx is cancelled.
func (c *SendConsumer) Run(ctx context.Context, queueGroup string) error {
	if c.subscriber == nil {
		return errors.New("NATS subscriber not initialized in SendConsumer")
	}
	c.logger.InfoContext(ctx, "Starting NATS send consumer", "subject", domain.SubjectSendRequested, "queue_group", queueGroup)
	return c.subscriber.SubscribeQueue(ctx, domain.SubjectSendRequested, queueGroup, c.HandleMessage)
}

// HandleMessage processes one send request. Malformed requests are logged and dropped.
func (c *SendConsumer) HandleMessage(msg *nats.Msg) {
	natsSendRequestsReceivedTotal.WithLabelValues(msg.Subject).Inc()

	var req domain.SendRequestedEvent
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logger.Error("Failed to unmarshal send request", "error", err, "data_len", len(msg.Data))
		return
	}
	if err := c.validate.Struct(req); err != nil {
		c.logger.Warn("Rejected invalid send request", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendJobTimeout)
	defer cancel()

	sent, err := c.dispatcher.Send(ctx, req.Destination, req.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to process send request", "error", err)
		return
	}
	c.logger.InfoContext(ctx, "Send request processed", "message_id", sent.ID, "external_message_id", *sent.ExternalMessageID)
}
