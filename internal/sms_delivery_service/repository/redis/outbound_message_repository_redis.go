package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

const (
	keySequence       = "sms:msg:seq"
	keyMessagePrefix  = "sms:msg:"
	keyExternalPrefix = "sms:ext:"

	maxSaveAttempts = 5
)

func messageKey(id int64) string {
	return keyMessagePrefix + strconv.FormatInt(id, 10)
}

func externalKey(externalMessageID string) string {
	return keyExternalPrefix + externalMessageID
}

// RedisOutboundMessageRepository stores each message as a JSON document with a
// secondary key per correlation ID. Ownership of a correlation ID is claimed
// with SETNX, which gives the same uniqueness guarantee as the postgres index.
type RedisOutboundMessageRepository struct {
	rc     *redis.Client
	logger *slog.Logger
}

func NewRedisOutboundMessageRepository(rc *redis.Client, logger *slog.Logger) *RedisOutboundMessageRepository {
	return &RedisOutboundMessageRepository{rc: rc, logger: logger.With("component", "outbound_message_repository_redis")}
}

func (r *RedisOutboundMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	id, err := r.rc.Incr(ctx, keySequence).Result()
	if err != nil {
		return fmt.Errorf("allocating outbound message id: %w", err)
	}
	if msg.ExternalMessageID != nil {
		if err := r.claimExternalID(ctx, *msg.ExternalMessageID, id); err != nil {
			return err
		}
	}
	msg.ID = id
	if err := r.put(ctx, msg); err != nil {
		if msg.ExternalMessageID != nil {
			r.rc.Del(ctx, externalKey(*msg.ExternalMessageID))
		}
		return err
	}
	return nil
}

func (r *RedisOutboundMessageRepository) FindByID(ctx context.Context, id int64) (*domain.OutboundMessage, error) {
	raw, err := r.rc.Get(ctx, messageKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error reading outbound message", "message_id", id, "error", err)
		return nil, fmt.Errorf("reading outbound message %d: %w", id, err)
	}
	var msg domain.OutboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decoding outbound message %d: %w", id, err)
	}
	return &msg, nil
}

func (r *RedisOutboundMessageRepository) FindByExternalMessageID(ctx context.Context, externalMessageID string) (*domain.OutboundMessage, error) {
	id, err := r.rc.Get(ctx, externalKey(externalMessageID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error resolving external message id", "external_message_id", externalMessageID, "error", err)
		return nil, fmt.Errorf("resolving external message id %s: %w", externalMessageID, err)
	}
	return r.FindByID(ctx, id)
}

// Save replaces the stored document under WATCH on its key, so a concurrent
// writer forces a retry instead of a lost update. A stored DeliveredAt is
// never moved, matching the postgres COALESCE.
func (r *RedisOutboundMessageRepository) Save(ctx context.Context, msg *domain.OutboundMessage) error {
	key := messageKey(msg.ID)
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err := r.rc.Watch(ctx, func(tx *redis.Tx) error {
			return r.saveWatched(ctx, tx, msg)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	r.logger.ErrorContext(ctx, "Gave up updating contended outbound message", "message_id", msg.ID, "attempts", maxSaveAttempts)
	return fmt.Errorf("updating outbound message %d: %w", msg.ID, redis.TxFailedErr)
}

func (r *RedisOutboundMessageRepository) saveWatched(ctx context.Context, tx *redis.Tx, msg *domain.OutboundMessage) error {
	raw, err := tx.Get(ctx, messageKey(msg.ID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("outbound message %d does not exist", msg.ID)
	}
	if err != nil {
		return fmt.Errorf("reading outbound message %d: %w", msg.ID, err)
	}
	var existing domain.OutboundMessage
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("decoding outbound message %d: %w", msg.ID, err)
	}

	var staleExternal string
	if existing.ExternalMessageID != nil {
		staleExternal = *existing.ExternalMessageID
	}
	if msg.ExternalMessageID != nil && *msg.ExternalMessageID != staleExternal {
		if err := r.claimExternalID(ctx, *msg.ExternalMessageID, msg.ID); err != nil {
			return err
		}
	}
	if existing.DeliveredAt != nil {
		msg.DeliveredAt = existing.DeliveredAt
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding outbound message %d: %w", msg.ID, err)
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messageKey(msg.ID), data, 0)
		if staleExternal != "" && (msg.ExternalMessageID == nil || *msg.ExternalMessageID != staleExternal) {
			pipe.Del(ctx, externalKey(staleExternal))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		r.logger.ErrorContext(ctx, "Error updating outbound message", "message_id", msg.ID, "error", err)
		return fmt.Errorf("updating outbound message %d: %w", msg.ID, err)
	}
	return err
}

// claimExternalID binds externalMessageID to id unless another message holds it.
func (r *RedisOutboundMessageRepository) claimExternalID(ctx context.Context, externalMessageID string, id int64) error {
	key := externalKey(externalMessageID)
	ok, err := r.rc.SetNX(ctx, key, id, 0).Result()
	if err != nil {
		return fmt.Errorf("claiming external message id %s: %w", externalMessageID, err)
	}
	if ok {
		return nil
	}
	owner, err := r.rc.Get(ctx, key).Int64()
	if err != nil {
		return fmt.Errorf("reading owner of external message id %s: %w", externalMessageID, err)
	}
	if owner != id {
		return domain.ErrDuplicateExternalMessageID
	}
	return nil
}

func (r *RedisOutboundMessageRepository) put(ctx context.Context, msg *domain.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding outbound message %d: %w", msg.ID, err)
	}
	if err := r.rc.Set(ctx, messageKey(msg.ID), data, 0).Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error writing outbound message", "message_id", msg.ID, "error", err)
		return fmt.Errorf("writing outbound message %d: %w", msg.ID, err)
	}
	return nil
}

var _ domain.OutboundMessageRepository = (*RedisOutboundMessageRepository)(nil)
