package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

// OutboundMessageRepository keeps messages in process memory. It is used by
// the memory store driver and by tests; it keeps the same correlation-key
// uniqueness guarantee as the postgres store.
type OutboundMessageRepository struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]*domain.OutboundMessage
	byExternal map[string]int64
}

func NewOutboundMessageRepository() *OutboundMessageRepository {
	return &OutboundMessageRepository{
		byID:       make(map[int64]*domain.OutboundMessage),
		byExternal: make(map[string]int64),
	}
}

func (r *OutboundMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ExternalMessageID != nil {
		if _, taken := r.byExternal[*msg.ExternalMessageID]; taken {
			return domain.ErrDuplicateExternalMessageID
		}
	}
	r.nextID++
	msg.ID = r.nextID
	stored := clone(msg)
	r.byID[stored.ID] = stored
	if stored.ExternalMessageID != nil {
		r.byExternal[*stored.ExternalMessageID] = stored.ID
	}
	return nil
}

func (r *OutboundMessageRepository) FindByID(ctx context.Context, id int64) (*domain.OutboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(msg), nil
}

func (r *OutboundMessageRepository) FindByExternalMessageID(ctx context.Context, externalMessageID string) (*domain.OutboundMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byExternal[externalMessageID]
	if !ok {
		return nil, nil
	}
	return clone(r.byID[id]), nil
}

func (r *OutboundMessageRepository) Save(ctx context.Context, msg *domain.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[msg.ID]
	if !ok {
		return fmt.Errorf("outbound message %d does not exist", msg.ID)
	}
	if msg.ExternalMessageID != nil {
		if owner, taken := r.byExternal[*msg.ExternalMessageID]; taken && owner != msg.ID {
			return domain.ErrDuplicateExternalMessageID
		}
	}
	if existing.ExternalMessageID != nil {
		delete(r.byExternal, *existing.ExternalMessageID)
	}
	stored := clone(msg)
	if existing.DeliveredAt != nil {
		v := *existing.DeliveredAt
		stored.DeliveredAt = &v
	}
	r.byID[stored.ID] = stored
	if stored.ExternalMessageID != nil {
		r.byExternal[*stored.ExternalMessageID] = stored.ID
	}
	return nil
}

// clone deep-copies pointer fields so callers never share state with the store.
func clone(msg *domain.OutboundMessage) *domain.OutboundMessage {
	c := *msg
	if msg.ExternalMessageID != nil {
		v := *msg.ExternalMessageID
		c.ExternalMessageID = &v
	}
	if msg.ProviderStatus != nil {
		v := *msg.ProviderStatus
		c.ProviderStatus = &v
	}
	if msg.DeliveredAt != nil {
		v := *msg.DeliveredAt
		c.DeliveredAt = &v
	}
	if msg.ErrorCode != nil {
		v := *msg.ErrorCode
		c.ErrorCode = &v
	}
	if msg.ErrorMessage != nil {
		v := *msg.ErrorMessage
		c.ErrorMessage = &v
	}
	return &c
}

var _ domain.OutboundMessageRepository = (*OutboundMessageRepository)(nil)
