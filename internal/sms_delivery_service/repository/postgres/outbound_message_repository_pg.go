package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/flockcare/golang_services/internal/sms_delivery_service/domain"
)

const uniqueViolation = "23505"

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgOutboundMessageRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewPgOutboundMessageRepository(db DBTX, logger *slog.Logger) *PgOutboundMessageRepository {
	return &PgOutboundMessageRepository{db: db, logger: logger.With("component", "outbound_message_repository_pg")}
}

const selectColumns = `id, external_message_id, destination_address, body, status, provider_status,
	delivered_at, error_code, error_message, created_at, last_modified_at`

const (
	insertMessageQuery = `INSERT INTO outbound_sms_messages
	(external_message_id, destination_address, body, status, provider_status, delivered_at, error_code, error_message, created_at, last_modified_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id`

	selectByIDQuery = `SELECT ` + selectColumns + ` FROM outbound_sms_messages WHERE id = $1`

	selectByExternalIDQuery = `SELECT ` + selectColumns + ` FROM outbound_sms_messages WHERE external_message_id = $1`

	// delivered_at is first-write-wins even when two duplicate callbacks race.
	updateMessageQuery = `UPDATE outbound_sms_messages SET
	external_message_id = $2,
	status = $3,
	provider_status = $4,
	delivered_at = COALESCE(delivered_at, $5),
	error_code = $6,
	error_message = $7,
	last_modified_at = $8
	WHERE id = $1`
)

func scanMessage(row pgx.Row) (*domain.OutboundMessage, error) {
	var msg domain.OutboundMessage
	var status int16
	err := row.Scan(
		&msg.ID,
		&msg.ExternalMessageID,
		&msg.DestinationAddress,
		&msg.Body,
		&status,
		&msg.ProviderStatus,
		&msg.DeliveredAt,
		&msg.ErrorCode,
		&msg.ErrorMessage,
		&msg.CreatedAt,
		&msg.LastModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Status = domain.DeliveryStatus(status)
	return &msg, nil
}

func (r *PgOutboundMessageRepository) Create(ctx context.Context, msg *domain.OutboundMessage) error {
	row := r.db.QueryRow(ctx, insertMessageQuery,
		msg.ExternalMessageID,
		msg.DestinationAddress,
		msg.Body,
		int16(msg.Status),
		msg.ProviderStatus,
		msg.DeliveredAt,
		msg.ErrorCode,
		msg.ErrorMessage,
		msg.CreatedAt,
		msg.LastModifiedAt,
	)
	if err := row.Scan(&msg.ID); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateExternalMessageID
		}
		r.logger.ErrorContext(ctx, "Error inserting outbound message", "error", err)
		return fmt.Errorf("inserting outbound message: %w", err)
	}
	return nil
}

func (r *PgOutboundMessageRepository) FindByID(ctx context.Context, id int64) (*domain.OutboundMessage, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, selectByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error scanning outbound message by ID", "message_id", id, "error", err)
		return nil, fmt.Errorf("scanning outbound message %d: %w", id, err)
	}
	return msg, nil
}

func (r *PgOutboundMessageRepository) FindByExternalMessageID(ctx context.Context, externalMessageID string) (*domain.OutboundMessage, error) {
	msg, err := scanMessage(r.db.QueryRow(ctx, selectByExternalIDQuery, externalMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error scanning outbound message by external ID", "external_message_id", externalMessageID, "error", err)
		return nil, fmt.Errorf("scanning outbound message %s: %w", externalMessageID, err)
	}
	return msg, nil
}

func (r *PgOutboundMessageRepository) Save(ctx context.Context, msg *domain.OutboundMessage) error {
	tag, err := r.db.Exec(ctx, updateMessageQuery,
		msg.ID,
		msg.ExternalMessageID,
		int16(msg.Status),
		msg.ProviderStatus,
		msg.DeliveredAt,
		msg.ErrorCode,
		msg.ErrorMessage,
		msg.LastModifiedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateExternalMessageID
		}
		r.logger.ErrorContext(ctx, "Error updating outbound message", "message_id", msg.ID, "error", err)
		return fmt.Errorf("updating outbound message %d: %w", msg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbound message %d does not exist", msg.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ domain.OutboundMessageRepository = (*PgOutboundMessageRepository)(nil)
