package cdm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paypersist/pkg/dbtx"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
)

type Repository interface {
	Insert(ctx context.Context, msg *CdmMessage) error
	// Update overwrites the mutable columns of msg. It returns ErrNotFound when the
	// row no longer exists.
	Update(ctx context.Context, msg *CdmMessage) error
	Get(ctx context.Context, id string) (*CdmMessage, error)
	// LatestByMessageID returns the most recently created record for messageID.
	LatestByMessageID(ctx context.Context, messageID string) (*CdmMessage, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const selectColumns = `
	SELECT id, message_id, original_message_id, message_type, source,
		cdm_payload, original_payload, original_received_message_id,
		enrichment_status, creation_date_time, number_of_transactions,
		processing_status, processed_at, error_message, created_at, updated_at
	FROM cdm_messages
`

func (r *PostgresRepository) Insert(ctx context.Context, msg *CdmMessage) error {
	query := `
		INSERT INTO cdm_messages (
			id, message_id, original_message_id, message_type, source,
			cdm_payload, original_payload, original_received_message_id,
			enrichment_status, creation_date_time, number_of_transactions,
			processing_status, processed_at, error_message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	return dbtx.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			msg.ID, dbtx.NullString(msg.MessageID), dbtx.NullString(msg.OriginalMessageID),
			dbtx.NullString(msg.MessageType), string(msg.Source),
			msg.CdmPayload, msg.OriginalPayload, msg.OriginalReceivedMessageID,
			msg.EnrichmentStatus, msg.CreationDateTime, msg.NumberOfTransactions,
			msg.ProcessingStatus, msg.ProcessedAt, msg.ProcessingError, msg.CreatedAt, msg.UpdatedAt,
		)
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to insert cdm message: %w", err))
		}
		return nil
	})
}

func (r *PostgresRepository) Update(ctx context.Context, msg *CdmMessage) error {
	query := `
		UPDATE cdm_messages
		SET cdm_payload = $1, enrichment_status = $2, creation_date_time = $3,
			number_of_transactions = $4, processing_status = $5, processed_at = $6,
			updated_at = $7, original_payload = COALESCE($8, original_payload)
		WHERE id = $9
	`

	return dbtx.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query,
			msg.CdmPayload, msg.EnrichmentStatus, msg.CreationDateTime,
			msg.NumberOfTransactions, msg.ProcessingStatus, msg.ProcessedAt,
			msg.UpdatedAt, msg.OriginalPayload, msg.ID,
		)
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to update cdm message: %w", err))
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(err)
		}
		if rows == 0 {
			return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("cdm message %s not found", msg.ID))
		}
		return nil
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*CdmMessage, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("cdm message %s not found", id))
	}
	if err != nil {
		return nil, pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to get cdm message: %w", err))
	}
	return msg, nil
}

func (r *PostgresRepository) LatestByMessageID(ctx context.Context, messageID string) (*CdmMessage, error) {
	query := selectColumns + " WHERE message_id = $1 ORDER BY created_at DESC LIMIT 1"

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("no cdm message for message id %s", messageID))
	}
	if err != nil {
		return nil, pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to find cdm message by message id: %w", err))
	}
	return msg, nil
}

func scanMessage(row *sql.Row) (*CdmMessage, error) {
	var (
		msg                                         CdmMessage
		source                                      string
		messageID, originalMessageID, messageType   sql.NullString
		originalPayload, originalReceived, errorMsg sql.NullString
		creationDateTime, processedAt               sql.NullTime
		numberOfTransactions                        sql.NullInt64
	)

	if err := row.Scan(
		&msg.ID, &messageID, &originalMessageID, &messageType, &source,
		&msg.CdmPayload, &originalPayload, &originalReceived,
		&msg.EnrichmentStatus, &creationDateTime, &numberOfTransactions,
		&msg.ProcessingStatus, &processedAt, &errorMsg, &msg.CreatedAt, &msg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	msg.MessageID = messageID.String
	msg.OriginalMessageID = originalMessageID.String
	msg.MessageType = messageType.String
	msg.Source = models.Source(source)
	msg.OriginalPayload = dbtx.StringPtr(originalPayload)
	msg.OriginalReceivedMessageID = dbtx.StringPtr(originalReceived)
	msg.ProcessingError = dbtx.StringPtr(errorMsg)
	msg.NumberOfTransactions = dbtx.IntPtr(numberOfTransactions)
	msg.CreationDateTime = dbtx.TimePtr(creationDateTime)
	msg.ProcessedAt = dbtx.TimePtr(processedAt)

	return &msg, nil
}
