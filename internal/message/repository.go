package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paypersist/pkg/dbtx"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
)

type Repository interface {
	Insert(ctx context.Context, msg *ReceivedMessage) error
	// UpdatePayload replaces payload and status of an existing row and refreshes
	// updated_at and processed_at. It returns ErrNotFound when no row has the id.
	UpdatePayload(ctx context.Context, id, payload, status string, at time.Time) error
	Get(ctx context.Context, id string) (*ReceivedMessage, error)
	// InsertBatch inserts all rows in one transaction; either every row lands or none.
	InsertBatch(ctx context.Context, msgs []*ReceivedMessage) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const insertQuery = `
	INSERT INTO received_messages (
		id, message_id, correlation_id, message_type, source, payload,
		file_name, line_number, processing_status,
		received_at, created_at, updated_at, processed_at, error_message
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

func insertArgs(msg *ReceivedMessage) []interface{} {
	return []interface{}{
		msg.ID, dbtx.NullString(msg.MessageID), dbtx.NullString(msg.CorrelationID),
		dbtx.NullString(msg.MessageType), string(msg.Source), msg.Payload,
		msg.FileName, msg.LineNumber, msg.ProcessingStatus,
		msg.ReceivedAt, msg.CreatedAt, msg.UpdatedAt, msg.ProcessedAt, msg.ProcessingError,
	}
}

func (r *PostgresRepository) Insert(ctx context.Context, msg *ReceivedMessage) error {
	return dbtx.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertQuery, insertArgs(msg)...); err != nil {
			return pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to insert received message: %w", err))
		}
		return nil
	})
}

func (r *PostgresRepository) UpdatePayload(ctx context.Context, id, payload, status string, at time.Time) error {
	query := `
		UPDATE received_messages
		SET payload = $1, processing_status = $2, updated_at = $3, processed_at = $3
		WHERE id = $4
	`

	return dbtx.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, payload, status, at, id)
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to update received message: %w", err))
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(err)
		}
		if rows == 0 {
			return pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("received message %s not found", id))
		}
		return nil
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*ReceivedMessage, error) {
	query := `
		SELECT id, message_id, correlation_id, message_type, source, payload,
			file_name, line_number, processing_status,
			received_at, created_at, updated_at, processed_at, error_message
		FROM received_messages
		WHERE id = $1
	`

	var (
		msg                                   ReceivedMessage
		source                                string
		messageID, correlationID, messageType sql.NullString
		fileName, errorMessage                sql.NullString
		lineNumber                            sql.NullInt64
		processedAt                           sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &messageID, &correlationID, &messageType, &source, &msg.Payload,
		&fileName, &lineNumber, &msg.ProcessingStatus,
		&msg.ReceivedAt, &msg.CreatedAt, &msg.UpdatedAt, &processedAt, &errorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("received message %s not found", id))
	}
	if err != nil {
		return nil, pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to get received message: %w", err))
	}

	msg.MessageID = messageID.String
	msg.CorrelationID = correlationID.String
	msg.MessageType = messageType.String
	msg.Source = models.Source(source)
	msg.FileName = dbtx.StringPtr(fileName)
	msg.LineNumber = dbtx.IntPtr(lineNumber)
	msg.ProcessingError = dbtx.StringPtr(errorMessage)
	msg.ProcessedAt = dbtx.TimePtr(processedAt)

	return &msg, nil
}

func (r *PostgresRepository) InsertBatch(ctx context.Context, msgs []*ReceivedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	return dbtx.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertQuery)
		if err != nil {
			return pkgerrors.ErrStorage.WithCause(fmt.Errorf("failed to prepare batch insert: %w", err))
		}
		defer stmt.Close()

		for i, msg := range msgs {
			if _, err := stmt.ExecContext(ctx, insertArgs(msg)...); err != nil {
				return pkgerrors.ErrStorage.WithCause(fmt.Errorf("batch insert failed at row %d: %w", i, err))
			}
		}
		return nil
	})
}
