package message

import (
	"time"

	"paypersist/pkg/models"
)

const (
	StatusReceived = "RECEIVED"
	StatusEnriched = "ENRICHED"
)

// ReceivedMessage is an inbound message as it was durably recorded.
type ReceivedMessage struct {
	ID               string        `json:"id" db:"id"`
	MessageID        string        `json:"message_id,omitempty" db:"message_id"`
	CorrelationID    string        `json:"correlation_id,omitempty" db:"correlation_id"`
	MessageType      string        `json:"message_type,omitempty" db:"message_type"`
	Source           models.Source `json:"source" db:"source"`
	Payload          string        `json:"payload" db:"payload"`
	FileName         *string       `json:"file_name,omitempty" db:"file_name"`
	LineNumber       *int          `json:"line_number,omitempty" db:"line_number"`
	ProcessingStatus string        `json:"processing_status" db:"processing_status"`
	ReceivedAt       time.Time     `json:"received_at" db:"received_at"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at" db:"updated_at"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
	ProcessingError  *string       `json:"processing_error,omitempty" db:"error_message"`
}
