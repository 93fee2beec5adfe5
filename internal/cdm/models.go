package cdm

import (
	"time"

	"paypersist/pkg/models"
)

const (
	EnrichmentPending  = "PENDING"
	EnrichmentEnriched = "ENRICHED"
	EnrichmentFailed   = "FAILED"

	StatusProcessed = "PROCESSED"
)

// CdmMessage is the enriched canonical representation of a payment message.
type CdmMessage struct {
	ID                        string        `json:"id" db:"id"`
	MessageID                 string        `json:"message_id,omitempty" db:"message_id"`
	OriginalMessageID         string        `json:"original_message_id,omitempty" db:"original_message_id"`
	MessageType               string        `json:"message_type,omitempty" db:"message_type"`
	Source                    models.Source `json:"source" db:"source"`
	EnrichmentStatus          string        `json:"enrichment_status" db:"enrichment_status"`
	CreationDateTime          *time.Time    `json:"creation_date_time,omitempty" db:"creation_date_time"`
	NumberOfTransactions      *int          `json:"number_of_transactions,omitempty" db:"number_of_transactions"`
	ProcessingStatus          string        `json:"processing_status" db:"processing_status"`
	ProcessedAt               *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
	ProcessingError           *string       `json:"processing_error,omitempty" db:"error_message"`
	CdmPayload                string        `json:"cdm_payload" db:"cdm_payload"`
	OriginalPayload           *string       `json:"original_payload,omitempty" db:"original_payload"`
	OriginalReceivedMessageID *string       `json:"original_received_message_id,omitempty" db:"original_received_message_id"`
	CreatedAt                 time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time     `json:"updated_at" db:"updated_at"`
}
