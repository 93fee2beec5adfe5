// Package ingest adapts the HTTP API and the Kafka topics to the message, CDM and
// batch stores.
package ingest

import (
	"context"
	"encoding/json"

	"paypersist/internal/cdm"
	"paypersist/internal/message"
	"paypersist/pkg/models"
)

type MessageService interface {
	Write(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error)
	Get(ctx context.Context, id string) (*message.ReceivedMessage, error)
}

type CdmService interface {
	Save(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error)
	Get(ctx context.Context, id string) (*cdm.CdmMessage, error)
}

type BatchSubmitter interface {
	Submit(ctx context.Context, req models.BatchRequest) (*models.BatchOutcome, error)
}

// stampEndpoint records which ingress channel an item came through unless the caller
// already named one.
func stampEndpoint(items []models.InboundItem, endpoint string) {
	for i := range items {
		if items[i].Metadata.Endpoint == "" {
			items[i].Metadata.Endpoint = endpoint
		}
	}
}

func bodyOrEmpty(raw []byte) json.RawMessage {
	if raw == nil {
		return json.RawMessage{}
	}
	return json.RawMessage(raw)
}
