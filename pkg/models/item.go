package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const maxEnvelopeDepth = 8

// InboundItem is what ingress adapters hand to the persistence core: a body plus
// optional identity and status metadata.
type InboundItem struct {
	ID        string          `json:"id,omitempty"`
	Body      json.RawMessage `json:"body"`
	Metadata  ItemMetadata    `json:"metadata"`
	Timestamp time.Time       `json:"timestamp"`
}

type ItemMetadata struct {
	MessageID     string `json:"message_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	MessageType   string `json:"message_type,omitempty"`
	SourceHint    string `json:"source,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	FileName      string `json:"file_name,omitempty"`
	LineNumber    *int   `json:"line_number,omitempty"`

	// ExistingID marks the write as an update of a previously stored record.
	ExistingID string `json:"existing_id,omitempty"`
	Status     string `json:"status,omitempty"`

	EnrichmentStatus          string  `json:"enrichment_status,omitempty"`
	OriginalMessageID         string  `json:"original_message_id,omitempty"`
	OriginalPayload           *string `json:"original_payload,omitempty"`
	OriginalReceivedMessageID string  `json:"original_received_message_id,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
}

// Envelope is the wrapper some channels put around the real body.
type Envelope struct {
	Body    json.RawMessage   `json:"body"`
	Headers map[string]string `json:"headers"`
}

// TextBody encodes a plain text payload as a JSON string body.
func TextBody(payload string) json.RawMessage {
	b, _ := json.Marshal(payload)
	return b
}

// UnwrapBody peels envelopes off a body and returns the payload text together with
// the headers collected on the way down. Outer headers take precedence.
func UnwrapBody(raw json.RawMessage) (string, map[string]string) {
	headers := map[string]string{}
	current := raw

	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		trimmed := bytes.TrimSpace(current)
		if len(trimmed) == 0 {
			return "", headers
		}
		if !json.Valid(trimmed) {
			return string(trimmed), headers
		}

		switch trimmed[0] {
		case '"':
			var text string
			if err := json.Unmarshal(trimmed, &text); err != nil {
				return string(trimmed), headers
			}
			inner := bytes.TrimSpace([]byte(text))
			if len(inner) > 0 && inner[0] == '{' {
				if body, h, ok := openEnvelope(inner); ok {
					mergeHeaders(headers, h)
					current = body
					continue
				}
			}
			return text, headers
		case 'n':
			return "", headers
		case '{':
			body, h, ok := openEnvelope(trimmed)
			if !ok {
				return string(trimmed), headers
			}
			mergeHeaders(headers, h)
			current = body
		default:
			return string(trimmed), headers
		}
	}

	return string(bytes.TrimSpace(current)), headers
}

func openEnvelope(raw []byte) (json.RawMessage, map[string]string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, false
	}
	// Both keys are required so a document that merely has a body field stays intact.
	body, ok := fields["body"]
	if !ok {
		return nil, nil, false
	}
	rawHeaders, ok := fields["headers"]
	if !ok {
		return nil, nil, false
	}
	for key := range fields {
		if key != "body" && key != "headers" {
			return nil, nil, false
		}
	}

	headers := map[string]string{}
	var values map[string]interface{}
	if err := json.Unmarshal(rawHeaders, &values); err == nil {
		for k, v := range values {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				headers[k] = s
			} else {
				headers[k] = fmt.Sprint(v)
			}
		}
	}
	return body, headers, true
}

func mergeHeaders(dst, src map[string]string) {
	for k, v := range src {
		if _, exists := dst[k]; !exists {
			dst[k] = v
		}
	}
}

// ApplyHeaders fills empty metadata fields from envelope headers.
func (m *ItemMetadata) ApplyHeaders(headers map[string]string) {
	if len(headers) == 0 {
		return
	}
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if v := headers[key]; v != "" {
				*dst = v
				return
			}
		}
	}

	fill(&m.MessageID, "message_id", "messageId")
	fill(&m.CorrelationID, "correlation_id", "correlationId")
	fill(&m.MessageType, "message_type", "messageType")
	fill(&m.SourceHint, "source")
	fill(&m.FileName, "file_name", "fileName")
	fill(&m.ExistingID, "existing_id", "existingId")
	fill(&m.Status, "status", "processing_status")
	fill(&m.EnrichmentStatus, "enrichment_status", "enrichmentStatus")
	fill(&m.OriginalMessageID, "original_message_id", "originalMessageId")
	fill(&m.IdempotencyKey, "idempotency_key")
	fill(&m.TraceID, "trace_id")

	if m.LineNumber == nil {
		for _, key := range []string{"line_number", "lineNumber"} {
			if n, err := strconv.Atoi(headers[key]); err == nil {
				m.LineNumber = &n
				break
			}
		}
	}
}
