package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrapBody(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantPayload string
		wantHeaders map[string]string
	}{
		{
			name:        "json string body",
			body:        `"<Document>pacs.008</Document>"`,
			wantPayload: "<Document>pacs.008</Document>",
		},
		{
			name:        "plain object is the payload",
			body:        `{"messageId":"M1","amount":10}`,
			wantPayload: `{"messageId":"M1","amount":10}`,
		},
		{
			name:        "envelope with headers",
			body:        `{"body":"payload-1","headers":{"message_id":"M1"}}`,
			wantPayload: "payload-1",
			wantHeaders: map[string]string{"message_id": "M1"},
		},
		{
			name:        "nested envelopes keep outer headers",
			body:        `{"headers":{"source":"MQ"},"body":{"body":{"x":1},"headers":{"source":"FILE","status":"NEW"}}}`,
			wantPayload: `{"x":1}`,
			wantHeaders: map[string]string{"source": "MQ", "status": "NEW"},
		},
		{
			name:        "object with body and other keys is not an envelope",
			body:        `{"body":"x","amount":1}`,
			wantPayload: `{"body":"x","amount":1}`,
		},
		{
			name:        "double encoded envelope",
			body:        `"{\"body\":\"inner\",\"headers\":{}}"`,
			wantPayload: "inner",
		},
		{
			name:        "body without headers is a document",
			body:        `{"body":{"GrpHdr":{"MsgId":"M1"}}}`,
			wantPayload: `{"body":{"GrpHdr":{"MsgId":"M1"}}}`,
		},
		{
			name:        "double encoded document with a body field",
			body:        `"{\"body\":\"inner\"}"`,
			wantPayload: `{"body":"inner"}`,
		},
		{
			name:        "null body",
			body:        `null`,
			wantPayload: "",
		},
		{
			name:        "blank envelope body",
			body:        `{"body":"   ","headers":{}}`,
			wantPayload: "   ",
		},
		{
			name:        "invalid json is taken verbatim",
			body:        `<xml/>`,
			wantPayload: "<xml/>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, headers := UnwrapBody(json.RawMessage(tt.body))
			assert.Equal(t, tt.wantPayload, payload)
			if tt.wantHeaders == nil {
				assert.Empty(t, headers)
			} else {
				assert.Equal(t, tt.wantHeaders, headers)
			}
		})
	}
}

func TestInboundItemPayloadAppliesHeaders(t *testing.T) {
	item := &InboundItem{
		Body:     json.RawMessage(`{"body":"p","headers":{"message_id":"M9","correlation_id":"C1","line_number":"12"}}`),
		Metadata: ItemMetadata{CorrelationID: "explicit"},
	}

	assert.Equal(t, "p", item.Payload())
	assert.Equal(t, "M9", item.Metadata.MessageID)
	assert.Equal(t, "explicit", item.Metadata.CorrelationID)
	require.NotNil(t, item.Metadata.LineNumber)
	assert.Equal(t, 12, *item.Metadata.LineNumber)
}

func TestMarshalledEnvelopeWithoutHeadersUnwraps(t *testing.T) {
	raw, err := json.Marshal(Envelope{Body: TextBody("payload")})
	require.NoError(t, err)

	payload, headers := UnwrapBody(raw)
	assert.Equal(t, "payload", payload)
	assert.Empty(t, headers)
}

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   string
		want Source
		ok   bool
	}{
		{"mq", SourceMQ, true},
		{"HTTP_API", SourceHTTPAPI, true},
		{"rest", SourceHTTPAPI, true},
		{"File", SourceFile, true},
		{"UNKNOWN", SourceUnknown, true},
		{"carrier-pigeon", SourceUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseSource(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestValidateInboundItem(t *testing.T) {
	line := -1

	assert.Error(t, ValidateInboundItem(nil))
	assert.Error(t, ValidateInboundItem(&InboundItem{}))
	assert.Error(t, ValidateInboundItem(&InboundItem{Body: TextBody("x"), Metadata: ItemMetadata{SourceHint: "fax"}}))
	assert.Error(t, ValidateInboundItem(&InboundItem{Body: TextBody("x"), Metadata: ItemMetadata{LineNumber: &line}}))
	assert.NoError(t, ValidateInboundItem(NewInboundItemBuilder().WithBody("x").Build()))
}
