package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/internal/broker"
	"paypersist/internal/logger"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
	"paypersist/pkg/retry"
)

const resultTopic = "payments.persistence.results"

func newKafkaHandler() (*KafkaHandler, *fakeMessages, *fakeCdms, *fakeBatches, *fakePublisher) {
	msgs := newFakeMessages()
	cdms := newFakeCdms()
	batches := &fakeBatches{}
	pub := &fakePublisher{}
	return NewKafkaHandler(msgs, cdms, batches, pub, resultTopic, logger.NopLogger()), msgs, cdms, batches, pub
}

func TestHandleRaw_UsesCoordinatesAsIdempotencyKey(t *testing.T) {
	h, msgs, _, _, pub := newKafkaHandler()

	err := h.HandleRaw(context.Background(), broker.Message{
		Topic:     "payments.raw",
		Partition: 1,
		Offset:    7,
		Value:     []byte("<Document/>"),
		Headers:   map[string]string{"message_id": "M1", "correlation_id": "C1"},
	})
	require.NoError(t, err)

	require.Len(t, msgs.calls, 1)
	call := msgs.calls[0]
	assert.Equal(t, "<Document/>", call.payload)
	assert.Equal(t, "kafka:payments.raw/1/7", call.meta.IdempotencyKey)
	assert.Equal(t, "M1", call.meta.MessageID)
	assert.Equal(t, "mq:kafka/payments.raw", call.meta.Endpoint)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, resultTopic, pub.calls[0].topic)
	assert.Equal(t, "M1", pub.calls[0].key)
	assert.Equal(t, "C1", pub.calls[0].event.CorrelationID)
	assert.Equal(t, models.StatusSuccess, pub.calls[0].event.Result.Status)
}

func TestHandleRaw_UnwrapsEnvelope(t *testing.T) {
	h, msgs, _, _, _ := newKafkaHandler()

	err := h.HandleRaw(context.Background(), broker.Message{
		Topic: "payments.raw",
		Value: []byte(`{"body":"inner payload","headers":{"message_id":"M-env","idempotency_key":"client-key"}}`),
	})
	require.NoError(t, err)

	call := msgs.calls[0]
	assert.Equal(t, "inner payload", call.payload)
	assert.Equal(t, "M-env", call.meta.MessageID)
	assert.Equal(t, "client-key", call.meta.IdempotencyKey)
}

func TestHandleRaw_EnvelopeKeySurvivesRepublish(t *testing.T) {
	h, msgs, _, _, _ := newKafkaHandler()
	value := []byte(`{"body":"p","headers":{"idempotency_key":"order-42"}}`)

	for _, offset := range []int64{7, 9} {
		err := h.HandleRaw(context.Background(), broker.Message{
			Topic:  "payments.raw",
			Offset: offset,
			Value:  value,
		})
		require.NoError(t, err)
	}

	require.Len(t, msgs.calls, 2)
	assert.Equal(t, "order-42", msgs.calls[0].meta.IdempotencyKey)
	assert.Equal(t, "order-42", msgs.calls[1].meta.IdempotencyKey)
}

func TestHandleRaw_BlankIsReportedNotRetried(t *testing.T) {
	h, _, _, _, pub := newKafkaHandler()

	err := h.HandleRaw(context.Background(), broker.Message{Topic: "payments.raw"})
	require.NoError(t, err)

	require.Len(t, pub.calls, 1)
	assert.Equal(t, models.StatusError, pub.calls[0].event.Result.Status)
}

func TestHandleRaw_StorageErrorIsReturnedForRetry(t *testing.T) {
	h, msgs, _, _, pub := newKafkaHandler()
	msgs.err = pkgerrors.ErrStorage.WithCause(errors.New("connection refused"))

	err := h.HandleRaw(context.Background(), broker.Message{Topic: "payments.raw", Value: []byte("x")})

	assert.True(t, pkgerrors.IsStorage(err))
	assert.False(t, retry.IsFatal(err))
	assert.Empty(t, pub.calls)
}

func TestHandleRaw_PublishFailureDoesNotFailMessage(t *testing.T) {
	h, _, _, _, pub := newKafkaHandler()
	pub.err = errors.New("broker unavailable")

	err := h.HandleRaw(context.Background(), broker.Message{Topic: "payments.raw", Value: []byte("x")})
	assert.NoError(t, err)
}

func TestHandleCdm(t *testing.T) {
	h, _, cdms, _, pub := newKafkaHandler()

	err := h.HandleCdm(context.Background(), broker.Message{
		Topic:   "payments.cdm",
		Value:   []byte(`{"messageId":"M1","enrichmentStatus":"ENRICHED"}`),
		Headers: map[string]string{"original_message_id": "ORIG"},
	})
	require.NoError(t, err)

	require.Len(t, cdms.calls, 1)
	assert.Equal(t, "ORIG", cdms.calls[0].meta.OriginalMessageID)
	assert.Empty(t, cdms.calls[0].meta.IdempotencyKey)
	assert.Len(t, pub.calls, 1)
}

func TestHandleBatch(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		outcome    *models.BatchOutcome
		err        error
		wantErr    func(error) bool
		published  bool
		wantStatus models.Status
	}{
		{
			name:       "partial success is reported",
			value:      `{"target":"cdm","items":[{"body":"a"},{"body":""}]}`,
			outcome:    &models.BatchOutcome{Total: 2, SuccessCount: 1, FailureCount: 1, Status: models.StatusPartialSuccess},
			published:  true,
			wantStatus: models.StatusPartialSuccess,
		},
		{
			name:       "total failure is reported, not retried",
			value:      `{"items":[{"body":""}]}`,
			outcome:    &models.BatchOutcome{Total: 1, FailureCount: 1, Status: models.StatusFailed},
			err:        pkgerrors.ErrTotalBatch,
			published:  true,
			wantStatus: models.StatusFailed,
		},
		{
			name:       "rejected request is reported",
			value:      `{"target":"ledger","items":[]}`,
			err:        pkgerrors.ErrValidation.WithDetail("message", "unknown batch target"),
			published:  true,
			wantStatus: models.StatusError,
		},
		{
			name:    "bulk storage failure is retried",
			value:   `{"mode":"bulk","items":[{"body":"a"}]}`,
			outcome: &models.BatchOutcome{Total: 1, FailureCount: 1, Status: models.StatusFailed},
			err:     pkgerrors.ErrStorage,
			wantErr: pkgerrors.IsStorage,
		},
		{
			name:    "malformed request is fatal",
			value:   `{"items":`,
			wantErr: retry.IsFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _, batches, pub := newKafkaHandler()
			batches.outcome, batches.err = tt.outcome, tt.err

			err := h.HandleBatch(context.Background(), broker.Message{Topic: "payments.batch", Value: []byte(tt.value)})

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err))
			} else {
				require.NoError(t, err)
			}

			if !tt.published {
				assert.Empty(t, pub.calls)
				return
			}
			require.Len(t, pub.calls, 1)
			assert.Equal(t, tt.wantStatus, pub.calls[0].event.Result.Status)
		})
	}
}

func TestHandleBatch_DefaultsTargetAndStampsEndpoint(t *testing.T) {
	h, _, _, batches, _ := newKafkaHandler()
	batches.outcome = &models.BatchOutcome{Total: 1, SuccessCount: 1, Status: models.StatusSuccess}

	err := h.HandleBatch(context.Background(), broker.Message{
		Topic: "payments.batch",
		Value: []byte(`{"items":[{"body":"a"},{"body":"b","metadata":{"endpoint":"file:/in/batch.csv"}}]}`),
	})
	require.NoError(t, err)

	req := batches.requests[0]
	assert.Equal(t, "received", req.Target)
	assert.Equal(t, "mq:kafka/payments.batch", req.Items[0].Metadata.Endpoint)
	assert.Equal(t, "file:/in/batch.csv", req.Items[1].Metadata.Endpoint)
}
