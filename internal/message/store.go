// Package message manages the lifecycle of raw received payment messages: create,
// locate-for-update and update, with update falling back to create on a lookup miss.
package message

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"paypersist/internal/constants"
	"paypersist/internal/idempotency"
	"paypersist/internal/logger"
	"paypersist/internal/source"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/logging"
	"paypersist/pkg/metrics"
	"paypersist/pkg/models"
	"paypersist/pkg/tracing"
)

const tracerName = "message-store"

type Store struct {
	repo   Repository
	idem   idempotency.Registry
	logger logger.Logger
	now    func() time.Time
}

func NewStore(repo Repository, idem idempotency.Registry, log logger.Logger) *Store {
	if idem == nil {
		idem = idempotency.NopRegistry{}
	}
	return &Store{
		repo:   repo,
		idem:   idem,
		logger: log.Component(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) ClassifySource(hint, endpoint string) models.Source {
	return source.Classify(hint, endpoint)
}

// Prepare builds a new row without touching storage. A blank payload is a validation
// error.
func (s *Store) Prepare(payload string, meta models.ItemMetadata) (*ReceivedMessage, error) {
	if models.IsBlank(payload) {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "payload must not be blank")
	}

	now := s.now()
	status := meta.Status
	if status == "" {
		status = StatusReceived
	}

	msg := &ReceivedMessage{
		ID:               uuid.New().String(),
		MessageID:        meta.MessageID,
		CorrelationID:    meta.CorrelationID,
		MessageType:      meta.MessageType,
		Source:           s.ClassifySource(meta.SourceHint, meta.Endpoint),
		Payload:          payload,
		ProcessingStatus: status,
		ReceivedAt:       now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if msg.Source == models.SourceFile {
		if meta.FileName != "" {
			name := meta.FileName
			msg.FileName = &name
		}
		if meta.LineNumber != nil {
			line := *meta.LineNumber
			msg.LineNumber = &line
		}
	}

	return msg, nil
}

// Create stores payload as a new record. Blank payloads yield an ERROR result rather
// than an error; only storage faults are returned as errors.
func (s *Store) Create(ctx context.Context, payload string, meta models.ItemMetadata) (result *models.Result, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "message.create")
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logging.WithMessageFields(ctx, meta.MessageID, meta.CorrelationID)
	if meta.TraceID != "" && logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, meta.TraceID)
	}

	msg, err := s.Prepare(payload, meta)
	if err != nil {
		s.logger.DebugwCtx(ctx, "Rejected received message", "error", err)
		metrics.ObserveStoreWrite(constants.StoreReceived, "create", "invalid", 0)
		return models.Failure(err.Error()), nil
	}

	if id, ok := s.lookupIdempotent(ctx, meta.IdempotencyKey); ok {
		span.SetAttributes(attribute.Bool("idempotent_replay", true))
		return models.Success(id, false), nil
	}

	start := time.Now()
	if err := s.repo.Insert(ctx, msg); err != nil {
		metrics.ObserveStoreWrite(constants.StoreReceived, "create", "error", time.Since(start))
		s.logger.ErrorwCtx(ctx, "Failed to store received message", "error", err)
		return nil, pkgerrors.AsStorage(err)
	}
	metrics.ObserveStoreWrite(constants.StoreReceived, "create", "success", time.Since(start))

	s.rememberIdempotent(ctx, meta.IdempotencyKey, msg.ID)

	span.SetAttributes(attribute.String("record_id", msg.ID))
	s.logger.InfowCtx(ctx, "Stored received message", "record_id", msg.ID, "source", msg.Source)
	return models.Success(msg.ID, true), nil
}

// Update replaces the payload of existingID. An id that does not resolve to a stored
// record is a lookup miss and the payload is created as a new record instead.
// Concurrent updates of one id are last-write-wins.
func (s *Store) Update(ctx context.Context, existingID, payload string, meta models.ItemMetadata) (result *models.Result, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "message.update")
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logging.WithMessageFields(ctx, meta.MessageID, meta.CorrelationID)
	if meta.TraceID != "" && logging.GetTraceID(ctx) == "" {
		ctx = logging.WithTraceID(ctx, meta.TraceID)
	}

	if models.IsBlank(payload) {
		metrics.ObserveStoreWrite(constants.StoreReceived, "update", "invalid", 0)
		return models.Failure(pkgerrors.ErrValidation.WithDetail("message", "payload must not be blank").Error()), nil
	}

	if _, parseErr := uuid.Parse(existingID); parseErr != nil {
		return s.fallbackToCreate(ctx, existingID, payload, meta)
	}

	status := meta.Status
	if status == "" {
		status = StatusEnriched
	}

	start := time.Now()
	err = s.repo.UpdatePayload(ctx, existingID, payload, status, s.now())
	if pkgerrors.IsNotFound(err) {
		return s.fallbackToCreate(ctx, existingID, payload, meta)
	}
	if err != nil {
		metrics.ObserveStoreWrite(constants.StoreReceived, "update", "error", time.Since(start))
		s.logger.ErrorwCtx(ctx, "Failed to update received message", "record_id", existingID, "error", err)
		return nil, pkgerrors.AsStorage(err)
	}
	metrics.ObserveStoreWrite(constants.StoreReceived, "update", "success", time.Since(start))

	s.logger.InfowCtx(ctx, "Updated received message", "record_id", existingID, "status", status)
	return models.Success(existingID, false), nil
}

// Write routes to Update when the metadata carries an existing id, otherwise Create.
func (s *Store) Write(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error) {
	if meta.ExistingID != "" {
		return s.Update(ctx, meta.ExistingID, payload, meta)
	}
	return s.Create(ctx, payload, meta)
}

func (s *Store) Get(ctx context.Context, id string) (*ReceivedMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "received message "+id+" not found")
	}
	return s.repo.Get(ctx, id)
}

// InsertBatch writes already prepared rows in a single transaction.
func (s *Store) InsertBatch(ctx context.Context, msgs []*ReceivedMessage) (err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "message.insert_batch")
	span.SetAttributes(attribute.Int("batch.size", len(msgs)))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	if err := s.repo.InsertBatch(ctx, msgs); err != nil {
		metrics.ObserveStoreWrite(constants.StoreReceived, "insert_batch", "error", time.Since(start))
		s.logger.ErrorwCtx(ctx, "Bulk insert of received messages failed", "rows", len(msgs), "error", err)
		return pkgerrors.AsStorage(err)
	}
	metrics.ObserveStoreWrite(constants.StoreReceived, "insert_batch", "success", time.Since(start))
	return nil
}

func (s *Store) fallbackToCreate(ctx context.Context, existingID, payload string, meta models.ItemMetadata) (*models.Result, error) {
	metrics.IncLookupMiss(constants.StoreReceived)
	s.logger.InfowCtx(ctx, "No received message to update, creating a new one", "existing_id", existingID)

	// Only a status explicitly supplied by the caller survives the switch to create.
	meta.ExistingID = ""
	return s.Create(ctx, payload, meta)
}

func (s *Store) lookupIdempotent(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}

	id, ok, err := s.idem.Lookup(ctx, key)
	if err != nil {
		metrics.IncIdempotencyLookup("error")
		metrics.FallbackUsageTotal.WithLabelValues(constants.ServiceNamePersistence, "insert_on_registry_error", "lookup").Inc()
		s.logger.WarnwCtx(ctx, "Idempotency lookup failed, inserting without replay protection",
			"idempotency_key", key, "error", err)
		return "", false
	}
	if !ok {
		metrics.IncIdempotencyLookup("miss")
		return "", false
	}

	metrics.IncIdempotencyLookup("hit")
	s.logger.InfowCtx(ctx, "Replayed create returns the original record", "idempotency_key", key, "record_id", id)
	return id, true
}

func (s *Store) rememberIdempotent(ctx context.Context, key, id string) {
	if key == "" {
		return
	}
	if err := s.idem.Remember(ctx, key, id); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to remember idempotency key", "idempotency_key", key, "error", err)
	}
}
