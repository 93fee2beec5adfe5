// Package cdm manages the enriched canonical (CDM) representation of payment
// messages. Records are resolved for update by explicit id or by the latest record
// sharing a message id.
package cdm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"paypersist/internal/constants"
	"paypersist/internal/extract"
	"paypersist/internal/logger"
	"paypersist/internal/source"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/logging"
	"paypersist/pkg/metrics"
	"paypersist/pkg/models"
	"paypersist/pkg/tracing"
)

const tracerName = "cdm-store"

type Store struct {
	repo   Repository
	logger logger.Logger
	now    func() time.Time
}

func NewStore(repo Repository, log logger.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: log.Component(tracerName),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new CDM record. Blank payloads yield an ERROR result.
func (s *Store) Create(ctx context.Context, payload string, meta models.ItemMetadata) (result *models.Result, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "cdm.create")
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logging.WithMessageFields(ctx, meta.MessageID, meta.CorrelationID)

	if models.IsBlank(payload) {
		metrics.ObserveStoreWrite(constants.StoreCDM, "create", "invalid", 0)
		return blankPayload(), nil
	}

	return s.create(ctx, payload, meta, s.extract(ctx, payload))
}

func (s *Store) create(ctx context.Context, payload string, meta models.ItemMetadata, fields extract.Fields) (*models.Result, error) {
	now := s.now()

	msg := &CdmMessage{
		ID:                   uuid.New().String(),
		MessageID:            firstNonEmpty(meta.MessageID, deref(fields.MessageID)),
		MessageType:          meta.MessageType,
		Source:               source.Classify(meta.SourceHint, meta.Endpoint),
		EnrichmentStatus:     firstNonEmpty(meta.EnrichmentStatus, inferredEnrichment(fields), EnrichmentPending),
		CreationDateTime:     fields.CreationDateTime,
		NumberOfTransactions: fields.NumberOfTransactions,
		ProcessingStatus:     StatusProcessed,
		ProcessedAt:          &now,
		CdmPayload:           payload,
		OriginalPayload:      meta.OriginalPayload,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	msg.OriginalMessageID = firstNonEmpty(meta.OriginalMessageID, msg.MessageID)
	if meta.OriginalReceivedMessageID != "" {
		ref := meta.OriginalReceivedMessageID
		msg.OriginalReceivedMessageID = &ref
	}

	start := time.Now()
	if err := s.repo.Insert(ctx, msg); err != nil {
		metrics.ObserveStoreWrite(constants.StoreCDM, "create", "error", time.Since(start))
		s.logger.ErrorwCtx(ctx, "Failed to store cdm message", "error", err)
		return nil, pkgerrors.AsStorage(err)
	}
	metrics.ObserveStoreWrite(constants.StoreCDM, "create", "success", time.Since(start))

	s.logger.InfowCtx(ctx, "Stored cdm message",
		"record_id", msg.ID,
		"message_id", msg.MessageID,
		"enrichment_status", msg.EnrichmentStatus,
	)
	return models.Success(msg.ID, true), nil
}

// FindForUpdate resolves the record a write should update: the record with
// existingID if there is one, else the most recently created record for messageID.
// It returns nil without error when neither resolves.
func (s *Store) FindForUpdate(ctx context.Context, existingID, messageID string) (*CdmMessage, error) {
	if existingID != "" {
		if _, err := uuid.Parse(existingID); err == nil {
			msg, err := s.repo.Get(ctx, existingID)
			if err == nil {
				return msg, nil
			}
			if !pkgerrors.IsNotFound(err) {
				return nil, pkgerrors.AsStorage(err)
			}
		}
	}

	if messageID != "" {
		msg, err := s.repo.LatestByMessageID(ctx, messageID)
		if err == nil {
			return msg, nil
		}
		if !pkgerrors.IsNotFound(err) {
			return nil, pkgerrors.AsStorage(err)
		}
	}

	return nil, nil
}

// Update overwrites record with payload and re-runs extraction. The enrichment status
// becomes the caller's explicit value or ENRICHED. A record deleted since it was
// found is created anew.
func (s *Store) Update(ctx context.Context, record *CdmMessage, payload string, meta models.ItemMetadata) (result *models.Result, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "cdm.update")
	defer func() { tracing.EndSpan(span, err) }()
	ctx = logging.WithMessageFields(ctx, meta.MessageID, meta.CorrelationID)

	if models.IsBlank(payload) {
		metrics.ObserveStoreWrite(constants.StoreCDM, "update", "invalid", 0)
		return blankPayload(), nil
	}

	fields := s.extract(ctx, payload)
	if record == nil {
		return s.fallbackToCreate(ctx, "", payload, meta, fields)
	}

	now := s.now()
	updated := *record
	updated.CdmPayload = payload
	updated.CreationDateTime = fields.CreationDateTime
	updated.NumberOfTransactions = fields.NumberOfTransactions
	updated.EnrichmentStatus = firstNonEmpty(meta.EnrichmentStatus, EnrichmentEnriched)
	updated.ProcessingStatus = StatusProcessed
	updated.ProcessedAt = &now
	updated.UpdatedAt = now
	if meta.OriginalPayload != nil {
		updated.OriginalPayload = meta.OriginalPayload
	}

	span.SetAttributes(attribute.String("record_id", updated.ID))

	start := time.Now()
	err = s.repo.Update(ctx, &updated)
	if pkgerrors.IsNotFound(err) {
		return s.fallbackToCreate(ctx, updated.ID, payload, meta, fields)
	}
	if err != nil {
		metrics.ObserveStoreWrite(constants.StoreCDM, "update", "error", time.Since(start))
		s.logger.ErrorwCtx(ctx, "Failed to update cdm message", "record_id", updated.ID, "error", err)
		return nil, pkgerrors.AsStorage(err)
	}
	metrics.ObserveStoreWrite(constants.StoreCDM, "update", "success", time.Since(start))

	*record = updated
	s.logger.InfowCtx(ctx, "Updated cdm message", "record_id", updated.ID, "enrichment_status", updated.EnrichmentStatus)
	return models.Success(updated.ID, false), nil
}

// Save updates the record resolved by FindForUpdate or creates a new one. The message
// id used for resolution comes from the metadata or, failing that, the payload.
func (s *Store) Save(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error) {
	if models.IsBlank(payload) {
		metrics.ObserveStoreWrite(constants.StoreCDM, "save", "invalid", 0)
		return blankPayload(), nil
	}

	messageID := meta.MessageID
	if messageID == "" {
		messageID = deref(extract.Extract(payload).MessageID)
	}

	record, err := s.FindForUpdate(ctx, meta.ExistingID, messageID)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to resolve cdm message for update", "existing_id", meta.ExistingID, "error", err)
		return nil, err
	}
	if record == nil {
		if meta.ExistingID != "" || meta.MessageID != "" {
			metrics.IncLookupMiss(constants.StoreCDM)
			s.logger.InfowCtx(ctx, "No cdm message to update, creating a new one",
				"existing_id", meta.ExistingID, "message_id", messageID)
		}
		return s.Create(ctx, payload, meta)
	}
	return s.Update(ctx, record, payload, meta)
}

func (s *Store) Get(ctx context.Context, id string) (*CdmMessage, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "cdm message "+id+" not found")
	}
	return s.repo.Get(ctx, id)
}

func (s *Store) fallbackToCreate(ctx context.Context, existingID, payload string, meta models.ItemMetadata, fields extract.Fields) (*models.Result, error) {
	metrics.IncLookupMiss(constants.StoreCDM)
	s.logger.InfowCtx(ctx, "Cdm message vanished before update, creating a new one", "existing_id", existingID)
	return s.create(ctx, payload, meta, fields)
}

func (s *Store) extract(ctx context.Context, payload string) extract.Fields {
	fields := extract.Extract(payload)
	if len(fields.Issues) > 0 {
		metrics.IncExtractionIssue(constants.StoreCDM)
		s.logger.WarnwCtx(ctx, "Could not extract all cdm fields, defaults applied",
			"error_code", pkgerrors.ErrParse.Code,
			"issues", fields.Issues,
		)
	}
	return fields
}

// inferredEnrichment accepts an extracted status only if it is one extraction may
// set. FAILED must come from the caller.
func inferredEnrichment(fields extract.Fields) string {
	if fields.EnrichmentStatus == nil {
		return ""
	}
	switch status := strings.ToUpper(strings.TrimSpace(*fields.EnrichmentStatus)); status {
	case EnrichmentPending, EnrichmentEnriched:
		return status
	default:
		return ""
	}
}

func blankPayload() *models.Result {
	return models.Failure(pkgerrors.ErrValidation.WithDetail("message", "cdm payload must not be blank").Error())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
