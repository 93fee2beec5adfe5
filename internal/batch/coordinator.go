// Package batch writes many inbound items in one call and aggregates the per-item
// results into a single BatchOutcome.
//
// In per-item mode every item is its own store call and its own transaction, so the
// counts in an outcome are final when it is returned. Bulk mode inserts all prepared
// rows in one transaction; rows that fail while that transaction executes cannot be
// told apart, so every accepted row is then counted as failed with the shared error.
package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"paypersist/internal/audit"
	"paypersist/internal/constants"
	"paypersist/internal/logger"
	"paypersist/internal/message"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/metrics"
	"paypersist/pkg/models"
	"paypersist/pkg/tracing"
)

const tracerName = "batch-coordinator"

type Target string

const (
	TargetReceived Target = "received"
	TargetCDM      Target = "cdm"
)

func ParseTarget(value string) (Target, bool) {
	switch Target(strings.ToLower(strings.TrimSpace(value))) {
	case TargetReceived:
		return TargetReceived, true
	case TargetCDM:
		return TargetCDM, true
	default:
		return "", false
	}
}

type MessageWriter interface {
	Write(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error)
	Prepare(payload string, meta models.ItemMetadata) (*message.ReceivedMessage, error)
	InsertBatch(ctx context.Context, msgs []*message.ReceivedMessage) error
}

type CdmWriter interface {
	Save(ctx context.Context, payload string, meta models.ItemMetadata) (*models.Result, error)
}

type Coordinator struct {
	messages    MessageWriter
	cdms        CdmWriter
	auditor     audit.Recorder
	logger      logger.Logger
	maxItems    int
	defaultMode string
}

type Option func(*Coordinator)

// WithMaxItems rejects batches larger than n. Zero means unlimited.
func WithMaxItems(n int) Option {
	return func(c *Coordinator) { c.maxItems = n }
}

// WithDefaultMode sets the mode Submit uses when a request names none.
func WithDefaultMode(mode string) Option {
	return func(c *Coordinator) {
		if mode != "" {
			c.defaultMode = strings.ToLower(mode)
		}
	}
}

func NewCoordinator(messages MessageWriter, cdms CdmWriter, auditor audit.Recorder, log logger.Logger, opts ...Option) *Coordinator {
	if auditor == nil {
		auditor = audit.NopRecorder{}
	}
	c := &Coordinator{
		messages:    messages,
		cdms:        cdms,
		auditor:     auditor,
		logger:      log.Component(tracerName),
		defaultMode: constants.BatchModePerItem,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit runs a batch request in the mode it names, or the configured default.
func (c *Coordinator) Submit(ctx context.Context, req models.BatchRequest) (*models.BatchOutcome, error) {
	target, ok := ParseTarget(req.Target)
	if !ok {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown batch target %q", req.Target))
	}

	mode := strings.ToLower(req.Mode)
	if mode == "" {
		mode = c.defaultMode
	}

	switch mode {
	case constants.BatchModePerItem:
		return c.Process(ctx, target, req.Items)
	case constants.BatchModeBulk:
		if target != TargetReceived {
			return nil, pkgerrors.ErrValidation.WithDetail("message", "bulk mode only supports received messages")
		}
		return c.BulkCreate(ctx, req.Items)
	default:
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("unknown batch mode %q", req.Mode))
	}
}

// Process writes every item through its own store call. A failing item never stops
// the batch. When no item succeeds the outcome is returned together with a total
// batch failure error.
func (c *Coordinator) Process(ctx context.Context, target Target, items []models.InboundItem) (outcome *models.BatchOutcome, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "batch.process")
	defer func() { tracing.EndSpan(span, err) }()

	if err := c.checkSize(target, len(items)); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome = newOutcome(constants.BatchModePerItem, len(items))
	span.SetAttributes(
		attribute.String("batch.id", outcome.BatchID),
		attribute.String("batch.target", string(target)),
		attribute.Int("batch.size", len(items)),
	)

	for i := range items {
		item := items[i]
		if itemErr := c.processItem(ctx, target, &item); itemErr != nil {
			recordFailure(outcome, i, itemErr)
			c.logger.DebugwCtx(ctx, "Batch item failed", "batch_id", outcome.BatchID, "index", i, "error", itemErr)
			continue
		}
		outcome.SuccessCount++
	}

	return outcome, c.finish(ctx, target, outcome, start)
}

// BulkCreate inserts received messages in a single transaction. Items that cannot
// be prepared are counted as failures before anything is written.
func (c *Coordinator) BulkCreate(ctx context.Context, items []models.InboundItem) (outcome *models.BatchOutcome, err error) {
	ctx, span := tracing.GetTracer(tracerName).Start(ctx, "batch.bulk_create")
	defer func() { tracing.EndSpan(span, err) }()

	if err := c.checkSize(TargetReceived, len(items)); err != nil {
		return nil, err
	}

	start := time.Now()
	outcome = newOutcome(constants.BatchModeBulk, len(items))
	span.SetAttributes(
		attribute.String("batch.id", outcome.BatchID),
		attribute.Int("batch.size", len(items)),
	)

	prepared := make([]*message.ReceivedMessage, 0, len(items))
	accepted := make([]int, 0, len(items))
	for i := range items {
		item := items[i]
		msg, prepErr := c.prepareItem(&item)
		if prepErr != nil {
			recordFailure(outcome, i, prepErr)
			continue
		}
		prepared = append(prepared, msg)
		accepted = append(accepted, i)
	}

	var storageErr error
	if len(prepared) > 0 {
		if insertErr := c.messages.InsertBatch(ctx, prepared); insertErr != nil {
			storageErr = pkgerrors.AsStorage(insertErr)
			for _, i := range accepted {
				recordFailure(outcome, i, storageErr)
			}
		} else {
			outcome.SuccessCount = len(prepared)
		}
	}

	sortErrors(outcome)
	finishErr := c.finish(ctx, TargetReceived, outcome, start)
	if storageErr != nil {
		return outcome, storageErr
	}
	return outcome, finishErr
}

func (c *Coordinator) processItem(ctx context.Context, target Target, item *models.InboundItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
			c.logger.ErrorwCtx(ctx, "Recovered panic while writing batch item", "error", err)
		}
	}()

	if err := models.ValidateInboundItem(item); err != nil {
		return err
	}

	payload := item.Payload()
	if models.IsBlank(payload) {
		return pkgerrors.ErrValidation.WithDetail("message", "item body is empty")
	}

	var res *models.Result
	switch target {
	case TargetCDM:
		res, err = c.cdms.Save(ctx, payload, item.Metadata)
	default:
		res, err = c.messages.Write(ctx, payload, item.Metadata)
	}
	if err != nil {
		return err
	}
	if !res.Succeeded() {
		return pkgerrors.ErrValidation.WithDetail("message", res.Error)
	}
	return nil
}

func (c *Coordinator) prepareItem(item *models.InboundItem) (msg *message.ReceivedMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.RecoverPanic(r)
		}
	}()

	if err := models.ValidateInboundItem(item); err != nil {
		return nil, err
	}
	if item.Metadata.ExistingID != "" {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "bulk mode only creates records; existing_id is not allowed")
	}

	payload := item.Payload()
	if models.IsBlank(payload) {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "item body is empty")
	}
	return c.messages.Prepare(payload, item.Metadata)
}

func (c *Coordinator) checkSize(target Target, n int) error {
	if c.maxItems > 0 && n > c.maxItems {
		return pkgerrors.ErrValidation.WithDetail("message",
			fmt.Sprintf("batch of %d %s items exceeds the limit of %d", n, target, c.maxItems))
	}
	return nil
}

// finish settles the outcome status, reports it and returns the total batch failure
// error when nothing succeeded.
func (c *Coordinator) finish(ctx context.Context, target Target, outcome *models.BatchOutcome, start time.Time) error {
	outcome.Status = OutcomeStatus(outcome.SuccessCount, outcome.FailureCount)

	metrics.AddBatchItems(string(target), outcome.Mode, outcome.SuccessCount, outcome.FailureCount)
	metrics.ObserveBatch(string(target), outcome.Mode, string(outcome.Status), time.Since(start))

	if err := c.auditor.Record(ctx, string(target), outcome); err != nil {
		metrics.IncAuditRecord("error")
		c.logger.WarnwCtx(ctx, "Failed to record batch audit entry", "batch_id", outcome.BatchID, "error", err)
	} else {
		metrics.IncAuditRecord("success")
	}

	c.logger.InfowCtx(ctx, "Batch finished",
		"batch_id", outcome.BatchID,
		"target", target,
		"mode", outcome.Mode,
		"total", outcome.Total,
		"success", outcome.SuccessCount,
		"failure", outcome.FailureCount,
		"status", outcome.Status,
	)

	if outcome.SuccessCount == 0 {
		return pkgerrors.ErrTotalBatch.
			WithDetail("message", fmt.Sprintf("none of %d batch items succeeded", outcome.Total)).
			WithDetail("batch_id", outcome.BatchID)
	}
	return nil
}

// OutcomeStatus applies the batch outcome rule: nothing succeeded is FAILED, nothing
// failed is SUCCESS, anything else is PARTIAL_SUCCESS.
func OutcomeStatus(success, failure int) models.Status {
	switch {
	case success == 0:
		return models.StatusFailed
	case failure == 0:
		return models.StatusSuccess
	default:
		return models.StatusPartialSuccess
	}
}

func newOutcome(mode string, total int) *models.BatchOutcome {
	return &models.BatchOutcome{
		BatchID: uuid.New().String(),
		Mode:    mode,
		Total:   total,
		Errors:  []models.ItemError{},
	}
}

func recordFailure(outcome *models.BatchOutcome, index int, err error) {
	outcome.FailureCount++
	outcome.Errors = append(outcome.Errors, models.ItemError{Index: index, Error: err.Error()})
}

// sortErrors orders item errors by index; bulk mode records preparation failures
// before execution failures.
func sortErrors(outcome *models.BatchOutcome) {
	sort.SliceStable(outcome.Errors, func(i, j int) bool {
		return outcome.Errors[i].Index < outcome.Errors[j].Index
	})
}
