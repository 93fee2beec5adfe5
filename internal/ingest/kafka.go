package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paypersist/internal/batch"
	"paypersist/internal/broker"
	"paypersist/internal/logger"
	"paypersist/pkg/errors"
	"paypersist/pkg/models"
)

// Publisher is the part of broker.Producer the handlers need.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// ResultEvent reports what became of one consumed message.
type ResultEvent struct {
	SourceTopic   string         `json:"source_topic"`
	Partition     int            `json:"partition"`
	Offset        int64          `json:"offset"`
	MessageID     string         `json:"message_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Result        *models.Result `json:"result"`
	ProcessedAt   time.Time      `json:"processed_at"`
}

type KafkaHandler struct {
	messages    MessageService
	cdms        CdmService
	batches     BatchSubmitter
	publisher   Publisher
	resultTopic string
	logger      logger.Logger
}

func NewKafkaHandler(messages MessageService, cdms CdmService, batches BatchSubmitter, publisher Publisher, resultTopic string, log logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		messages:    messages,
		cdms:        cdms,
		batches:     batches,
		publisher:   publisher,
		resultTopic: resultTopic,
		logger:      log.Component("kafka-ingest"),
	}
}

// HandleRaw stores a message from the raw topic. Without a caller supplied key the
// Kafka coordinates serve as the idempotency key, so a redelivered record resolves to
// the row it created before.
func (h *KafkaHandler) HandleRaw(ctx context.Context, msg broker.Message) error {
	item := itemFromMessage(msg)

	// Payload merges envelope headers, which may carry the caller's key.
	payload := item.Payload()
	if item.Metadata.IdempotencyKey == "" {
		item.Metadata.IdempotencyKey = coordinates(msg)
	}
	res, err := h.messages.Write(ctx, payload, item.Metadata)
	if err != nil {
		return err
	}
	h.publishResult(ctx, msg, item.Metadata, res)
	return nil
}

// HandleCdm upserts a CDM record from the cdm topic.
func (h *KafkaHandler) HandleCdm(ctx context.Context, msg broker.Message) error {
	item := itemFromMessage(msg)

	payload := item.Payload()
	res, err := h.cdms.Save(ctx, payload, item.Metadata)
	if err != nil {
		return err
	}
	h.publishResult(ctx, msg, item.Metadata, res)
	return nil
}

// HandleBatch runs a BatchRequest from the batch topic. Only storage faults are
// returned for retry; rejected or failed batches are reported on the result topic.
func (h *KafkaHandler) HandleBatch(ctx context.Context, msg broker.Message) error {
	var req models.BatchRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return errors.ErrParse.WithDetail("message", "batch request is not valid JSON").WithCause(err)
	}
	if strings.TrimSpace(req.Target) == "" {
		req.Target = string(batch.TargetReceived)
		if target := msg.Headers["target"]; target != "" {
			req.Target = target
		}
	}
	stampEndpoint(req.Items, endpointFor(msg))

	meta := models.ItemMetadata{}
	meta.ApplyHeaders(msg.Headers)

	outcome, err := h.batches.Submit(ctx, req)
	switch {
	case outcome == nil && err != nil && errors.IsValidation(err):
		h.publishResult(ctx, msg, meta, models.Failure(err.Error()))
		return nil
	case outcome == nil:
		return err
	case errors.IsStorage(err):
		return err
	}

	res := &models.Result{Status: outcome.Status, Outcome: outcome}
	if err != nil {
		res.Error = err.Error()
	}
	h.publishResult(ctx, msg, meta, res)
	return nil
}

func (h *KafkaHandler) publishResult(ctx context.Context, msg broker.Message, meta models.ItemMetadata, res *models.Result) {
	if res != nil && !res.Succeeded() {
		h.logger.WarnwCtx(ctx, "Message not persisted",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"status", res.Status,
			"error", res.Error,
		)
	}
	if h.publisher == nil || h.resultTopic == "" {
		return
	}

	event := ResultEvent{
		SourceTopic:   msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		MessageID:     meta.MessageID,
		CorrelationID: meta.CorrelationID,
		Result:        res,
		ProcessedAt:   time.Now().UTC(),
	}
	key := meta.MessageID
	if key == "" {
		key = msg.Key
	}
	if err := h.publisher.Publish(ctx, h.resultTopic, key, event); err != nil {
		h.logger.WarnwCtx(ctx, "Failed to publish persistence result",
			"topic", h.resultTopic,
			"source_topic", msg.Topic,
			"error", err,
		)
	}
}

func itemFromMessage(msg broker.Message) models.InboundItem {
	item := models.InboundItem{
		ID:        msg.Key,
		Body:      bodyOrEmpty(msg.Value),
		Timestamp: msg.Time,
	}
	item.Metadata.ApplyHeaders(msg.Headers)
	item.Metadata.Endpoint = endpointFor(msg)
	return item
}

func endpointFor(msg broker.Message) string {
	return "mq:kafka/" + msg.Topic
}

func coordinates(msg broker.Message) string {
	return fmt.Sprintf("kafka:%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
