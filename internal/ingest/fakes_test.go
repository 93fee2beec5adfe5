package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"paypersist/internal/audit"
	"paypersist/internal/cdm"
	"paypersist/internal/message"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
)

type writeCall struct {
	payload string
	meta    models.ItemMetadata
}

type fakeMessages struct {
	mu      sync.Mutex
	calls   []writeCall
	records map[string]*message.ReceivedMessage
	err     error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{records: map[string]*message.ReceivedMessage{}}
}

func (f *fakeMessages) Write(_ context.Context, payload string, meta models.ItemMetadata) (*models.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, writeCall{payload: payload, meta: meta})
	if f.err != nil {
		return nil, f.err
	}
	if models.IsBlank(payload) {
		return models.Failure("VALIDATION_ERROR: payload must not be blank"), nil
	}
	if _, ok := f.records[meta.ExistingID]; ok {
		f.records[meta.ExistingID].Payload = payload
		return models.Success(meta.ExistingID, false), nil
	}
	id := uuid.New().String()
	f.records[id] = &message.ReceivedMessage{ID: id, Payload: payload, MessageID: meta.MessageID}
	return models.Success(id, true), nil
}

func (f *fakeMessages) Get(_ context.Context, id string) (*message.ReceivedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.records[id]; ok {
		return msg, nil
	}
	return nil, pkgerrors.ErrNotFound.WithDetail("message", "received message "+id+" not found")
}

type fakeCdms struct {
	calls   []writeCall
	records map[string]*cdm.CdmMessage
	err     error
}

func newFakeCdms() *fakeCdms {
	return &fakeCdms{records: map[string]*cdm.CdmMessage{}}
}

func (f *fakeCdms) Save(_ context.Context, payload string, meta models.ItemMetadata) (*models.Result, error) {
	f.calls = append(f.calls, writeCall{payload: payload, meta: meta})
	if f.err != nil {
		return nil, f.err
	}
	id := uuid.New().String()
	f.records[id] = &cdm.CdmMessage{ID: id, CdmPayload: payload, EnrichmentStatus: cdm.EnrichmentPending}
	return models.Success(id, true), nil
}

func (f *fakeCdms) Get(_ context.Context, id string) (*cdm.CdmMessage, error) {
	if msg, ok := f.records[id]; ok {
		return msg, nil
	}
	return nil, pkgerrors.ErrNotFound
}

type fakeBatches struct {
	requests []models.BatchRequest
	outcome  *models.BatchOutcome
	err      error
}

func (f *fakeBatches) Submit(_ context.Context, req models.BatchRequest) (*models.BatchOutcome, error) {
	f.requests = append(f.requests, req)
	return f.outcome, f.err
}

type fakeAudits struct {
	entries []audit.Entry
	limit   int64
}

func (f *fakeAudits) Find(_ context.Context, batchID string) (*audit.Entry, error) {
	for i := range f.entries {
		if f.entries[i].BatchID == batchID {
			return &f.entries[i], nil
		}
	}
	return nil, pkgerrors.ErrNotFound
}

func (f *fakeAudits) Recent(_ context.Context, limit int64) ([]audit.Entry, error) {
	f.limit = limit
	return f.entries, nil
}

type publishCall struct {
	topic string
	key   string
	event ResultEvent
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, value interface{}) error {
	if f.err != nil {
		return f.err
	}
	event, _ := value.(ResultEvent)
	f.calls = append(f.calls, publishCall{topic: topic, key: key, event: event})
	return nil
}
