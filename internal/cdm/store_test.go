package cdm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/internal/logger"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
)

type memoryRepository struct {
	mu      sync.Mutex
	rows    map[string]CdmMessage
	failErr error
	// vanish removes a row right before Update sees it.
	vanish bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rows: make(map[string]CdmMessage)}
}

func (r *memoryRepository) Insert(_ context.Context, msg *CdmMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.rows[msg.ID] = *msg
	return nil
}

func (r *memoryRepository) Update(_ context.Context, msg *CdmMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	if r.vanish {
		delete(r.rows, msg.ID)
	}
	if _, ok := r.rows[msg.ID]; !ok {
		return pkgerrors.ErrNotFound
	}
	r.rows[msg.ID] = *msg
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*CdmMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return &row, nil
}

func (r *memoryRepository) LatestByMessageID(_ context.Context, messageID string) (*CdmMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *CdmMessage
	for _, row := range r.rows {
		if row.MessageID != messageID {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) {
			row := row
			latest = &row
		}
	}
	if latest == nil {
		return nil, pkgerrors.ErrNotFound
	}
	return latest, nil
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// newTestStore returns a store whose clock advances one second per call.
func newTestStore(repo Repository) *Store {
	s := NewStore(repo, logger.NopLogger())
	current := time.Date(2025, 10, 21, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}
	return s
}

func TestStore_CreateUsesExtractedFields(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	ctx := context.Background()

	res, err := s.Create(ctx, `{"GrpHdr":{"MsgId":"M1","CreDtTm":"2025-10-21T14:30:00Z","NbOfTxs":"3"}}`, models.ItemMetadata{})
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	stored, err := s.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "M1", stored.MessageID)
	assert.Equal(t, "M1", stored.OriginalMessageID)
	assert.Equal(t, EnrichmentPending, stored.EnrichmentStatus)
	assert.Equal(t, StatusProcessed, stored.ProcessingStatus)
	require.NotNil(t, stored.ProcessedAt)
	require.NotNil(t, stored.CreationDateTime)
	assert.True(t, stored.CreationDateTime.Equal(time.Date(2025, 10, 21, 14, 30, 0, 0, time.UTC)))
	require.NotNil(t, stored.NumberOfTransactions)
	assert.Equal(t, 3, *stored.NumberOfTransactions)
}

func TestStore_CreateEnrichmentStatusPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		explicit string
		expected string
	}{
		{"caller wins", `{"enrichmentStatus":"ENRICHED"}`, EnrichmentFailed, EnrichmentFailed},
		{"extracted", `{"enrichmentStatus":"enriched"}`, "", EnrichmentEnriched},
		{"absent defaults to pending", `{"messageId":"M2"}`, "", EnrichmentPending},
		{"unparseable defaults to pending", `not json at all`, "", EnrichmentPending},
		{"failed is never inferred", `{"enrichmentStatus":"FAILED"}`, "", EnrichmentPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(newMemoryRepository())

			res, err := s.Create(context.Background(), tt.payload, models.ItemMetadata{EnrichmentStatus: tt.explicit})
			require.NoError(t, err)

			stored, err := s.Get(context.Background(), res.RecordID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, stored.EnrichmentStatus)
		})
	}
}

func TestStore_CreateMetadataOverridesPayload(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	original := "<Document/>"

	res, err := s.Create(context.Background(), `{"messageId":"FROM-PAYLOAD"}`, models.ItemMetadata{
		MessageID:                 "FROM-META",
		OriginalMessageID:         "ORIG",
		OriginalPayload:           &original,
		OriginalReceivedMessageID: "rcv-1",
		SourceHint:                "MQ",
	})
	require.NoError(t, err)

	stored, err := s.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "FROM-META", stored.MessageID)
	assert.Equal(t, "ORIG", stored.OriginalMessageID)
	assert.Equal(t, models.SourceMQ, stored.Source)
	require.NotNil(t, stored.OriginalPayload)
	assert.Equal(t, original, *stored.OriginalPayload)
	require.NotNil(t, stored.OriginalReceivedMessageID)
	assert.Equal(t, "rcv-1", *stored.OriginalReceivedMessageID)
}

func TestStore_CreateBlankPayload(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestStore(repo)

	res, err := s.Create(context.Background(), "  ", models.ItemMetadata{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, res.Status)
	assert.Zero(t, repo.count())
}

func TestStore_FindForUpdatePrefersLatestByMessageID(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	ctx := context.Background()

	first, err := s.Create(ctx, `{"v":1}`, models.ItemMetadata{MessageID: "M1"})
	require.NoError(t, err)
	second, err := s.Create(ctx, `{"v":2}`, models.ItemMetadata{MessageID: "M1"})
	require.NoError(t, err)
	require.NotEqual(t, first.RecordID, second.RecordID)

	found, err := s.FindForUpdate(ctx, "", "M1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.RecordID, found.ID)
}

func TestStore_FindForUpdateResolutionOrder(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	ctx := context.Background()

	byID, err := s.Create(ctx, `{"v":1}`, models.ItemMetadata{MessageID: "A"})
	require.NoError(t, err)
	_, err = s.Create(ctx, `{"v":2}`, models.ItemMetadata{MessageID: "B"})
	require.NoError(t, err)

	found, err := s.FindForUpdate(ctx, byID.RecordID, "B")
	require.NoError(t, err)
	assert.Equal(t, byID.RecordID, found.ID)

	found, err = s.FindForUpdate(ctx, uuid.New().String(), "B")
	require.NoError(t, err)
	assert.Equal(t, "B", found.MessageID)

	found, err = s.FindForUpdate(ctx, "not-a-uuid", "missing")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_UpdateForcesEnrichedAndReextracts(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, `{"messageId":"M1","numberOfTransactions":2,"creationDateTime":"2025-01-01T00:00:00Z"}`, models.ItemMetadata{})
	require.NoError(t, err)

	record, err := s.FindForUpdate(ctx, created.RecordID, "")
	require.NoError(t, err)
	require.NotNil(t, record)

	res, err := s.Update(ctx, record, `{"messageId":"M1","enrichmentStatus":"PENDING"}`, models.ItemMetadata{})
	require.NoError(t, err)
	assert.Equal(t, created.RecordID, res.RecordID)
	assert.False(t, res.Created)

	stored, err := s.Get(ctx, created.RecordID)
	require.NoError(t, err)
	assert.Equal(t, EnrichmentEnriched, stored.EnrichmentStatus)
	assert.Nil(t, stored.NumberOfTransactions)
	assert.Nil(t, stored.CreationDateTime)
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, stored.UpdatedAt, *stored.ProcessedAt)
}

func TestStore_UpdateExplicitStatus(t *testing.T) {
	s := newTestStore(newMemoryRepository())
	ctx := context.Background()

	created, err := s.Create(ctx, `{"messageId":"M1"}`, models.ItemMetadata{})
	require.NoError(t, err)
	record, err := s.FindForUpdate(ctx, created.RecordID, "")
	require.NoError(t, err)

	_, err = s.Update(ctx, record, `{"messageId":"M1"}`, models.ItemMetadata{EnrichmentStatus: EnrichmentFailed})
	require.NoError(t, err)

	stored, err := s.Get(ctx, created.RecordID)
	require.NoError(t, err)
	assert.Equal(t, EnrichmentFailed, stored.EnrichmentStatus)
}

func TestStore_UpdateVanishedRecordCreates(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestStore(repo)
	ctx := context.Background()

	created, err := s.Create(ctx, `{"messageId":"M1"}`, models.ItemMetadata{})
	require.NoError(t, err)
	record, err := s.FindForUpdate(ctx, created.RecordID, "")
	require.NoError(t, err)

	repo.vanish = true
	res, err := s.Update(ctx, record, `{"messageId":"M1"}`, models.ItemMetadata{})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEqual(t, created.RecordID, res.RecordID)
}

func TestStore_SaveUpsertsByMessageID(t *testing.T) {
	repo := newMemoryRepository()
	s := newTestStore(repo)
	ctx := context.Background()

	first, err := s.Save(ctx, `{"messageId":"M9","v":1}`, models.ItemMetadata{})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := s.Save(ctx, `{"messageId":"M9","v":2}`, models.ItemMetadata{})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, 1, repo.count())

	third, err := s.Save(ctx, `{"v":3}`, models.ItemMetadata{ExistingID: first.RecordID})
	require.NoError(t, err)
	assert.Equal(t, first.RecordID, third.RecordID)
}

func TestStore_StorageErrorsPropagate(t *testing.T) {
	repo := newMemoryRepository()
	repo.failErr = errors.New("connection refused")
	s := newTestStore(repo)

	res, err := s.Create(context.Background(), `{"messageId":"M1"}`, models.ItemMetadata{})
	assert.Nil(t, res)
	assert.True(t, pkgerrors.IsStorage(err))
}
