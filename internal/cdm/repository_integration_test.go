//go:build integration

package cdm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/internal/logger"
	"paypersist/internal/testinfra"
	"paypersist/pkg/models"
)

func TestPostgresRepository_FindLatestByMessageID(t *testing.T) {
	db := testinfra.Postgres(t)
	store := NewStore(NewRepository(db), logger.NopLogger())
	ctx := context.Background()

	older, err := store.Create(ctx, `{"messageId":"M1","v":1}`, models.ItemMetadata{})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	newer, err := store.Create(ctx, `{"messageId":"M1","v":2}`, models.ItemMetadata{})
	require.NoError(t, err)
	require.NotEqual(t, older.RecordID, newer.RecordID)

	found, err := store.FindForUpdate(ctx, "", "M1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.RecordID, found.ID)

	missing, err := store.FindForUpdate(ctx, "", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresRepository_SaveRoundTrip(t *testing.T) {
	db := testinfra.Postgres(t)
	store := NewStore(NewRepository(db), logger.NopLogger())
	ctx := context.Background()
	original := "<Document/>"

	created, err := store.Save(ctx,
		`{"GrpHdr":{"MsgId":"M7","CreDtTm":"2025-10-21T14:30:00Z","NbOfTxs":3}}`,
		models.ItemMetadata{OriginalPayload: &original, OriginalReceivedMessageID: "rcv-7"},
	)
	require.NoError(t, err)
	require.True(t, created.Created)

	stored, err := store.Get(ctx, created.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "M7", stored.MessageID)
	assert.Equal(t, EnrichmentPending, stored.EnrichmentStatus)
	require.NotNil(t, stored.NumberOfTransactions)
	assert.Equal(t, 3, *stored.NumberOfTransactions)
	require.NotNil(t, stored.CreationDateTime)
	assert.True(t, stored.CreationDateTime.Equal(time.Date(2025, 10, 21, 14, 30, 0, 0, time.UTC)))
	require.NotNil(t, stored.OriginalPayload)
	assert.Equal(t, original, *stored.OriginalPayload)

	updated, err := store.Save(ctx, `{"GrpHdr":{"MsgId":"M7"}}`, models.ItemMetadata{})
	require.NoError(t, err)
	assert.Equal(t, created.RecordID, updated.RecordID)

	stored, err = store.Get(ctx, created.RecordID)
	require.NoError(t, err)
	assert.Equal(t, EnrichmentEnriched, stored.EnrichmentStatus)
	assert.Nil(t, stored.NumberOfTransactions)
	require.NotNil(t, stored.OriginalPayload, "original payload survives an update that omits it")
}

func TestPostgresRepository_StoresLongEnrichmentStatus(t *testing.T) {
	db := testinfra.Postgres(t)
	store := NewStore(NewRepository(db), logger.NopLogger())
	ctx := context.Background()
	status := strings.Repeat("ENRICHED_BY_SANCTIONS_SCREENING_", 2)

	res, err := store.Create(ctx, `{"messageId":"M-long"}`, models.ItemMetadata{EnrichmentStatus: status})
	require.NoError(t, err)

	stored, err := store.Get(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, status, stored.EnrichmentStatus)
}
