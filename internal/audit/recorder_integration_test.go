//go:build integration

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/internal/testinfra"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/migrations"
	"paypersist/pkg/models"
)

func TestMongoRecorder_RecordAndFind(t *testing.T) {
	db := testinfra.Mongo(t)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureBatchAuditIndexes(ctx, db))
	require.NoError(t, migrations.EnsureBatchAuditIndexes(ctx, db))

	recorder := NewMongoRecorder(db)
	for _, id := range []string{"b-1", "b-2"} {
		require.NoError(t, recorder.Record(ctx, "received", &models.BatchOutcome{
			BatchID:      id,
			Mode:         "per_item",
			Total:        2,
			SuccessCount: 1,
			FailureCount: 1,
			Errors:       []models.ItemError{{Index: 1, Error: "payload must not be blank"}},
			Status:       models.StatusPartialSuccess,
		}))
		time.Sleep(10 * time.Millisecond)
	}

	entry, err := recorder.Find(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartialSuccess, entry.Status)
	require.Len(t, entry.Errors, 1)
	assert.Equal(t, 1, entry.Errors[0].Index)

	recent, err := recorder.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "b-2", recent[0].BatchID)

	_, err = recorder.Find(ctx, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}
