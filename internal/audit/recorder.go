// Package audit keeps a trail of finished batch outcomes in MongoDB.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"paypersist/internal/constants"
	pkgerrors "paypersist/pkg/errors"
	"paypersist/pkg/models"
)

type Recorder interface {
	Record(ctx context.Context, target string, outcome *models.BatchOutcome) error
}

type Reader interface {
	Find(ctx context.Context, batchID string) (*Entry, error)
	Recent(ctx context.Context, limit int64) ([]Entry, error)
}

// Entry is one audited batch.
type Entry struct {
	BatchID      string             `json:"batch_id" bson:"batch_id"`
	Target       string             `json:"target" bson:"target"`
	Mode         string             `json:"mode" bson:"mode"`
	Total        int                `json:"total" bson:"total"`
	SuccessCount int                `json:"success_count" bson:"success_count"`
	FailureCount int                `json:"failure_count" bson:"failure_count"`
	Status       models.Status      `json:"status" bson:"status"`
	Errors       []models.ItemError `json:"errors" bson:"errors"`
	RecordedAt   time.Time          `json:"recorded_at" bson:"recorded_at"`
}

func NewEntry(target string, outcome *models.BatchOutcome, at time.Time) Entry {
	errs := outcome.Errors
	if errs == nil {
		errs = []models.ItemError{}
	}
	return Entry{
		BatchID:      outcome.BatchID,
		Target:       target,
		Mode:         outcome.Mode,
		Total:        outcome.Total,
		SuccessCount: outcome.SuccessCount,
		FailureCount: outcome.FailureCount,
		Status:       outcome.Status,
		Errors:       errs,
		RecordedAt:   at,
	}
}

type MongoRecorder struct {
	collection *mongo.Collection
}

func NewMongoRecorder(db *mongo.Database) *MongoRecorder {
	return &MongoRecorder{collection: db.Collection(constants.BatchAuditCollection)}
}

func (r *MongoRecorder) Record(ctx context.Context, target string, outcome *models.BatchOutcome) error {
	if outcome == nil {
		return nil
	}

	entry := NewEntry(target, outcome, time.Now().UTC())
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to record batch %s: %w", outcome.BatchID, err)
	}
	return nil
}

func (r *MongoRecorder) Find(ctx context.Context, batchID string) (*Entry, error) {
	var entry Entry
	err := r.collection.FindOne(ctx, bson.M{"batch_id": batchID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("batch %s not found", batchID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch %s: %w", batchID, err)
	}
	return &entry, nil
}

// Recent returns the latest audited batches, newest first.
func (r *MongoRecorder) Recent(ctx context.Context, limit int64) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recorded_at", Value: -1}}).SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode batches: %w", err)
	}
	return entries, nil
}

// NopRecorder discards outcomes; used when MongoDB is not configured.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, string, *models.BatchOutcome) error { return nil }

func (NopRecorder) Find(_ context.Context, batchID string) (*Entry, error) {
	return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("batch %s not found", batchID))
}

func (NopRecorder) Recent(context.Context, int64) ([]Entry, error) { return []Entry{}, nil }
