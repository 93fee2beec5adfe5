package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"paypersist/internal/constants"
)

// EnsureBatchAuditIndexes creates the indexes the batch audit trail is queried by.
// The collection itself is created on first insert.
func EnsureBatchAuditIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.BatchAuditCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "batch_id", Value: 1}},
			Options: options.Index().SetName("idx_batch_audit_batch_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "recorded_at", Value: -1}},
			Options: options.Index().SetName("idx_batch_audit_recorded_at"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "recorded_at", Value: -1}},
			Options: options.Index().SetName("idx_batch_audit_status_recorded_at"),
		},
		{
			Keys:    bson.D{{Key: "target", Value: 1}, {Key: "mode", Value: 1}},
			Options: options.Index().SetName("idx_batch_audit_target_mode"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create batch audit indexes: %w", err)
		}
	}

	return nil
}
