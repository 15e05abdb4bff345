package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureAccessorialIndexes creates the indexes the accessorial catalog
// queries rely on. The collection itself appears on first insert.
func EnsureAccessorialIndexes(ctx context.Context, db *mongo.Database, collectionName string) error {
	collection := db.Collection(collectionName)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "agreement_id", Value: 1}, {Key: "position", Value: 1}},
			Options: options.Index().SetName("idx_accessorial_agreement_position"),
		},
		{
			Keys:    bson.D{{Key: "agreement_id", Value: 1}, {Key: "name", Value: 1}, {Key: "lane_number", Value: 1}},
			Options: options.Index().SetName("idx_accessorial_agreement_name_lane"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	return nil
}
