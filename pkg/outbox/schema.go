package outbox

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sokol111/ecommerce-outbox/pkg/persistence/mongo"
)

// EnsureIndexes creates the indexes the claim protocol depends on. Safe to
// run on every startup, index creation is idempotent.
func EnsureIndexes(ctx context.Context, m mongo.Mongo, conf Config) error {
	outboxIndexes := []mongodriver.IndexModel{
		{
			// Claim scan: due PENDING records oldest-first.
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}, {Key: "createdAt", Value: 1}},
		},
		{
			// Lease takeover scan.
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "claimExpiresAt", Value: 1}},
		},
		{
			// Per-aggregate ordering check.
			Keys: bson.D{{Key: "aggregateType", Value: 1}, {Key: "aggregateId", Value: 1}, {Key: "createdAt", Value: 1}},
		},
	}

	if conf.PublishedTTL > 0 {
		outboxIndexes = append(outboxIndexes, mongodriver.IndexModel{
			Keys: bson.D{{Key: "publishedAt", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(conf.PublishedTTL / time.Second)).
				SetPartialFilterExpression(bson.M{"status": StatusPublished}),
		})
	}

	if _, err := m.GetCollection(conf.Collection).Indexes().CreateMany(ctx, outboxIndexes); err != nil {
		return fmt.Errorf("failed to create outbox indexes: %w", err)
	}

	deadLetterIndexes := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "aggregateType", Value: 1}, {Key: "aggregateId", Value: 1}, {Key: "failedAt", Value: 1}}},
		{Keys: bson.D{{Key: "failedAt", Value: 1}}},
	}

	if _, err := m.GetCollection(conf.DeadLetterCollection).Indexes().CreateMany(ctx, deadLetterIndexes); err != nil {
		return fmt.Errorf("failed to create dead-letter indexes: %w", err)
	}

	return nil
}
