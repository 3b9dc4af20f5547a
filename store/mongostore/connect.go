package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aussie-gateway/auth-core/internal/authcore/autherr"
)

// Connect dials MongoDB and returns the named database handle, following the
// connect-then-ping bootstrap gourdiantoken-master's NewMongoTokenRepository
// performs before trusting a *mongo.Database.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, autherr.Wrap(autherr.Transient, "connect to mongodb", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, autherr.Wrap(autherr.Transient, "ping mongodb", err)
	}

	return client.Database(dbName), nil
}
