package database

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// MongoConn adapts a MongoDB client to the same "collection lookup by name"
// and "close" surface the SQL connections expose, so the query gate can
// treat all four backends uniformly even though Mongo has no cursor/execute
// concept.
type MongoConn struct {
	client *mongo.Client
	dbName string
}

// openMongo connects and verifies liveness within connectTimeout.
func openMongo(ctx context.Context, uri, dbName string, connectTimeout time.Duration) (*MongoConn, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectFailed, "mongodb connect failed", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.Wrap(errs.ErrKindConnectFailed, "mongodb ping failed", err)
	}

	return &MongoConn{client: client, dbName: dbName}, nil
}

// Collection returns a handle to the named collection in the configured
// database.
func (m *MongoConn) Collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// Ping verifies the server is still reachable.
func (m *MongoConn) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return errs.Wrap(errs.ErrKindConnectFailed, "mongodb ping failed", err)
	}
	return nil
}

// ServerVersion asks the server for its build version.
func (m *MongoConn) ServerVersion(ctx context.Context) (string, error) {
	var info struct {
		Version string `bson:"version"`
	}
	err := m.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).
		Decode(&info)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindConnectFailed, "buildInfo command failed", err)
	}
	return info.Version, nil
}

// ListCollections returns the collection names of the configured database.
func (m *MongoConn) ListCollections(ctx context.Context) ([]string, error) {
	names, err := m.client.Database(m.dbName).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to list collections", err)
	}
	return names, nil
}

// ListDatabases returns the database names visible to the connection.
func (m *MongoConn) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := m.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to list databases", err)
	}
	return names, nil
}

// Close disconnects the client.
func (m *MongoConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return errs.Wrap(errs.ErrKindUnknown, "mongodb disconnect failed", err)
	}
	return nil
}
