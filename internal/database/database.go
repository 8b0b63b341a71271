// Package database opens and closes backend connections behind one
// interface. It owns the scoped-acquisition contract: connections are
// acquired for a single unit of work and released on every exit path:
// success, error, or panic. There is no pooling and no reuse across
// acquisitions; call volume is low and correctness matters more than
// connection churn.
package database

import (
	"context"
	"database/sql"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/driver"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// Conn is a single-use handle to one backend connection. Exactly one of
// the backend handles is set, matching Backend. Callers must not close a
// Conn themselves when using Broker.WithConnection; the broker does.
type Conn struct {
	Backend config.BackendType
	Driver  driver.Descriptor

	sqlDB *sql.DB
	mongo *MongoConn
}

// SQL returns the underlying database/sql handle for SQL-family backends.
func (c *Conn) SQL() (*sql.DB, error) {
	if c.sqlDB == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"%s connection has no SQL handle", c.Backend)
	}
	return c.sqlDB, nil
}

// Mongo returns the MongoDB adapter for mongodb backends.
func (c *Conn) Mongo() (*MongoConn, error) {
	if c.mongo == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"%s connection has no MongoDB handle", c.Backend)
	}
	return c.mongo, nil
}

// Ping verifies the connection is still live.
func (c *Conn) Ping(ctx context.Context) error {
	if c.sqlDB != nil {
		if err := c.sqlDB.PingContext(ctx); err != nil {
			return errs.Wrap(errs.ErrKindConnectFailed, "ping failed", err)
		}
		return nil
	}
	if c.mongo != nil {
		return c.mongo.Ping(ctx)
	}
	return errs.New(errs.ErrKindConnectFailed, "connection already released")
}

// Close releases the connection. Safe to call more than once.
func (c *Conn) Close() error {
	if c.sqlDB != nil {
		db := c.sqlDB
		c.sqlDB = nil
		if err := db.Close(); err != nil {
			return errs.Wrap(errs.ErrKindUnknown, "failed to close connection", err)
		}
		return nil
	}
	if c.mongo != nil {
		m := c.mongo
		c.mongo = nil
		return m.Close()
	}
	return nil
}
