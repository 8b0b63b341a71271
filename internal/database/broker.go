package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/driver"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
)

// OpenFunc opens a SQL handle for the given driver name and DSN. Tests
// inject a counting implementation to prove that security violations never
// open a connection.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Broker dispatches connection requests to backend-specific constructors,
// asking the driver registry for the preferred implementation per family.
// It is stateless apart from its collaborators and safe for concurrent use.
type Broker struct {
	drivers        *driver.Registry
	log            *logger.Logger
	connectTimeout time.Duration
	openSQL        OpenFunc
}

// NewBroker creates a Broker using database/sql to open SQL connections.
func NewBroker(drivers *driver.Registry, log *logger.Logger, connectTimeout time.Duration) *Broker {
	return NewBrokerWithOpener(drivers, log, connectTimeout, sql.Open)
}

// NewBrokerWithOpener creates a Broker with a custom SQL opener (tests).
func NewBrokerWithOpener(drivers *driver.Registry, log *logger.Logger, connectTimeout time.Duration, open OpenFunc) *Broker {
	if log == nil {
		log = logger.Nop()
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Broker{
		drivers:        drivers,
		log:            log,
		connectTimeout: connectTimeout,
		openSQL:        open,
	}
}

// Acquire opens a fresh connection for cfg and verifies liveness before
// returning. The caller owns the returned Conn and must close it; prefer
// WithConnection, which cannot leak.
func (b *Broker) Acquire(ctx context.Context, cfg config.DatabaseConfig) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Type == config.BackendMongoDB {
		return b.acquireMongo(ctx, &cfg)
	}
	return b.acquireSQL(ctx, &cfg)
}

func (b *Broker) acquireSQL(ctx context.Context, cfg *config.DatabaseConfig) (*Conn, error) {
	if cfg.Type == config.BackendSQLite {
		// Fail with the path in the message before asking the driver,
		// which would otherwise create an empty database file.
		if _, err := os.Stat(cfg.FilePath); err != nil {
			return nil, errs.Newf(errs.ErrKindConnectFailed,
				"sqlite file does not exist: %s", cfg.FilePath)
		}
	}

	desc, err := b.drivers.Preferred(cfg.Type)
	if err != nil {
		return nil, err
	}

	dsn := buildDSN(cfg, b.connectTimeout)
	db, err := b.openSQL(desc.Name, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectFailed,
			fmt.Sprintf("%s open failed for %s", cfg.Type, RedactedTarget(cfg)), err)
	}

	// One connection per acquisition: no pooling, no reuse across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnectFailed,
			fmt.Sprintf("%s connection failed for %s", cfg.Type, RedactedTarget(cfg)), err)
	}

	b.log.Debugf("acquired %s connection via %s (%s)", cfg.Type, desc.Name, RedactedTarget(cfg))
	return &Conn{Backend: cfg.Type, Driver: desc, sqlDB: db}, nil
}

func (b *Broker) acquireMongo(ctx context.Context, cfg *config.DatabaseConfig) (*Conn, error) {
	desc, err := b.drivers.Preferred(config.BackendMongoDB)
	if err != nil {
		return nil, err
	}

	uri := buildDSN(cfg, b.connectTimeout)
	mc, err := openMongo(ctx, uri, cfg.Database, b.connectTimeout)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectFailed,
			fmt.Sprintf("mongodb connection failed for %s", RedactedTarget(cfg)), err)
	}

	b.log.Debugf("acquired mongodb connection (%s)", RedactedTarget(cfg))
	return &Conn{Backend: cfg.Type, Driver: desc, mongo: mc}, nil
}

// WithConnection acquires a connection, invokes fn, and releases the
// connection on every exit path: normal return, error, or panic from fn.
// This is the single place release logic lives; no caller is trusted to
// close a connection manually.
func (b *Broker) WithConnection(ctx context.Context, cfg config.DatabaseConfig, fn func(*Conn) error) error {
	conn, err := b.Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			b.log.Warnf("failed to release %s connection: %v", cfg.Type, closeErr)
		}
	}()
	return fn(conn)
}

// TestConnection acquires, runs a trivial liveness probe, and releases.
// It returns a human-readable message including the resolved driver name
// and server version, and mutates no state as a side effect.
func (b *Broker) TestConnection(ctx context.Context, cfg config.DatabaseConfig) (string, error) {
	var message string
	err := b.WithConnection(ctx, cfg, func(conn *Conn) error {
		serverVersion, err := b.probeVersion(ctx, conn)
		if err != nil {
			return err
		}
		message = fmt.Sprintf("%s connection OK (server %s, driver %s %s)",
			cfg.Type, serverVersion, conn.Driver.Name, conn.Driver.Version)
		return nil
	})
	if err != nil {
		return "", err
	}
	return message, nil
}

func (b *Broker) probeVersion(ctx context.Context, conn *Conn) (string, error) {
	switch conn.Backend {
	case config.BackendMongoDB:
		m, err := conn.Mongo()
		if err != nil {
			return "", err
		}
		return m.ServerVersion(ctx)
	default:
		db, err := conn.SQL()
		if err != nil {
			return "", err
		}
		var version string
		if err := db.QueryRowContext(ctx, versionQuery(conn.Backend)).Scan(&version); err != nil {
			return "", errs.Wrap(errs.ErrKindConnectFailed, "version probe failed", err)
		}
		return version, nil
	}
}

func versionQuery(backend config.BackendType) string {
	switch backend {
	case config.BackendSQLite:
		return "SELECT sqlite_version()"
	case config.BackendMySQL:
		return "SELECT VERSION()"
	default:
		return "SELECT version()"
	}
}

// ListTables returns the user-visible table (or collection) names for the
// connection, in backend-native order.
func (b *Broker) ListTables(ctx context.Context, conn *Conn) ([]string, error) {
	if conn.Backend == config.BackendMongoDB {
		m, err := conn.Mongo()
		if err != nil {
			return nil, err
		}
		return m.ListCollections(ctx)
	}

	db, err := conn.SQL()
	if err != nil {
		return nil, err
	}

	var query string
	switch conn.Backend {
	case config.BackendSQLite:
		query = `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
	case config.BackendMySQL:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	case config.BackendPostgreSQL:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "error iterating tables", err)
	}
	return tables, nil
}
