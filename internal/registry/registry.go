// Package registry assembles the config store, driver registry, connection
// broker, and query gate into one injectable object. Nothing in it is a
// package-level singleton; callers construct a Registry and pass it down.
package registry

import (
	"context"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/database"
	"github.com/szqshan/DataMaster-MCP/internal/driver"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
	"github.com/szqshan/DataMaster-MCP/internal/query"
)

// Registry owns the collaborating components for one configuration file.
// It is safe for concurrent use; all mutability lives in the Store.
type Registry struct {
	log     *logger.Logger
	store   *config.Store
	drivers *driver.Registry
	broker  *database.Broker
	gate    *query.Gate
}

// New builds a Registry over the config file at path. The file is loaded
// immediately; a missing or corrupt file yields an empty, usable registry
// rather than an error.
func New(path string, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	store := config.NewStore(path, log)
	if err := store.Load(); err != nil {
		// Load is fail-soft by contract; anything surfaced here is I/O noise.
		log.Warnf("config load: %v", err)
	}

	drivers := driver.NewRegistry(log)
	broker := database.NewBroker(drivers, log, store.Limits().ConnectTimeout())
	gate := query.NewGate(store, broker, log)

	return &Registry{
		log:     log,
		store:   store,
		drivers: drivers,
		broker:  broker,
		gate:    gate,
	}
}

// NewWithComponents wires a Registry from pre-built collaborators (tests).
func NewWithComponents(store *config.Store, drivers *driver.Registry, broker *database.Broker, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		log:     log,
		store:   store,
		drivers: drivers,
		broker:  broker,
		gate:    query.NewGate(store, broker, log),
	}
}

// Store exposes the underlying config store.
func (r *Registry) Store() *config.Store { return r.store }

// Drivers exposes the driver registry.
func (r *Registry) Drivers() *driver.Registry { return r.drivers }

// Broker exposes the connection broker.
func (r *Registry) Broker() *database.Broker { return r.broker }

// Query executes a query against the named config through the gate.
func (r *Registry) Query(ctx context.Context, name, q string, params []any, limit int) *query.Result {
	return r.gate.Execute(ctx, name, q, params, limit)
}

// TestConnection verifies connectivity for the named config and returns a
// human-readable status message. It mutates no state.
func (r *Registry) TestConnection(ctx context.Context, name string) (string, error) {
	cfg, ok := r.store.Get(name)
	if !ok {
		return "", errs.Newf(errs.ErrKindConfigNotFound,
			"database config not found or disabled: %s", name)
	}
	return r.broker.TestConnection(ctx, cfg)
}

// ListTables returns the table or collection names for the named config.
func (r *Registry) ListTables(ctx context.Context, name string) ([]string, error) {
	cfg, ok := r.store.Get(name)
	if !ok {
		return nil, errs.Newf(errs.ErrKindConfigNotFound,
			"database config not found or disabled: %s", name)
	}

	var tables []string
	err := r.broker.WithConnection(ctx, cfg, func(conn *database.Conn) error {
		var err error
		tables, err = r.broker.ListTables(ctx, conn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}
