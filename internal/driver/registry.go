// Package driver discovers which client implementations are usable for each
// backend family and exposes a deterministic, preference-ordered fallback
// chain. It decouples "backend family" (sqlite, mysql, postgresql, mongodb)
// from "concrete client library"; a family may have more than one.
//
// Fallback order (fixed, so behavior is reproducible across builds):
//
//	sqlite:     sqlite3 (mattn, cgo) → sqlite (modernc, pure Go)
//	mysql:      mysql (go-sql-driver)
//	postgresql: pgx (jackc) → postgres (lib/pq)
//	mongodb:    mongo-driver (official)
//
// All SQL implementations register with database/sql; the probe verifies the
// registration and, for the embedded SQLite engines, actually opens an
// in-memory database so a cgo-less build correctly reports the mattn driver
// unavailable and falls through to modernc.
package driver

import (
	"database/sql"
	"runtime/debug"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql" // register "mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx"
	_ "github.com/lib/pq"              // register "postgres"
	_ "github.com/mattn/go-sqlite3"    // register "sqlite3"
	_ "modernc.org/sqlite"             // register "sqlite"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
)

// Descriptor records the probe outcome for one client implementation.
// Descriptors are immutable once their family has been probed.
type Descriptor struct {
	Family    config.BackendType `json:"family"`
	Name      string             `json:"implementation"`
	Available bool               `json:"available"`
	Version   string             `json:"version,omitempty"`
	Err       string             `json:"error,omitempty"`
}

// ProbeFunc checks whether one implementation is usable. A nil return means
// usable; the error text is recorded on the descriptor otherwise.
type ProbeFunc func() error

// implementation binds a driver name to the module that provides it.
type implementation struct {
	name       string
	modulePath string
}

// fallbackChains is the fixed preference order per family.
var fallbackChains = map[config.BackendType][]implementation{
	config.BackendSQLite: {
		{name: "sqlite3", modulePath: "github.com/mattn/go-sqlite3"},
		{name: "sqlite", modulePath: "modernc.org/sqlite"},
	},
	config.BackendMySQL: {
		{name: "mysql", modulePath: "github.com/go-sql-driver/mysql"},
	},
	config.BackendPostgreSQL: {
		{name: "pgx", modulePath: "github.com/jackc/pgx/v5"},
		{name: "postgres", modulePath: "github.com/lib/pq"},
	},
	config.BackendMongoDB: {
		{name: "mongo-driver", modulePath: "go.mongodb.org/mongo-driver"},
	},
}

// Registry probes implementations lazily and caches the results for the
// process lifetime. Safe for concurrent use; read-only after first probe.
type Registry struct {
	log    *logger.Logger
	probes map[string]ProbeFunc

	mu     sync.Mutex
	cached map[config.BackendType][]Descriptor
}

// NewRegistry creates a Registry with the default probes.
func NewRegistry(log *logger.Logger) *Registry {
	return NewRegistryWithProbes(log, nil)
}

// NewRegistryWithProbes creates a Registry whose probes are overridden by
// name. Tests use this to simulate unavailable implementations.
func NewRegistryWithProbes(log *logger.Logger, overrides map[string]ProbeFunc) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	probes := map[string]ProbeFunc{
		"sqlite3":      func() error { return probeEmbedded("sqlite3") },
		"sqlite":       func() error { return probeEmbedded("sqlite") },
		"mysql":        func() error { return probeRegistered("mysql") },
		"pgx":          func() error { return probeRegistered("pgx") },
		"postgres":     func() error { return probeRegistered("postgres") },
		"mongo-driver": func() error { return nil }, // linked unconditionally
	}
	for name, fn := range overrides {
		probes[name] = fn
	}
	return &Registry{
		log:    log,
		probes: probes,
		cached: make(map[config.BackendType][]Descriptor),
	}
}

// Probe returns the descriptor for every known implementation of family, in
// preference order. Probe never fails: an unusable implementation is
// recorded, not propagated. Results are cached after the first call.
func (r *Registry) Probe(family config.BackendType) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cached[family]; ok {
		return cached
	}

	chain := fallbackChains[family]
	descriptors := make([]Descriptor, 0, len(chain))
	for _, impl := range chain {
		d := Descriptor{
			Family:  family,
			Name:    impl.name,
			Version: moduleVersion(impl.modulePath),
		}
		if err := r.probes[impl.name](); err != nil {
			d.Err = err.Error()
			r.log.Warnf("driver %s for %s unavailable: %v", impl.name, family, err)
		} else {
			d.Available = true
			r.log.Debugf("driver %s for %s available (version %s)", impl.name, family, d.Version)
		}
		descriptors = append(descriptors, d)
	}

	r.cached[family] = descriptors
	return descriptors
}

// Preferred returns the first available implementation for family. When
// none is usable the error enumerates every attempted implementation and
// its failure reason, so the caller can act on the diagnostics.
func (r *Registry) Preferred(family config.BackendType) (Descriptor, error) {
	descriptors := r.Probe(family)
	if len(descriptors) == 0 {
		return Descriptor{}, errs.Newf(errs.ErrKindDriverUnavailable,
			"unknown backend family: %s", family)
	}

	for _, d := range descriptors {
		if d.Available {
			return d, nil
		}
	}

	attempts := make([]string, len(descriptors))
	for i, d := range descriptors {
		attempts[i] = d.Name + ": " + d.Err
	}
	return Descriptor{}, errs.Newf(errs.ErrKindDriverUnavailable,
		"no usable driver for %s (tried %s)", family, strings.Join(attempts, "; "))
}

// All probes every family and returns the full capability report.
func (r *Registry) All() map[config.BackendType][]Descriptor {
	out := make(map[config.BackendType][]Descriptor, len(fallbackChains))
	for family := range fallbackChains {
		out[family] = r.Probe(family)
	}
	return out
}

// probeRegistered verifies the driver name is registered with database/sql.
// Network-backed drivers cannot be probed further without a server.
func probeRegistered(name string) error {
	for _, registered := range sql.Drivers() {
		if registered == name {
			return nil
		}
	}
	return errs.Newf(errs.ErrKindDriverUnavailable,
		"driver %q is not registered with database/sql", name)
}

// probeEmbedded opens an in-memory database to prove the engine actually
// works in this build. mattn/go-sqlite3 registers itself even without cgo
// but fails at open time, which is exactly the case this catches.
func probeEmbedded(name string) error {
	if err := probeRegistered(name); err != nil {
		return err
	}
	db, err := sql.Open(name, ":memory:")
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

// moduleVersion looks up the module's version from the build info embedded
// in the binary. Empty when built outside module mode (e.g. some tests).
func moduleVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath || strings.HasPrefix(dep.Path, modulePath+"/") {
			return dep.Version
		}
	}
	return ""
}
