package config

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
)

// document is the wire shape of the registry file. The api section belongs
// to the API-fetch collaborator layer; it is preserved verbatim across
// load/save cycles but never interpreted here.
type document struct {
	Databases     map[string]*DatabaseConfig `json:"databases"`
	DefaultLimits Limits                     `json:"default_limits"`
	Security      Security                   `json:"security"`
	API           json.RawMessage            `json:"api,omitempty"`
}

// Store is the persisted registry of named database configurations.
// Reads are safe under concurrent access; writes are serialized behind a
// single-writer lock and each mutation persists immediately via save.
type Store struct {
	path string
	log  *logger.Logger

	mu        sync.RWMutex
	databases map[string]*DatabaseConfig
	limits    Limits
	security  Security
	api       json.RawMessage
}

// NewStore creates a Store bound to the registry file at path.
// Call Load before first use.
func NewStore(path string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		path:      path,
		log:       log,
		databases: make(map[string]*DatabaseConfig),
		limits:    DefaultLimits(),
		security:  DefaultSecurity(),
	}
}

// Load reads the registry document, resolving ${VAR} placeholders in every
// string value. Load fails soft: a missing or unparseable file logs the
// problem and leaves an empty in-memory registry rather than crashing a
// long-running process over one bad file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warnf("registry file %s absent, starting with empty registry", s.path)
		} else {
			s.log.ErrorWith("failed to read registry file", err, map[string]any{"path": s.path})
		}
		s.reset()
		return nil
	}

	// Decode generically first so env placeholders anywhere in the document
	// are resolved before the typed decode.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.log.ErrorWith("registry file is not valid JSON, starting empty", err,
			map[string]any{"path": s.path})
		s.reset()
		return nil
	}
	resolved := ResolveEnvVars(raw).(map[string]any)
	applyDefaults(resolved)

	buf, err := json.Marshal(resolved)
	if err != nil {
		s.log.ErrorWith("failed to re-encode registry document", err, nil)
		s.reset()
		return nil
	}

	var doc document
	if err := json.Unmarshal(buf, &doc); err != nil {
		s.log.ErrorWith("registry document has unexpected shape, starting empty", err,
			map[string]any{"path": s.path})
		s.reset()
		return nil
	}

	if doc.Databases == nil {
		doc.Databases = make(map[string]*DatabaseConfig)
	}
	if doc.DefaultLimits == (Limits{}) {
		doc.DefaultLimits = DefaultLimits()
	}
	if doc.Security.BlockedKeywords == nil && !doc.Security.AllowWriteOperations {
		doc.Security = DefaultSecurity()
	}

	s.databases = doc.Databases
	s.limits = doc.DefaultLimits
	s.security = doc.Security
	s.api = doc.API

	s.log.Infof("registry loaded: %d database config(s) from %s", len(s.databases), s.path)
	return nil
}

// applyDefaults fills in per-entry defaults that the JSON decode cannot
// express, most importantly "enabled defaults to true when absent".
func applyDefaults(raw map[string]any) {
	dbs, ok := raw["databases"].(map[string]any)
	if !ok {
		return
	}
	for _, v := range dbs {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if _, present := entry["enabled"]; !present {
			entry["enabled"] = true
		}
	}
}

func (s *Store) reset() {
	s.databases = make(map[string]*DatabaseConfig)
	s.limits = DefaultLimits()
	s.security = DefaultSecurity()
	s.api = nil
}

// save persists the current document. Durability contract: the previous
// file is renamed to <path>.bak before the new content is written; the
// backup is removed only after a successful write and restored on failure.
// A crash mid-write therefore never leaves zero valid registry files.
// Callers must hold the write lock.
func (s *Store) save() error {
	doc := document{
		Databases:     s.databases,
		DefaultLimits: s.limits,
		Security:      s.security,
		API:           s.api,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ErrKindSerialization, "failed to encode registry document", err)
	}

	backup := s.path + ".bak"
	hadPrevious := false
	if _, statErr := os.Stat(s.path); statErr == nil {
		if err := os.Rename(s.path, backup); err != nil {
			return errs.Wrap(errs.ErrKindUnknown, "failed to create registry backup", err)
		}
		hadPrevious = true
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		if hadPrevious {
			if restoreErr := os.Rename(backup, s.path); restoreErr != nil {
				s.log.ErrorWith("failed to restore registry backup", restoreErr,
					map[string]any{"path": s.path})
			}
		}
		return errs.Wrap(errs.ErrKindUnknown, "failed to write registry file", err)
	}

	if hadPrevious {
		_ = os.Remove(backup)
	}
	return nil
}

// Get returns the named config, or ok=false when it is absent or disabled.
// The returned value is a copy; mutating it does not affect the store.
func (s *Store) Get(name string) (DatabaseConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.databases[name]
	if !ok || !cfg.Enabled {
		return DatabaseConfig{}, false
	}
	return *cfg, true
}

// List returns the redacted summary of every config, enabled or not.
// Secrets (passwords, tokens) never appear in the result.
func (s *Store) List() map[string]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Summary, len(s.databases))
	for name, cfg := range s.databases {
		out[name] = cfg.Summarize()
	}
	return out
}

// Names returns all config names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.databases))
	for name := range s.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add stores a new config under name and persists the registry.
func (s *Store) Add(name string, cfg DatabaseConfig) error {
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "config name must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.databases[name] = &cfg
	if err := s.save(); err != nil {
		delete(s.databases, name)
		return err
	}
	s.log.Infof("database config added: %s (%s)", name, cfg.Type)
	return nil
}

// Update applies a partial JSON-style patch to an existing config and
// persists. Unknown keys in the patch are rejected by the typed decode.
func (s *Store) Update(name string, partial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.databases[name]
	if !ok {
		return errs.Newf(errs.ErrKindConfigNotFound, "database config not found: %s", name)
	}

	// Merge by round-tripping through JSON so the patch only touches the
	// keys it names.
	base, err := json.Marshal(existing)
	if err != nil {
		return errs.Wrap(errs.ErrKindSerialization, "failed to encode existing config", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return errs.Wrap(errs.ErrKindSerialization, "failed to decode existing config", err)
	}
	for k, v := range partial {
		merged[k] = v
	}
	buf, err := json.Marshal(merged)
	if err != nil {
		return errs.Wrap(errs.ErrKindSerialization, "failed to encode merged config", err)
	}
	var updated DatabaseConfig
	if err := json.Unmarshal(buf, &updated); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid config patch", err)
	}
	if err := updated.Validate(); err != nil {
		return err
	}

	prev := s.databases[name]
	s.databases[name] = &updated
	if err := s.save(); err != nil {
		s.databases[name] = prev
		return err
	}
	s.log.Infof("database config updated: %s", name)
	return nil
}

// Remove deletes the named config and persists the registry.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.databases[name]
	if !ok {
		return errs.Newf(errs.ErrKindConfigNotFound, "database config not found: %s", name)
	}

	delete(s.databases, name)
	if err := s.save(); err != nil {
		s.databases[name] = cfg
		return err
	}
	s.log.Infof("database config removed: %s", name)
	return nil
}

// Reload re-reads the registry file from disk, discarding in-memory state.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Info("reloading registry")
	return s.loadLocked()
}

// Validate resolves the named config and checks its per-backend required
// fields. The error identifies the exact missing field.
func (s *Store) Validate(name string) error {
	cfg, ok := s.Get(name)
	if !ok {
		return errs.Newf(errs.ErrKindConfigNotFound,
			"database config not found or disabled: %s", name)
	}
	return cfg.Validate()
}

// Temporaries returns the summaries of all enabled temporary configs.
func (s *Store) Temporaries() map[string]Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Summary)
	for name, cfg := range s.databases {
		if cfg.IsTemporary && cfg.Enabled {
			out[name] = cfg.Summarize()
		}
	}
	return out
}

// RemoveTemporaries deletes every config marked temporary and returns the
// removed names. Used for session-end hygiene.
func (s *Store) RemoveTemporaries() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := make(map[string]*DatabaseConfig)
	for name, cfg := range s.databases {
		if cfg.IsTemporary {
			deleted[name] = cfg
		}
	}
	if len(deleted) == 0 {
		return nil, nil
	}

	removed := make([]string, 0, len(deleted))
	for name := range deleted {
		removed = append(removed, name)
		delete(s.databases, name)
	}
	sort.Strings(removed)

	if err := s.save(); err != nil {
		for name, cfg := range deleted {
			s.databases[name] = cfg
		}
		return nil, err
	}
	s.log.Infof("removed %d temporary config(s)", len(removed))
	return removed, nil
}

// Limits returns the execution bounds section of the registry.
func (s *Store) Limits() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

// SecurityPolicy returns the write-operation policy. The returned value is
// a copy; the gate consults this on every query.
func (s *Store) SecurityPolicy() Security {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy := s.security
	policy.BlockedKeywords = append([]string(nil), s.security.BlockedKeywords...)
	return policy
}
