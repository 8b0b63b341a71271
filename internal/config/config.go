// Package config is the single source of truth for named database
// configurations. It persists a JSON registry document with an atomic
// backup-on-write contract, resolves ${VAR} environment placeholders at
// load time, and validates per-backend required fields before any
// connection is attempted.
package config

import (
	"time"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// BackendType identifies the database engine family.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendMySQL      BackendType = "mysql"
	BackendPostgreSQL BackendType = "postgresql"
	BackendMongoDB    BackendType = "mongodb"
)

// DefaultPort returns the conventional port for the backend, 0 when the
// backend is file-based.
func (t BackendType) DefaultPort() int {
	switch t {
	case BackendMySQL:
		return 3306
	case BackendPostgreSQL:
		return 5432
	case BackendMongoDB:
		return 27017
	default:
		return 0
	}
}

// Known reports whether t is one of the four supported families.
func (t BackendType) Known() bool {
	switch t {
	case BackendSQLite, BackendMySQL, BackendPostgreSQL, BackendMongoDB:
		return true
	}
	return false
}

// DatabaseConfig is one named entry in the registry. Which connection
// fields are mandatory depends on Type; see Validate.
type DatabaseConfig struct {
	Type        BackendType `json:"type"`
	Host        string      `json:"host,omitempty"`
	Port        int         `json:"port,omitempty"`
	Database    string      `json:"database,omitempty"`
	Username    string      `json:"username,omitempty"`
	Password    string      `json:"password,omitempty"`
	FilePath    string      `json:"file_path,omitempty"`
	AuthSource  string      `json:"auth_source,omitempty"` // MongoDB only
	Charset     string      `json:"charset,omitempty"`     // MySQL only
	SSLMode     string      `json:"sslmode,omitempty"`     // PostgreSQL only
	Enabled     bool        `json:"enabled"`
	IsTemporary bool        `json:"is_temporary,omitempty"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
	Description string      `json:"description,omitempty"`
}

// EffectivePort returns the configured port or the backend default.
func (c *DatabaseConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Type.DefaultPort()
}

// Validate checks that every field required by the backend type is present.
// It returns a specific missing-field message, never a generic failure.
func (c *DatabaseConfig) Validate() error {
	if c.Type == "" {
		return errs.New(errs.ErrKindConfigInvalid, "missing required field: type")
	}
	if !c.Type.Known() {
		return errs.Newf(errs.ErrKindConfigInvalid, "unsupported database type: %s", c.Type)
	}

	var required []field
	switch c.Type {
	case BackendSQLite:
		required = []field{{"file_path", c.FilePath}}
	case BackendMySQL, BackendPostgreSQL:
		required = []field{
			{"host", c.Host},
			{"database", c.Database},
			{"username", c.Username},
			{"password", c.Password},
		}
	case BackendMongoDB:
		required = []field{
			{"host", c.Host},
			{"database", c.Database},
		}
	}

	for _, f := range required {
		if f.value == "" {
			return errs.Newf(errs.ErrKindConfigInvalid,
				"missing required field for %s config: %s", c.Type, f.name)
		}
	}
	return nil
}

type field struct {
	name  string
	value string
}

// Summary is the redacted view of a DatabaseConfig returned by List.
// Passwords and tokens are deliberately absent. This is a contract,
// not an accident.
type Summary struct {
	Type        BackendType `json:"type"`
	Description string      `json:"description"`
	Enabled     bool        `json:"enabled"`
	Host        string      `json:"host,omitempty"`
	Database    string      `json:"database,omitempty"`
	FilePath    string      `json:"file_path,omitempty"`
	IsTemporary bool        `json:"is_temporary"`
	CreatedAt   time.Time   `json:"created_at,omitempty"`
}

// Summarize builds the redacted summary view of c.
func (c *DatabaseConfig) Summarize() Summary {
	return Summary{
		Type:        c.Type,
		Description: c.Description,
		Enabled:     c.Enabled,
		Host:        c.Host,
		Database:    c.Database,
		FilePath:    c.FilePath,
		IsTemporary: c.IsTemporary,
		CreatedAt:   c.CreatedAt,
	}
}

// Limits holds execution bounds applied by the broker and the query gate.
type Limits struct {
	QueryTimeoutSeconds   int `json:"query_timeout"`
	MaxRows               int `json:"max_rows"`
	ConnectTimeoutSeconds int `json:"connect_timeout"`
}

// DefaultLimits mirrors the defaults shipped in the registry document.
func DefaultLimits() Limits {
	return Limits{
		QueryTimeoutSeconds:   30,
		MaxRows:               10000,
		ConnectTimeoutSeconds: 10,
	}
}

// QueryTimeout returns the query deadline as a duration.
func (l Limits) QueryTimeout() time.Duration {
	if l.QueryTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(l.QueryTimeoutSeconds) * time.Second
}

// ConnectTimeout returns the connect deadline as a duration.
func (l Limits) ConnectTimeout() time.Duration {
	if l.ConnectTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(l.ConnectTimeoutSeconds) * time.Second
}

// Security is the per-query write policy. It is configuration, not state:
// the gate consults it on every call.
type Security struct {
	AllowWriteOperations bool     `json:"allow_write_operations"`
	BlockedKeywords      []string `json:"blocked_keywords"`
}

// DefaultSecurity returns the read-only default policy.
func DefaultSecurity() Security {
	return Security{
		AllowWriteOperations: false,
		BlockedKeywords: []string{
			"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE",
		},
	}
}
