package database

import (
	"fmt"
	"net/url"
	"time"

	"github.com/szqshan/DataMaster-MCP/internal/config"
)

// buildDSN produces the data source name for the given config. Every driver
// in a family's fallback chain accepts the same DSN form, so the resolved
// implementation does not matter here. The connect timeout is embedded where
// the driver supports it so a bad host fails fast even without context support.
func buildDSN(cfg *config.DatabaseConfig, connectTimeout time.Duration) string {
	switch cfg.Type {
	case config.BackendSQLite:
		// Both sqlite3 (mattn) and sqlite (modernc) accept a plain path.
		return cfg.FilePath

	case config.BackendMySQL:
		charset := cfg.Charset
		if charset == "" {
			charset = "utf8mb4"
		}
		// parseTime=true makes the driver scan DATETIME/TIMESTAMP columns
		// as time.Time, which the result normalizer depends on.
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=%s&timeout=%s",
			cfg.Username, cfg.Password, cfg.Host, cfg.EffectivePort(),
			cfg.Database, charset, connectTimeout)

	case config.BackendPostgreSQL:
		sslmode := cfg.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		q := url.Values{}
		q.Set("sslmode", sslmode)
		q.Set("connect_timeout", fmt.Sprintf("%d", int(connectTimeout.Seconds())))
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.Username, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.EffectivePort()),
			Path:     "/" + cfg.Database,
			RawQuery: q.Encode(),
		}
		// The same URL form is accepted by both pgx/stdlib and lib/pq.
		return u.String()

	case config.BackendMongoDB:
		u := url.URL{
			Scheme: "mongodb",
			Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.EffectivePort()),
			Path:   "/" + cfg.Database,
		}
		if cfg.Username != "" && cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		}
		if cfg.AuthSource != "" {
			q := url.Values{}
			q.Set("authSource", cfg.AuthSource)
			u.RawQuery = q.Encode()
		}
		return u.String()
	}
	return ""
}

// RedactedTarget describes where a config points without exposing
// credentials, for use in error context and logs.
func RedactedTarget(cfg *config.DatabaseConfig) string {
	if cfg.Type == config.BackendSQLite {
		return cfg.FilePath
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.EffectivePort(), cfg.Database)
}
