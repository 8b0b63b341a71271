package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/szqshan/DataMaster-MCP/internal/config"
)

// tempNameFormat is the UTC timestamp embedded in generated names, so a
// temporary config reads as temp_<type>_<when it was created>.
const tempNameFormat = "20060102_150405"

// tempClock is swapped in tests to pin generated names.
var tempClock = time.Now

// CreateTemporary registers cfg under a generated temp_<type>_<timestamp>
// name, marked temporary so cleanup can find it later. The config is
// validated and persisted like any other; only its lifecycle differs.
func (r *Registry) CreateTemporary(cfg config.DatabaseConfig) (string, error) {
	now := tempClock().UTC()
	name := fmt.Sprintf("temp_%s_%s", cfg.Type, now.Format(tempNameFormat))

	cfg.IsTemporary = true
	cfg.Enabled = true
	cfg.CreatedAt = now

	if err := r.store.Add(name, cfg); err != nil {
		return "", err
	}
	r.log.Infof("created temporary config %s", name)
	return name, nil
}

// ValidateOrCleanup tests connectivity for a temporary config. On failure
// the config is removed before the error is surfaced, so a failed probe
// never leaves a dead entry behind. On success the config stays registered
// and the connection-test message is returned.
func (r *Registry) ValidateOrCleanup(ctx context.Context, name string) (string, error) {
	message, err := r.TestConnection(ctx, name)
	if err != nil {
		if removeErr := r.store.Remove(name); removeErr != nil {
			r.log.Warnf("failed to remove temporary config %s after probe failure: %v", name, removeErr)
		} else {
			r.log.Infof("removed temporary config %s after probe failure", name)
		}
		return "", err
	}
	return message, nil
}

// Temporaries lists the redacted summaries of all temporary configs.
func (r *Registry) Temporaries() map[string]config.Summary {
	return r.store.Temporaries()
}

// CleanupTemporaries removes every temporary config and returns the names
// removed. Partial failure returns the names removed so far with the error.
func (r *Registry) CleanupTemporaries() ([]string, error) {
	removed, err := r.store.RemoveTemporaries()
	if len(removed) > 0 {
		r.log.Infof("removed %d temporary config(s)", len(removed))
	}
	return removed, err
}
