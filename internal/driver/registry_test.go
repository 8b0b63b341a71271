package driver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

func available() error   { return nil }
func unavailable() error { return errors.New("not usable in this build") }

func TestRegistry_Preferred_FirstChoiceWins(t *testing.T) {
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"sqlite3": available,
		"sqlite":  available,
	})

	desc, err := reg.Preferred(config.BackendSQLite)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", desc.Name)
	assert.True(t, desc.Available)
}

func TestRegistry_Preferred_FallsThroughToSecond(t *testing.T) {
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"sqlite3": unavailable,
		"sqlite":  available,
	})

	desc, err := reg.Preferred(config.BackendSQLite)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", desc.Name)
}

func TestRegistry_Preferred_AllUnavailableNamesEveryAttempt(t *testing.T) {
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"pgx":      unavailable,
		"postgres": unavailable,
	})

	_, err := reg.Preferred(config.BackendPostgreSQL)
	require.Error(t, err)
	assert.True(t, errs.IsDriverUnavailable(err))
	assert.Contains(t, err.Error(), "pgx")
	assert.Contains(t, err.Error(), "postgres")
	assert.Contains(t, err.Error(), "not usable in this build")
}

func TestRegistry_Preferred_UnknownFamily(t *testing.T) {
	reg := NewRegistryWithProbes(nil, nil)

	_, err := reg.Preferred(config.BackendType("oracle"))
	require.Error(t, err)
	assert.True(t, errs.IsDriverUnavailable(err))
}

func TestRegistry_Probe_ResultsAreCached(t *testing.T) {
	calls := 0
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"mysql": func() error {
			calls++
			return nil
		},
	})

	reg.Probe(config.BackendMySQL)
	reg.Probe(config.BackendMySQL)
	assert.Equal(t, 1, calls, "probe outcome must be cached for the process lifetime")
}

func TestRegistry_Probe_RecordsFailureWithoutError(t *testing.T) {
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"sqlite3": unavailable,
		"sqlite":  available,
	})

	descriptors := reg.Probe(config.BackendSQLite)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "sqlite3", descriptors[0].Name)
	assert.False(t, descriptors[0].Available)
	assert.Contains(t, descriptors[0].Err, "not usable")

	assert.Equal(t, "sqlite", descriptors[1].Name)
	assert.True(t, descriptors[1].Available)
}

func TestRegistry_MongoAlwaysAvailable(t *testing.T) {
	reg := NewRegistryWithProbes(nil, nil)

	desc, err := reg.Preferred(config.BackendMongoDB)
	require.NoError(t, err)
	assert.Equal(t, "mongo-driver", desc.Name)
}

func TestRegistry_All_CoversEveryFamily(t *testing.T) {
	reg := NewRegistryWithProbes(nil, map[string]ProbeFunc{
		"sqlite3":  available,
		"sqlite":   available,
		"mysql":    available,
		"pgx":      available,
		"postgres": available,
	})

	report := reg.All()
	assert.Len(t, report, 4)
	for _, family := range []config.BackendType{
		config.BackendSQLite, config.BackendMySQL,
		config.BackendPostgreSQL, config.BackendMongoDB,
	} {
		assert.NotEmpty(t, report[family], "family %s missing from report", family)
	}
}

func TestProbeRegistered_RealDrivers(t *testing.T) {
	// The blank imports above register all SQL drivers with database/sql;
	// a registered name probes clean, an unknown one does not.
	assert.NoError(t, probeRegistered("mysql"))
	assert.NoError(t, probeRegistered("pgx"))
	assert.NoError(t, probeRegistered("postgres"))
	assert.Error(t, probeRegistered("no-such-driver"))
}
