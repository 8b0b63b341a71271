package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "database_config.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Load())
	return store
}

func validMySQL() DatabaseConfig {
	return DatabaseConfig{
		Type:     BackendMySQL,
		Host:     "localhost",
		Database: "app",
		Username: "root",
		Password: "secret",
		Enabled:  true,
	}
}

func TestStore_Load_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"), nil)

	// Missing file is not an error; the registry starts empty and usable.
	require.NoError(t, store.Load())
	assert.Empty(t, store.List())
	assert.Equal(t, DefaultLimits(), store.Limits())
}

func TestStore_Load_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, nil)
	require.NoError(t, store.Load())
	assert.Empty(t, store.List())
}

func TestStore_AddGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	cfg := validMySQL()

	require.NoError(t, store.Add("prod", cfg))

	got, ok := store.Get("prod")
	require.True(t, ok)
	assert.Equal(t, cfg.Host, got.Host)
	assert.Equal(t, cfg.Database, got.Database)
	assert.Equal(t, cfg.Username, got.Username)
	assert.Equal(t, cfg.Password, got.Password)
}

func TestStore_Add_RejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	err := store.Add("bad", DatabaseConfig{Type: BackendSQLite})
	require.Error(t, err)
	assert.True(t, errs.IsConfigInvalid(err))

	_, ok := store.Get("bad")
	assert.False(t, ok)
}

func TestStore_Get_DisabledIsAbsent(t *testing.T) {
	store := newTestStore(t)
	cfg := validMySQL()
	cfg.Enabled = false
	require.NoError(t, store.Add("dormant", cfg))

	_, ok := store.Get("dormant")
	assert.False(t, ok)

	// List still shows it, so operators can see why Get fails.
	summaries := store.List()
	require.Contains(t, summaries, "dormant")
	assert.False(t, summaries["dormant"].Enabled)
}

func TestStore_List_NeverExposesPasswords(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add("prod", validMySQL()))

	buf, err := json.Marshal(store.List())
	require.NoError(t, err)
	assert.NotContains(t, string(buf), "secret")
	assert.NotContains(t, string(buf), "password")
}

func TestStore_Persistence_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Load())
	require.NoError(t, store.Add("prod", validMySQL()))

	reopened := NewStore(path, nil)
	require.NoError(t, reopened.Load())

	got, ok := reopened.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "secret", got.Password)
}

func TestStore_Save_RemovesBackupOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Load())

	require.NoError(t, store.Add("first", validMySQL()))
	require.NoError(t, store.Add("second", validMySQL()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err), "backup must be removed after a successful write")
}

func TestStore_EnabledDefaultsTrueWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	doc := `{
		"databases": {
			"legacy": {
				"type": "sqlite",
				"file_path": "/data/legacy.db"
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := NewStore(path, nil)
	require.NoError(t, store.Load())

	got, ok := store.Get("legacy")
	require.True(t, ok, "entry without enabled key must load as enabled")
	assert.True(t, got.Enabled)
}

func TestStore_Load_ResolvesEnvPlaceholders(t *testing.T) {
	t.Setenv("DM_STORE_TEST_PW", "from-env")

	path := filepath.Join(t.TempDir(), "database_config.json")
	doc := `{
		"databases": {
			"prod": {
				"type": "mysql",
				"host": "localhost",
				"database": "app",
				"username": "root",
				"password": "${DM_STORE_TEST_PW}"
			}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := NewStore(path, nil)
	require.NoError(t, store.Load())

	got, ok := store.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "from-env", got.Password)
}

func TestStore_Update_PartialPatch(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add("prod", validMySQL()))

	require.NoError(t, store.Update("prod", map[string]any{"host": "replica.internal"}))

	got, ok := store.Get("prod")
	require.True(t, ok)
	assert.Equal(t, "replica.internal", got.Host)
	assert.Equal(t, "secret", got.Password, "untouched fields must survive the patch")
}

func TestStore_Update_RejectsInvalidResult(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add("prod", validMySQL()))

	err := store.Update("prod", map[string]any{"host": ""})
	require.Error(t, err)
	assert.True(t, errs.IsConfigInvalid(err))

	got, _ := store.Get("prod")
	assert.Equal(t, "localhost", got.Host, "failed update must not change the stored config")
}

func TestStore_Remove(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add("prod", validMySQL()))

	require.NoError(t, store.Remove("prod"))
	_, ok := store.Get("prod")
	assert.False(t, ok)

	err := store.Remove("prod")
	require.Error(t, err)
	assert.True(t, errs.IsConfigNotFound(err))
}

func TestStore_Temporaries(t *testing.T) {
	store := newTestStore(t)

	perm := validMySQL()
	require.NoError(t, store.Add("prod", perm))

	temp := validMySQL()
	temp.IsTemporary = true
	require.NoError(t, store.Add("temp_mysql_20260826_120000", temp))

	temps := store.Temporaries()
	assert.Len(t, temps, 1)
	assert.Contains(t, temps, "temp_mysql_20260826_120000")

	removed, err := store.RemoveTemporaries()
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_mysql_20260826_120000"}, removed)

	_, ok := store.Get("prod")
	assert.True(t, ok, "permanent configs must survive temporary cleanup")
	assert.Empty(t, store.Temporaries())
}

func TestStore_RemoveTemporaries_NoneIsNoop(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Add("prod", validMySQL()))

	removed, err := store.RemoveTemporaries()
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestStore_RemoveTemporaries_RollsBackOnSaveFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	store := NewStore(path, nil)
	require.NoError(t, store.Load())

	temp := validMySQL()
	temp.IsTemporary = true
	require.NoError(t, store.Add("temp_mysql_20260826_120000", temp))

	// Occupy the backup path with a non-empty directory so save cannot
	// rename the registry file aside.
	backup := path + ".bak"
	require.NoError(t, os.Mkdir(backup, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backup, "blocker"), []byte("x"), 0o644))

	removed, err := store.RemoveTemporaries()
	require.Error(t, err)
	assert.Nil(t, removed)

	// Memory and disk must still agree: the config is back in memory and
	// was never deleted from the file.
	assert.Contains(t, store.Temporaries(), "temp_mysql_20260826_120000")
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "temp_mysql_20260826_120000")

	// Once the obstruction is gone, cleanup succeeds.
	require.NoError(t, os.RemoveAll(backup))
	removed, err = store.RemoveTemporaries()
	require.NoError(t, err)
	assert.Equal(t, []string{"temp_mysql_20260826_120000"}, removed)
	assert.Empty(t, store.Temporaries())
}

func TestStore_PreservesUnknownAPISection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_config.json")
	doc := `{
		"databases": {},
		"api": {"endpoints": {"weather": {"url": "https://example.com"}}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := NewStore(path, nil)
	require.NoError(t, store.Load())
	require.NoError(t, store.Add("prod", validMySQL()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "weather", "foreign sections must round-trip through save")
}

func TestStore_SecurityPolicy_CopyIsIsolated(t *testing.T) {
	store := newTestStore(t)

	policy := store.SecurityPolicy()
	require.NotEmpty(t, policy.BlockedKeywords)
	policy.BlockedKeywords[0] = "MUTATED"

	fresh := store.SecurityPolicy()
	assert.NotEqual(t, "MUTATED", fresh.BlockedKeywords[0])
}
