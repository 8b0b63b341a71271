package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/database"
	"github.com/szqshan/DataMaster-MCP/internal/driver"
)

// newGateFixture builds a store with one sqlite config named "local" plus a
// broker whose opens are counted, so tests can assert which failures happen
// before any connection exists.
func newGateFixture(t *testing.T, allowWrites bool) (*Gate, *int) {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "local.db")
	require.NoError(t, os.WriteFile(dbPath, nil, 0o644))

	doc := map[string]any{
		"databases": map[string]any{
			"local": map[string]any{
				"type":      "sqlite",
				"file_path": dbPath,
			},
		},
		"security": map[string]any{
			"allow_write_operations": allowWrites,
			"blocked_keywords": []string{
				"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE",
			},
		},
	}
	buf, err := json.Marshal(doc)
	require.NoError(t, err)

	storePath := filepath.Join(dir, "database_config.json")
	require.NoError(t, os.WriteFile(storePath, buf, 0o644))

	store := config.NewStore(storePath, nil)
	require.NoError(t, store.Load())

	opens := 0
	opener := func(driverName, dsn string) (*sql.DB, error) {
		opens++
		return sql.Open(driverName, dsn)
	}
	broker := database.NewBrokerWithOpener(driver.NewRegistry(nil), nil, 5*time.Second, opener)

	return NewGate(store, broker, nil), &opens
}

// seed runs DDL/DML directly on the connection, outside the gate's policy.
func seed(t *testing.T, gate *Gate, statements ...string) {
	t.Helper()
	cfg, ok := gate.store.Get("local")
	require.True(t, ok)

	err := gate.broker.WithConnection(context.Background(), cfg, func(conn *database.Conn) error {
		db, err := conn.SQL()
		require.NoError(t, err)
		for _, stmt := range statements {
			if _, err := db.ExecContext(context.Background(), stmt); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestGate_Execute_UnknownConfig(t *testing.T) {
	gate, opens := newGateFixture(t, false)

	res := gate.Execute(context.Background(), "nope", "SELECT 1", nil, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "config_not_found", res.ErrorKind)
	assert.Contains(t, res.Error, "nope")
	assert.Equal(t, 0, *opens)
}

func TestGate_Execute_BlockedKeywordOpensNothing(t *testing.T) {
	gate, opens := newGateFixture(t, false)

	res := gate.Execute(context.Background(), "local", "DROP TABLE users", nil, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "security_violation", res.ErrorKind)
	assert.Contains(t, res.Error, "DROP", "rejection must name the keyword")
	assert.Equal(t, 0, *opens, "a rejected query must never open a connection")
}

func TestGate_Execute_EmptyQuery(t *testing.T) {
	gate, _ := newGateFixture(t, false)

	res := gate.Execute(context.Background(), "local", "   ", nil, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid_input", res.ErrorKind)
}

func TestGate_Execute_Select(t *testing.T) {
	gate, _ := newGateFixture(t, false)
	seed(t, gate,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'grace')`,
	)

	res := gate.Execute(context.Background(), "local", "SELECT id, name FROM users ORDER BY id", nil, 0)
	require.True(t, res.Success, "unexpected failure: %s", res.Error)

	assert.Equal(t, []string{"id", "name"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "ada", res.Rows[0]["name"])
	assert.Equal(t, "grace", res.Rows[1]["name"])
}

func TestGate_Execute_AppliesCallerLimit(t *testing.T) {
	gate, _ := newGateFixture(t, false)
	seed(t, gate,
		`CREATE TABLE numbers (n INTEGER)`,
		`INSERT INTO numbers (n) VALUES (1), (2), (3), (4), (5)`,
	)

	res := gate.Execute(context.Background(), "local", "SELECT n FROM numbers", nil, 2)
	require.True(t, res.Success, "unexpected failure: %s", res.Error)
	assert.Equal(t, 2, res.RowCount)
}

func TestGate_Execute_ExplicitLimitWins(t *testing.T) {
	gate, _ := newGateFixture(t, false)
	seed(t, gate,
		`CREATE TABLE numbers (n INTEGER)`,
		`INSERT INTO numbers (n) VALUES (1), (2), (3), (4), (5)`,
	)

	res := gate.Execute(context.Background(), "local", "SELECT n FROM numbers LIMIT 4", nil, 2)
	require.True(t, res.Success, "unexpected failure: %s", res.Error)
	assert.Equal(t, 4, res.RowCount, "a LIMIT written by the caller must not be overridden")
}

func TestGate_Execute_WriteWhenAllowed(t *testing.T) {
	gate, _ := newGateFixture(t, true)
	seed(t, gate, `CREATE TABLE logs (line TEXT)`)

	res := gate.Execute(context.Background(), "local", "INSERT INTO logs (line) VALUES ('hello')", nil, 0)
	require.True(t, res.Success, "unexpected failure: %s", res.Error)
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Empty(t, res.Rows)

	check := gate.Execute(context.Background(), "local", "SELECT line FROM logs", nil, 0)
	require.True(t, check.Success)
	assert.Equal(t, 1, check.RowCount)
}

func TestGate_Execute_SyntaxErrorIsStructured(t *testing.T) {
	gate, _ := newGateFixture(t, false)

	res := gate.Execute(context.Background(), "local", "SELECT FROM WHERE", nil, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "query_syntax", res.ErrorKind)
	assert.NotEmpty(t, res.Error)
}

func TestGate_Execute_Parameterized(t *testing.T) {
	gate, _ := newGateFixture(t, false)
	seed(t, gate,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO users (id, name) VALUES (1, 'ada'), (2, 'grace')`,
	)

	res := gate.Execute(context.Background(), "local", "SELECT name FROM users WHERE id = ?", []any{2}, 0)
	require.True(t, res.Success, "unexpected failure: %s", res.Error)
	require.Equal(t, 1, res.RowCount)
	assert.Equal(t, "grace", res.Rows[0]["name"])
}

func TestIsNoDocuments(t *testing.T) {
	assert.True(t, isNoDocuments(mongo.ErrNoDocuments))
	assert.True(t, isNoDocuments(fmt.Errorf("decoding result: %w", mongo.ErrNoDocuments)),
		"sentinel must be recognized through wrapping")
	assert.False(t, isNoDocuments(errors.New("mongo: no documents in result")),
		"an unrelated error with the same text is not the sentinel")
	assert.False(t, isNoDocuments(nil))
}

func TestGate_Execute_MongoKeywordScanStillApplies(t *testing.T) {
	// The keyword scan runs before backend dispatch, so a blocked word in a
	// Mongo-looking query is rejected without parsing.
	gate, opens := newGateFixture(t, false)

	res := gate.Execute(context.Background(), "local", "db.users.find({note: 'DROP'})", nil, 0)
	assert.False(t, res.Success)
	assert.Equal(t, "security_violation", res.ErrorKind)
	assert.Equal(t, 0, *opens)
}
