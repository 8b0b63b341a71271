package query

import (
	"context"
	"database/sql"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/database"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
)

// Gate executes queries against named configs with the security policy
// applied before any I/O, and normalizes every backend's results into one
// Result shape. It is stateless and safe for concurrent use.
type Gate struct {
	store  *config.Store
	broker *database.Broker
	log    *logger.Logger
}

// NewGate creates a Gate over the given store and broker.
func NewGate(store *config.Store, broker *database.Broker, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{store: store, broker: broker, log: log}
}

// Execute runs query against the named config. limit bounds SELECT results
// when the statement carries no LIMIT of its own; limit <= 0 falls back to
// the registry's max_rows. Execute never panics and never returns a Go
// error: every failure is a Result with Success=false, because one bad
// query must not take down a process serving unrelated configs.
func (g *Gate) Execute(ctx context.Context, name, query string, params []any, limit int) *Result {
	cfg, ok := g.store.Get(name)
	if !ok {
		return failure(errs.Newf(errs.ErrKindConfigNotFound,
			"database config not found or disabled: %s", name))
	}
	if err := cfg.Validate(); err != nil {
		return failure(err)
	}

	// Security check precedes all I/O: no connection is opened when the
	// policy rejects the query.
	policy := g.store.SecurityPolicy()
	if err := checkBlockedKeywords(query, policy); err != nil {
		g.log.Warnf("blocked query against %s: %v", name, err)
		return failure(err)
	}

	if limit <= 0 {
		limit = g.store.Limits().MaxRows
	}

	execCtx, cancel := context.WithTimeout(ctx, g.store.Limits().QueryTimeout())
	defer cancel()

	if cfg.Type == config.BackendMongoDB {
		return g.executeMongo(execCtx, cfg, query, policy, limit)
	}
	return g.executeSQL(execCtx, cfg, query, params, limit)
}

// --- SQL path ---

func (g *Gate) executeSQL(ctx context.Context, cfg config.DatabaseConfig, query string, params []any, limit int) *Result {
	stmt, err := prepareSQL(query)
	if err != nil {
		return failure(err)
	}

	var result *Result
	err = g.broker.WithConnection(ctx, cfg, func(conn *database.Conn) error {
		db, err := conn.SQL()
		if err != nil {
			return err
		}
		if isSelect(stmt) {
			result, err = g.runSelect(ctx, db, ensureLimit(stmt, limit), params)
		} else {
			result, err = g.runExec(ctx, db, stmt, params)
		}
		return err
	})
	if err != nil {
		return failure(err)
	}
	return result
}

func (g *Gate) runSelect(ctx context.Context, db *sql.DB, stmt string, params []any) (*Result, error) {
	rows, err := db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "query failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to read column names", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		// Scan targets are *any so the driver can write any native type;
		// normalization makes them JSON-safe afterwards.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}
		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(dest[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "error during row iteration", err)
	}

	return &Result{
		Success:  true,
		Columns:  columns,
		Rows:     out,
		RowCount: len(out),
	}, nil
}

func (g *Gate) runExec(ctx context.Context, db *sql.DB, stmt string, params []any) (*Result, error) {
	res, err := db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax, "statement failed", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report a row count; the statement still ran.
		affected = 0
	}
	return &Result{
		Success:      true,
		AffectedRows: affected,
	}, nil
}

// --- MongoDB path ---

func (g *Gate) executeMongo(ctx context.Context, cfg config.DatabaseConfig, query string, policy config.Security, limit int) *Result {
	cmd, err := parseMongoQuery(query)
	if err != nil {
		return failure(err)
	}
	if cmd.isWrite() && !policy.AllowWriteOperations {
		return failure(errs.Newf(errs.ErrKindSecurityViolation,
			"write operation not allowed: %s", cmd.op))
	}
	if cmd.limit <= 0 {
		cmd.limit = int64(limit)
	}

	var result *Result
	err = g.broker.WithConnection(ctx, cfg, func(conn *database.Conn) error {
		m, err := conn.Mongo()
		if err != nil {
			return err
		}
		result, err = g.runMongo(ctx, m, cmd)
		return err
	})
	if err != nil {
		return failure(err)
	}
	return result
}

func (g *Gate) runMongo(ctx context.Context, m *database.MongoConn, cmd *mongoCommand) (*Result, error) {
	switch cmd.op {
	case opShowDatabases:
		names, err := m.ListDatabases(ctx)
		if err != nil {
			return nil, err
		}
		return namesResult(names), nil

	case opShowCollections:
		names, err := m.ListCollections(ctx)
		if err != nil {
			return nil, err
		}
		return namesResult(names), nil

	case opFind:
		opts := options.Find().SetLimit(cmd.limit)
		cursor, err := m.Collection(cmd.collection).Find(ctx, filterOf(cmd), opts)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "find failed", err)
		}
		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "cursor iteration failed", err)
		}
		return docsResult(docs), nil

	case opFindOne:
		var doc bson.M
		err := m.Collection(cmd.collection).FindOne(ctx, filterOf(cmd)).Decode(&doc)
		if err != nil {
			if isNoDocuments(err) {
				return docsResult(nil), nil
			}
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "findOne failed", err)
		}
		return docsResult([]bson.M{doc}), nil

	case opInsertOne:
		res, err := m.Collection(cmd.collection).InsertOne(ctx, cmd.document)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "insertOne failed", err)
		}
		return &Result{
			Success:      true,
			AffectedRows: 1,
			Columns:      []string{"inserted_id"},
			Rows: []map[string]any{
				{"inserted_id": normalizeValue(res.InsertedID)},
			},
			RowCount: 1,
		}, nil

	case opAggregate:
		cursor, err := m.Collection(cmd.collection).Aggregate(ctx, cmd.pipeline)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "aggregate failed", err)
		}
		var docs []bson.M
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "cursor iteration failed", err)
		}
		return docsResult(docs), nil

	case opCount:
		n, err := m.Collection(cmd.collection).CountDocuments(ctx, filterOf(cmd))
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax, "countDocuments failed", err)
		}
		return &Result{
			Success:  true,
			Columns:  []string{"count"},
			Rows:     []map[string]any{{"count": n}},
			RowCount: 1,
		}, nil
	}

	return nil, errs.Newf(errs.ErrKindQuerySyntax, "unsupported MongoDB operation: %s", cmd.op)
}

// isNoDocuments reports whether err is the driver's empty-result sentinel,
// bare or wrapped. An empty findOne is a successful query with zero rows,
// not a failure.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func filterOf(cmd *mongoCommand) any {
	if cmd.filter == nil {
		return bson.D{}
	}
	return cmd.filter
}

func docsResult(docs []bson.M) *Result {
	rows := make([]map[string]any, len(docs))
	for i, doc := range docs {
		rows[i] = normalizeMap(map[string]any(doc))
	}
	return &Result{
		Success:  true,
		Columns:  columnsOf(rows),
		Rows:     rows,
		RowCount: len(rows),
	}
}

func namesResult(names []string) *Result {
	rows := make([]map[string]any, len(names))
	for i, name := range names {
		rows[i] = map[string]any{"name": name}
	}
	return &Result{
		Success:  true,
		Columns:  []string{"name"},
		Rows:     rows,
		RowCount: len(rows),
	}
}
