package query

import (
	"regexp"
	"strings"

	"github.com/flynn/json5"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// Mongo queries arrive in one of two shapes: a structured JSON command
//
//	{"collection": "users", "operation": "find", "filter": {"age": {"$gt": 30}}}
//
// or a small shell-like DSL
//
//	db.users.find({age: {$gt: 30}})
//	db.users.insertOne({'name': 'ada'})
//	db.orders.aggregate([{ $group: ... }])
//	show dbs / show collections
//
// Object arguments are parsed with JSON5, which accepts all three dialects
// callers actually use: standard JSON, single-quoted strings, and unquoted
// keys. There is deliberately no eval-style fallback beyond that.

type mongoOp string

const (
	opFind            mongoOp = "find"
	opFindOne         mongoOp = "findOne"
	opInsertOne       mongoOp = "insertOne"
	opAggregate       mongoOp = "aggregate"
	opCount           mongoOp = "count"
	opShowDatabases   mongoOp = "showDatabases"
	opShowCollections mongoOp = "showCollections"
)

// mongoCommand is the parsed, backend-ready form of a Mongo query.
type mongoCommand struct {
	op         mongoOp
	collection string
	filter     map[string]any
	document   map[string]any
	pipeline   []any
	limit      int64
}

const mongoFormsHint = "accepted forms: structured JSON {\"collection\": ..., \"operation\": ...}, " +
	"shell syntax db.<collection>.find({...}) / .insertOne({...}) / .aggregate([...]) / .countDocuments({...}), " +
	"or show dbs / show collections; object arguments may use standard JSON, " +
	"single-quoted strings, or unquoted keys"

var shellPattern = regexp.MustCompile(
	`(?s)^db\.([A-Za-z0-9_.$-]+)\.(find|findOne|insertOne|aggregate|countDocuments|count)\s*\((.*)\)$`)

// parseMongoQuery turns raw query text into a mongoCommand, or an error
// that lists every accepted input form.
func parseMongoQuery(raw string) (*mongoCommand, error) {
	q := strings.TrimSpace(raw)
	q = strings.TrimSuffix(q, ";")
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "query is empty")
	}

	switch strings.ToLower(q) {
	case "show dbs", "show databases":
		return &mongoCommand{op: opShowDatabases}, nil
	case "show collections", "show tables":
		return &mongoCommand{op: opShowCollections}, nil
	}

	if strings.HasPrefix(q, "{") {
		return parseStructured(q)
	}
	if m := shellPattern.FindStringSubmatch(q); m != nil {
		return parseShell(m[1], m[2], m[3])
	}
	return nil, errs.Newf(errs.ErrKindQuerySyntax,
		"unrecognized MongoDB query; %s", mongoFormsHint)
}

// parseStructured handles the JSON-command form.
func parseStructured(q string) (*mongoCommand, error) {
	var body struct {
		Collection string         `json:"collection"`
		Operation  string         `json:"operation"`
		Filter     map[string]any `json:"filter"`
		Document   map[string]any `json:"document"`
		Pipeline   []any          `json:"pipeline"`
		Limit      int64          `json:"limit"`
	}
	if err := json5.Unmarshal([]byte(q), &body); err != nil {
		return nil, errs.Wrap(errs.ErrKindQuerySyntax,
			"invalid MongoDB command document; "+mongoFormsHint, err)
	}

	op := body.Operation
	if op == "" {
		op = string(opFind)
	}
	cmd := &mongoCommand{
		collection: body.Collection,
		filter:     body.Filter,
		document:   body.Document,
		pipeline:   body.Pipeline,
		limit:      body.Limit,
	}
	switch op {
	case "find":
		cmd.op = opFind
	case "findOne", "find_one":
		cmd.op = opFindOne
	case "insertOne", "insert_one", "insert":
		cmd.op = opInsertOne
	case "aggregate":
		cmd.op = opAggregate
	case "count", "countDocuments", "count_documents":
		cmd.op = opCount
	default:
		return nil, errs.Newf(errs.ErrKindQuerySyntax,
			"unsupported MongoDB operation: %s", op)
	}
	return cmd.validated()
}

// parseShell handles the db.<collection>.<op>(args) form. The argument
// list is parsed by wrapping it in brackets and decoding it as a JSON5
// array, which gives tolerant handling of all three accepted dialects in
// one place.
func parseShell(collection, op, rawArgs string) (*mongoCommand, error) {
	var args []any
	trimmed := strings.TrimSpace(rawArgs)
	if trimmed != "" {
		if err := json5.Unmarshal([]byte("["+trimmed+"]"), &args); err != nil {
			return nil, errs.Wrap(errs.ErrKindQuerySyntax,
				"invalid arguments to db."+collection+"."+op+"(); "+mongoFormsHint, err)
		}
	}

	cmd := &mongoCommand{collection: collection}
	switch op {
	case "find":
		cmd.op = opFind
		if len(args) > 0 {
			f, ok := args[0].(map[string]any)
			if !ok {
				return nil, errs.New(errs.ErrKindQuerySyntax, "find() filter must be an object")
			}
			cmd.filter = f
		}
	case "findOne":
		cmd.op = opFindOne
		if len(args) > 0 {
			f, ok := args[0].(map[string]any)
			if !ok {
				return nil, errs.New(errs.ErrKindQuerySyntax, "findOne() filter must be an object")
			}
			cmd.filter = f
		}
	case "insertOne":
		cmd.op = opInsertOne
		if len(args) == 0 {
			return nil, errs.New(errs.ErrKindQuerySyntax, "insertOne() requires a document argument")
		}
		doc, ok := args[0].(map[string]any)
		if !ok {
			return nil, errs.New(errs.ErrKindQuerySyntax, "insertOne() document must be an object")
		}
		cmd.document = doc
	case "aggregate":
		cmd.op = opAggregate
		if len(args) == 0 {
			return nil, errs.New(errs.ErrKindQuerySyntax, "aggregate() requires a pipeline argument")
		}
		pipeline, ok := args[0].([]any)
		if !ok {
			return nil, errs.New(errs.ErrKindQuerySyntax, "aggregate() pipeline must be an array")
		}
		cmd.pipeline = pipeline
	case "count", "countDocuments":
		cmd.op = opCount
		if len(args) > 0 {
			if f, ok := args[0].(map[string]any); ok {
				cmd.filter = f
			}
		}
	}
	return cmd.validated()
}

func (c *mongoCommand) validated() (*mongoCommand, error) {
	switch c.op {
	case opShowDatabases, opShowCollections:
		return c, nil
	}
	if c.collection == "" {
		return nil, errs.New(errs.ErrKindQuerySyntax, "MongoDB query is missing a collection name")
	}
	if c.op == opInsertOne && c.document == nil {
		return nil, errs.New(errs.ErrKindQuerySyntax, "insertOne requires a document")
	}
	if c.op == opAggregate && c.pipeline == nil {
		return nil, errs.New(errs.ErrKindQuerySyntax, "aggregate requires a pipeline")
	}
	return c, nil
}

// isWrite reports whether the command mutates data, for the write policy.
func (c *mongoCommand) isWrite() bool {
	return c.op == opInsertOne
}
