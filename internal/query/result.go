// Package query executes statements against brokered connections, enforcing
// the write-operation security policy before any I/O and normalizing every
// backend's result shape into one JSON-safe representation.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// Result is the normalized outcome of one Execute call. Exactly one of
// RowCount / AffectedRows is meaningful, depending on the statement kind;
// Rows is empty iff the statement is not a read.
type Result struct {
	Success      bool             `json:"success"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows,omitempty"`
	RowCount     int              `json:"row_count,omitempty"`
	AffectedRows int64            `json:"affected_rows,omitempty"`
	Error        string           `json:"error,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
}

// failure builds an unsuccessful Result from err, preserving the error kind
// for callers that dispatch on it.
func failure(err error) *Result {
	kind := errs.ErrKindUnknown
	var e *errs.Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	return &Result{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: kind.String(),
	}
}

// normalizeValue converts a backend-native cell value into a JSON-safe one.
// Temporal types become ISO-8601 strings, byte slices become strings, Mongo
// ObjectIDs become hex, decimals become floats where exact, and anything
// else that cannot round-trip through encoding/json is stringified rather
// than dropped.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Sprintf("%v", t)
		}
		return t
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339)
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC().Format(time.RFC3339)
	case primitive.Decimal128:
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	case primitive.Binary:
		return fmt.Sprintf("%x", t.Data)
	case bson.M:
		return normalizeMap(map[string]any(t))
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice([]any(t))
	case []any:
		return normalizeSlice(t)
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprintf("%v", v)
		}
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = normalizeValue(v)
	}
	return out
}

// columnsOf derives a stable column order for document results, where no
// server-provided ordering exists.
func columnsOf(rows []map[string]any) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}
