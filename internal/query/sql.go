package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/errs"
)

// prepareSQL validates and canonicalizes a SQL statement: trims whitespace,
// rejects empty input, and strips a single trailing semicolon. Only
// single-statement semantics are supported; batches with embedded
// semicolons are left for the backend driver to reject, and that rejection
// is surfaced as a structured error rather than a crash.
func prepareSQL(raw string) (string, error) {
	q := strings.TrimSpace(raw)
	if q == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "query is empty")
	}
	q = strings.TrimSuffix(q, ";")
	q = strings.TrimSpace(q)
	if q == "" {
		return "", errs.New(errs.ErrKindInvalidInput, "query is empty")
	}
	return q, nil
}

// isSelect classifies the statement: reads fetch rows and column names,
// everything else commits and reports affected rows.
func isSelect(q string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(q)), "SELECT")
}

var limitPattern = regexp.MustCompile(`(?i)\bLIMIT\b`)

// ensureLimit appends a LIMIT clause to a SELECT that has none, bounding
// result size by the caller's limit.
func ensureLimit(q string, limit int) string {
	if limit <= 0 || limitPattern.MatchString(q) {
		return q
	}
	return fmt.Sprintf("%s LIMIT %d", q, limit)
}

// checkBlockedKeywords scans the query for any blocked keyword as a
// whole-word, case-insensitive match. The first offending keyword is named
// in the returned error; the scan happens before any connection is opened.
func checkBlockedKeywords(q string, policy config.Security) error {
	if policy.AllowWriteOperations {
		return nil
	}
	upper := strings.ToUpper(q)
	for _, keyword := range policy.BlockedKeywords {
		kw := strings.ToUpper(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		if pattern.MatchString(upper) {
			return errs.Newf(errs.ErrKindSecurityViolation,
				"query contains blocked keyword: %s", kw)
		}
	}
	return nil
}

// QuoteIdent wraps a SQL identifier in double quotes (ANSI standard),
// escaping embedded quotes. This is the single audited identifier-escaping
// helper; table and column names must never be interpolated any other way.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
