// Package sqlcheck gates generated SQL before execution. Three ordered
// checks: syntax (real parse), safety (SELECT-only denylist), and a
// schema cross-check of every table and column reference against the
// live catalog.
package sqlcheck

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/sageql/sageql/engine/schema"
)

// SnapshotProvider supplies the live schema snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

// Validator checks candidate SQL for syntax, safety, and schema validity.
type Validator struct {
	schemas SnapshotProvider
	logger  *slog.Logger
}

// New creates a SQL validator.
func New(schemas SnapshotProvider, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{schemas: schemas, logger: logger}
}

// denylist matches any whole-word occurrence of a mutating keyword,
// regardless of case or position.
var denylist = regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE|ALTER|CREATE|INSERT|UPDATE)\b`)

// Validate applies the three gates in order and returns (valid, reason).
// Expected validation failures never surface as errors; the reason string
// is empty exactly when the SQL is valid.
func (v *Validator) Validate(ctx context.Context, sql string) (bool, string) {
	parsed, ok, reason := v.checkSyntax(sql)
	if !ok {
		return false, reason
	}
	if ok, reason := v.checkSafety(sql); !ok {
		return false, reason
	}
	return v.checkSchema(ctx, sql, parsed)
}

// checkSyntax parses the SQL and enforces a single non-empty statement.
func (v *Validator) checkSyntax(sql string) (*pg_query.ParseResult, bool, string) {
	if strings.TrimSpace(sql) == "" {
		return nil, false, "Empty or invalid SQL statement"
	}
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, false, fmt.Sprintf("SQL syntax error: %v", err)
	}
	switch n := len(result.GetStmts()); {
	case n == 0:
		return nil, false, "Empty or invalid SQL statement"
	case n > 1:
		return nil, false, "Multiple SQL statements not allowed"
	}
	return result, true, ""
}

// checkSafety enforces the read-only contract. The WHERE checks on
// UPDATE/DELETE are unreachable behind the denylist and kept as
// defense-in-depth.
func (v *Validator) checkSafety(sql string) (bool, string) {
	if m := denylist.FindString(sql); m != "" {
		return false, fmt.Sprintf(
			"Dangerous operation detected: %s. Only SELECT queries are allowed.",
			strings.ToUpper(m),
		)
	}

	upper := strings.ToUpper(strings.TrimSpace(sql))
	if !strings.HasPrefix(upper, "SELECT") {
		return false, "Only SELECT queries are allowed"
	}
	if strings.Contains(upper, "UPDATE") && !strings.Contains(upper, "WHERE") {
		return false, "UPDATE without WHERE clause is not allowed"
	}
	if strings.Contains(upper, "DELETE") && !strings.Contains(upper, "WHERE") {
		return false, "DELETE without WHERE clause is not allowed"
	}
	return true, ""
}

// checkSchema cross-checks table and column references against the live
// schema. A snapshot load failure is logged and treated as a pass: the
// syntax and safety gates already provide the security floor.
func (v *Validator) checkSchema(ctx context.Context, sql string, parsed *pg_query.ParseResult) (bool, string) {
	snap, err := v.schemas.Snapshot(ctx)
	if err != nil {
		v.logger.Error("schema validation skipped: snapshot unavailable", "err", err)
		return true, ""
	}

	stmt := parsed.GetStmts()[0].GetStmt()
	refs := extractReferences(stmt)

	// Identifiers in FROM/JOIN that don't match any live table are
	// assumed to be aliases or subquery names, unless nothing matches.
	valid := make(map[string]string) // lower name -> canonical
	for _, tbl := range refs.tables {
		if t, ok := snap.Lookup(tbl); ok {
			valid[strings.ToLower(tbl)] = t.Name
		} else {
			v.logger.Debug("ignoring unknown table or alias during schema validation", "table", tbl)
		}
	}
	if len(valid) == 0 {
		return false, "No valid tables found in SQL for schema validation"
	}

	inAnyValidTable := func(col string) bool {
		for lower := range valid {
			if set := snap.ColumnSet(lower); set != nil {
				if _, ok := set[strings.ToLower(col)]; ok {
					return true
				}
			}
		}
		return false
	}

	fail := func(col, table string) (bool, string) {
		available := "none"
		if t, ok := snap.Lookup(table); ok {
			available = strings.Join(t.ColumnNames(), ", ")
		}
		return false, fmt.Sprintf(
			"Column '%s' does not exist in table '%s'. Available columns in '%s': %s. "+
				"Please reformulate your query using only the available columns.",
			col, table, table, available,
		)
	}

	// Table-qualified references: the qualifier must be a live table for
	// the check to apply; alias qualifiers are skipped.
	for _, ref := range refs.qualified {
		canonical, ok := valid[strings.ToLower(ref.table)]
		if !ok {
			continue
		}
		set := snap.ColumnSet(ref.table)
		if _, ok := set[strings.ToLower(ref.column)]; !ok {
			return fail(ref.column, canonical)
		}
	}

	// Bare references from the SELECT list, WHERE, GROUP BY, and ORDER BY
	// must resolve in some referenced table.
	first := refs.tables[0]
	if canonical, ok := valid[strings.ToLower(first)]; ok {
		first = canonical
	}
	for _, col := range refs.strict {
		if !inAnyValidTable(col) {
			return fail(col, first)
		}
	}

	return true, ""
}
