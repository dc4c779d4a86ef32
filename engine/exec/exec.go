// Package exec runs validated SELECT statements against Postgres inside a
// read-only transaction that is always rolled back. Row count and wall
// time are capped so one query cannot starve the api.
package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sageql/sageql/engine/domain"
)

// DB is the subset of pgxpool.Pool the executor needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Options bound a single execution.
type Options struct {
	Timeout      time.Duration
	MaxRows      int
	DefaultLimit int // injected into unbounded row-returning queries
}

// DefaultOptions returns the standard execution bounds.
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxRows:      10000,
		DefaultLimit: 1000,
	}
}

// Result is the outcome of one execution.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Elapsed   time.Duration    `json:"-"`
}

// Executor runs statements.
type Executor struct {
	db     DB
	opts   Options
	logger *slog.Logger
}

// New creates an executor.
func New(db DB, opts Options, logger *slog.Logger) *Executor {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = def.MaxRows
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = def.DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{db: db, opts: opts, logger: logger}
}

var (
	limitRe = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	aggRe   = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	groupRe = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
)

// InjectLimit appends a row limit to queries that can return unbounded
// rows. A pure aggregate without GROUP BY returns one row and is left
// alone; everything else without an explicit LIMIT gets one.
func InjectLimit(sql string, limit int) string {
	if limitRe.MatchString(sql) {
		return sql
	}
	if aggRe.MatchString(sql) && !groupRe.MatchString(sql) {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", sql, limit)
}

// Execute runs sql and collects the rows. The transaction is read-only
// and rolled back unconditionally, so even a statement that slipped past
// validation cannot persist anything.
func (e *Executor) Execute(ctx context.Context, sql string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	sql = InjectLimit(sql, e.opts.DefaultLimit)
	start := time.Now()

	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, e.wrap(fmt.Errorf("exec: begin: %w", err))
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, e.wrap(fmt.Errorf("exec: query: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(result.Rows) >= e.opts.MaxRows {
			result.Truncated = true
			e.logger.Warn("result truncated", "max_rows", e.opts.MaxRows)
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, e.wrap(fmt.Errorf("exec: read row: %w", err))
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.wrap(fmt.Errorf("exec: rows: %w", err))
	}

	result.RowCount = len(result.Rows)
	result.Elapsed = time.Since(start)
	e.logger.Info("query executed",
		"rows", result.RowCount,
		"truncated", result.Truncated,
		"elapsed_ms", result.Elapsed.Milliseconds())
	return result, nil
}

// wrap maps a deadline hit onto the timeout sentinel so the error
// classifier sees a typed cause instead of a driver message.
func (e *Executor) wrap(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrQueryTimeout, err)
	}
	return err
}

// normalize converts driver values into JSON-friendly shapes.
func normalize(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.Format(time.RFC3339)
	case []byte:
		return string(tv)
	default:
		return v
	}
}
