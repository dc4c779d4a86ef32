// Package ground validates a semantic query plan against the live schema.
// Invalid references are removed, never substituted: a plan that loses
// every requested table is a hard failure, which is the system's primary
// guard against hallucinated tables.
package ground

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/schema"
)

// SnapshotProvider supplies the live schema snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

// Validator prunes plans to schema-confirmed elements only.
type Validator struct {
	schemas SnapshotProvider
	logger  *slog.Logger
}

// New creates a grounding validator.
func New(schemas SnapshotProvider, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{schemas: schemas, logger: logger}
}

// Ground returns a copy of the plan containing only tables and columns
// that exist in the live schema. Matching is case-insensitive; kept
// identifiers are rewritten to their canonical casing. Filter values are
// never touched. Grounding is idempotent and only ever shrinks the plan.
//
// If the plan named at least one table and none survive, a
// *domain.GroundingError is returned naming the rejected tables and the
// tables that actually exist. A plan with no tables at all passes
// through untouched; ambiguity detection upstream owns that case.
func (v *Validator) Ground(ctx context.Context, plan domain.QueryPlan) (domain.QueryPlan, error) {
	out := plan.Clone()
	if len(plan.Tables) == 0 {
		return out, nil
	}

	snap, err := v.schemas.Snapshot(ctx)
	if err != nil {
		return out, fmt.Errorf("ground: load schema snapshot: %w", err)
	}

	var kept []string
	var rejected []string
	for _, name := range plan.Tables {
		if tbl, ok := snap.Lookup(name); ok {
			kept = append(kept, tbl.Name)
		} else {
			rejected = append(rejected, name)
			v.logger.Warn("grounding dropped unknown table", "table", name)
		}
	}

	if len(kept) == 0 {
		return out, &domain.GroundingError{
			Rejected:  rejected,
			Available: append([]string(nil), snap.Names...),
		}
	}
	out.Tables = dedupe(kept)

	// A column survives if at least one surviving table has it.
	resolve := func(col string) (string, bool) {
		for _, tbl := range out.Tables {
			if set := snap.ColumnSet(tbl); set != nil {
				if canonical, ok := set[strings.ToLower(col)]; ok {
					return canonical, true
				}
			}
		}
		return "", false
	}

	out.Columns = out.Columns[:0]
	for _, col := range plan.Columns {
		if canonical, ok := resolve(col); ok {
			out.Columns = append(out.Columns, canonical)
		} else {
			v.logger.Warn("grounding dropped unknown column", "column", col)
		}
	}

	out.Filters = out.Filters[:0]
	for _, f := range plan.Filters {
		if canonical, ok := resolve(f.Column); ok {
			f.Column = canonical
			out.Filters = append(out.Filters, f)
		} else {
			v.logger.Warn("grounding dropped filter on unknown column", "column", f.Column)
		}
	}

	out.GroupBy = out.GroupBy[:0]
	for _, col := range plan.GroupBy {
		if canonical, ok := resolve(col); ok {
			out.GroupBy = append(out.GroupBy, canonical)
		} else {
			v.logger.Warn("grounding dropped group-by on unknown column", "column", col)
		}
	}

	if plan.OrderBy != nil {
		if canonical, ok := resolve(plan.OrderBy.Column); ok {
			out.OrderBy.Column = canonical
		} else {
			v.logger.Warn("grounding dropped order-by on unknown column", "column", plan.OrderBy.Column)
			out.OrderBy = nil
		}
	}

	return out, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
