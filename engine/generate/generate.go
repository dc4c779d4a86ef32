// Package generate produces PostgreSQL from a grounded query plan. The
// prompt only ever contains schema elements that exist, retrieved by the
// hybrid engine, so the model has nothing imaginary to lean on.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/llm"
	"github.com/sageql/sageql/engine/retrieval"
)

// Retriever supplies schema context for the prompt, seeded by the
// grounded plan.
type Retriever interface {
	Retrieve(ctx context.Context, query string, plan domain.QueryPlan) (*retrieval.Context, error)
}

// Generator is the SQL generation agent.
type Generator struct {
	llm       llm.Completion
	retriever Retriever
	logger    *slog.Logger
}

// New creates a generation agent.
func New(completion llm.Completion, retriever Retriever, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: completion, retriever: retriever, logger: logger}
}

// Generate produces SQL for the question and its grounded plan. When the
// model is unavailable and the plan names at least one table, a
// deterministic fallback statement is built from the plan instead.
func (g *Generator) Generate(ctx context.Context, query string, plan domain.QueryPlan) (string, error) {
	schemaContext := g.schemaContext(ctx, query, plan)

	out, err := g.llm.Complete(ctx, llm.Request{
		System:      generateSystemPrompt,
		User:        generateUserPrompt(query, plan, schemaContext),
		Complexity:  domain.ClassifyComplexity(plan),
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		if sql, ok := Fallback(plan); ok {
			g.logger.Warn("generation model unavailable, using plan fallback", "err", err)
			return sql, nil
		}
		return "", fmt.Errorf("generate: %w", err)
	}
	return CleanSQL(out), nil
}

// SelfCorrect asks the model to repair SQL that failed validation or
// execution. The previous statement and the failure reason go into the
// prompt so the model fixes rather than regenerates.
func (g *Generator) SelfCorrect(ctx context.Context, query string, plan domain.QueryPlan, prevSQL, failure string) (string, error) {
	schemaContext := g.schemaContext(ctx, query, plan)

	out, err := g.llm.Complete(ctx, llm.Request{
		System:      correctSystemPrompt,
		User:        correctUserPrompt(query, prevSQL, failure, schemaContext),
		Complexity:  domain.ComplexityComplex,
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("generate: self-correct: %w", err)
	}
	return CleanSQL(out), nil
}

// schemaContext retrieves prompt context; a retrieval failure degrades to
// an empty context rather than blocking generation.
func (g *Generator) schemaContext(ctx context.Context, query string, plan domain.QueryPlan) string {
	if g.retriever == nil {
		return ""
	}
	rc, err := g.retriever.Retrieve(ctx, query, plan)
	if err != nil {
		g.logger.Warn("generate: retrieval failed, prompting without schema context", "err", err)
		return ""
	}
	return rc.Text()
}

// CleanSQL strips markdown fences, a leading language tag, and trailing
// semicolons from model output.
func CleanSQL(out string) string {
	s := strings.TrimSpace(out)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "sql"); ok && (rest == "" || rest[0] == '\n' || rest[0] == ' ') {
		s = strings.TrimSpace(s[3:])
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ";"))
}

// Fallback builds a plain statement straight from the plan. It covers the
// common aggregate and projection shapes; anything it cannot express
// honestly reports false.
func Fallback(plan domain.QueryPlan) (string, bool) {
	if len(plan.Tables) == 0 {
		return "", false
	}
	table := plan.Tables[0]

	sel := make([]string, 0, len(plan.GroupBy)+1)
	sel = append(sel, plan.GroupBy...)
	switch {
	case len(plan.Aggregations) > 0:
		agg := strings.ToUpper(plan.Aggregations[0])
		target := "*"
		if agg != "COUNT" {
			if len(plan.Columns) == 0 {
				return "", false
			}
			target = plan.Columns[0]
		}
		sel = append(sel, fmt.Sprintf("%s(%s)", agg, target))
	case len(plan.Columns) > 0:
		sel = plan.Columns
	default:
		sel = []string{"*"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(sel, ", "), table)

	if len(plan.Filters) > 0 {
		conds := make([]string, 0, len(plan.Filters))
		for _, f := range plan.Filters {
			op := f.Operator
			if op == "" {
				op = "="
			}
			conds = append(conds, fmt.Sprintf("%s %s %s", f.Column, op, sqlLiteral(f)))
		}
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if len(plan.GroupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(plan.GroupBy, ", "))
	}
	if plan.OrderBy != nil {
		dir := strings.ToUpper(plan.OrderBy.Direction)
		if dir != "ASC" && dir != "DESC" {
			dir = "ASC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", plan.OrderBy.Column, dir)
	}
	if plan.Limit != nil && *plan.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", *plan.Limit)
	}
	return b.String(), true
}

// sqlLiteral renders a filter value, quoting strings and dates.
func sqlLiteral(f domain.Filter) string {
	switch v := f.Value.(type) {
	case string:
		if f.Type == "number" {
			return v
		}
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(v)
	}
}
