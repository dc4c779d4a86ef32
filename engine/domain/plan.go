// Package domain holds the core types shared across the query pipeline:
// the semantic query plan extracted from natural language, schema
// metadata elements, and the error taxonomy used for retry routing.
package domain

import "strings"

// Filter is a single predicate extracted from the user's question.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	Type     string `json:"type,omitempty"`
}

// OrderBy is an ordering directive extracted from the user's question.
type OrderBy struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

// QueryPlan is the structured interpretation of a natural-language query.
// After grounding, every table and column reference is confirmed to exist
// in the live schema.
type QueryPlan struct {
	Intent             string   `json:"intent"`
	Tables             []string `json:"tables"`
	Columns            []string `json:"columns"`
	Filters            []Filter `json:"filters"`
	Aggregations       []string `json:"aggregations"`
	GroupBy            []string `json:"group_by"`
	OrderBy            *OrderBy `json:"order_by"`
	Limit              *int     `json:"limit"`
	Ambiguities        []string `json:"ambiguities"`
	NeedsClarification bool     `json:"needs_clarification"`
}

// Clone returns a deep copy of the plan. Grounding prunes a copy so the
// caller's plan is never mutated.
func (p QueryPlan) Clone() QueryPlan {
	out := p
	out.Tables = append([]string(nil), p.Tables...)
	out.Columns = append([]string(nil), p.Columns...)
	out.Filters = append([]Filter(nil), p.Filters...)
	out.Aggregations = append([]string(nil), p.Aggregations...)
	out.GroupBy = append([]string(nil), p.GroupBy...)
	out.Ambiguities = append([]string(nil), p.Ambiguities...)
	if p.OrderBy != nil {
		ob := *p.OrderBy
		out.OrderBy = &ob
	}
	if p.Limit != nil {
		l := *p.Limit
		out.Limit = &l
	}
	return out
}

// Complexity levels drive LLM model routing for plan-derived prompts.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ClassifyComplexity scores a plan for model routing. More tables, more
// aggregations, grouping, and heavy filtering all push the score up.
func ClassifyComplexity(p QueryPlan) Complexity {
	score := 0.0

	switch n := len(p.Tables); {
	case n <= 1:
	case n == 2:
		score += 1
	case n == 3:
		score += 2
	default:
		score += 4
	}

	switch n := len(p.Aggregations); {
	case n == 0:
	case n == 1:
		score += 0.5
	case n == 2:
		score += 1
	default:
		score += 2
	}

	if len(p.GroupBy) > 0 {
		score += 1.5
	}
	if len(p.Filters) > 2 {
		score += 1
	}
	for _, f := range p.Filters {
		lc := strings.ToLower(f.Column + " " + f.Type)
		if strings.Contains(lc, "date") || strings.Contains(lc, "time") ||
			strings.Contains(lc, "year") || strings.Contains(lc, "month") {
			score += 0.5
			break
		}
	}
	if p.OrderBy != nil {
		score += 0.3
	}
	if len(p.Columns) > 5 {
		score += 0.5
	}

	switch {
	case score >= 4:
		return ComplexityComplex
	case score >= 1.5:
		return ComplexityMedium
	default:
		return ComplexitySimple
	}
}
