package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCategorize_KeywordRules(t *testing.T) {
	cases := []struct {
		message string
		want    ErrorCategory
	}{
		{"syntax error at or near SELECTT", CategorySyntax},
		{`relation "ghosts" does not exist`, CategorySchema},
		{"permission denied for table customers", CategoryPermission},
		{"statement timed out", CategoryTimeout},
		{"failed to execute statement", CategoryExecution},
		{"dangerous operation not allowed", CategoryValidation},
		{"rate limit reached for model", CategoryLLM},
		{"no results for query", CategoryEmptyResults},
		{"dial tcp: connection refused", CategoryNetwork},
		{"something inexplicable happened", CategoryUnknown},
	}
	for _, tc := range cases {
		if got := Categorize(tc.message); got != tc.want {
			t.Errorf("Categorize(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}

func TestClassify_TypedBeforeKeywords(t *testing.T) {
	// DeadlineExceeded carries no "timeout" keyword in its wrapper but
	// must still classify as a timeout.
	rec := Classify(fmt.Errorf("run query: %w", context.DeadlineExceeded), nil)
	if rec.Category != CategoryTimeout {
		t.Fatalf("category = %s, want %s", rec.Category, CategoryTimeout)
	}
	if !rec.Retryable {
		t.Fatal("timeout must be retryable")
	}
}

func TestClassify_GroundingError(t *testing.T) {
	err := &GroundingError{Rejected: []string{"cars"}, Available: []string{"customers", "orders"}}
	rec := Classify(fmt.Errorf("ground plan: %w", err), map[string]string{"step": "grounding"})
	if rec.Category != CategorySchema {
		t.Fatalf("category = %s, want %s", rec.Category, CategorySchema)
	}
	if !strings.Contains(rec.Message, "cars") || !strings.Contains(rec.Message, "customers") {
		t.Fatalf("message should name rejected and available tables: %s", rec.Message)
	}
	if rec.Context["step"] != "grounding" {
		t.Fatalf("context lost: %v", rec.Context)
	}
}

func TestClassify_PermissionNotRetryable(t *testing.T) {
	rec := Classify(errors.New("access denied"), nil)
	if rec.Category != CategoryPermission {
		t.Fatalf("category = %s", rec.Category)
	}
	if rec.Retryable {
		t.Fatal("permission errors must never be retryable")
	}
}

func TestClassifyComplexity(t *testing.T) {
	simple := QueryPlan{Tables: []string{"customers"}, Aggregations: []string{"COUNT"}}
	if got := ClassifyComplexity(simple); got != ComplexitySimple {
		t.Errorf("single-table count = %s, want simple", got)
	}

	medium := QueryPlan{
		Tables:       []string{"orders", "customers"},
		Aggregations: []string{"SUM"},
	}
	if got := ClassifyComplexity(medium); got != ComplexityMedium {
		t.Errorf("two-table sum = %s, want medium", got)
	}

	complexPlan := QueryPlan{
		Tables:       []string{"orders", "customers", "order_items", "products"},
		Aggregations: []string{"SUM", "AVG", "COUNT"},
		GroupBy:      []string{"city"},
	}
	if got := ClassifyComplexity(complexPlan); got != ComplexityComplex {
		t.Errorf("four-table grouped = %s, want complex", got)
	}
}

func TestPlanClone_Independent(t *testing.T) {
	limit := 5
	p := QueryPlan{
		Tables:  []string{"customers"},
		Columns: []string{"id"},
		OrderBy: &OrderBy{Column: "id", Direction: "ASC"},
		Limit:   &limit,
	}
	c := p.Clone()
	c.Tables[0] = "mutated"
	c.OrderBy.Column = "mutated"
	*c.Limit = 99

	if p.Tables[0] != "customers" || p.OrderBy.Column != "id" || *p.Limit != 5 {
		t.Fatal("Clone must not share backing storage with the original")
	}
}
