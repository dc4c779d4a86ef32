package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/llm"
	"github.com/sageql/sageql/engine/retrieval"
)

type fakeLLM struct {
	out     string
	err     error
	lastReq llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.lastReq = req
	return f.out, f.err
}

type fakeRetriever struct {
	ctx *retrieval.Context
	err error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, plan domain.QueryPlan) (*retrieval.Context, error) {
	return f.ctx, f.err
}

func TestGenerate(t *testing.T) {
	model := &fakeLLM{out: "```sql\nSELECT COUNT(*) FROM customers;\n```"}
	r := &fakeRetriever{ctx: &retrieval.Context{Hits: []retrieval.Hit{
		{Kind: domain.KindTable, Name: "customers", Document: "Table: customers\nColumns: id, city"},
	}}}
	g := New(model, r, nil)

	plan := domain.QueryPlan{Tables: []string{"customers"}, Aggregations: []string{"count"}}
	sql, err := g.Generate(context.Background(), "How many customers?", plan)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sql != "SELECT COUNT(*) FROM customers" {
		t.Errorf("sql = %q", sql)
	}
	if !strings.Contains(model.lastReq.User, "Table: customers") {
		t.Error("prompt missing retrieved schema context")
	}
}

func TestGenerate_RoutesByComplexity(t *testing.T) {
	model := &fakeLLM{out: "SELECT 1"}
	g := New(model, nil, nil)

	simple := domain.QueryPlan{Tables: []string{"customers"}}
	if _, err := g.Generate(context.Background(), "q", simple); err != nil {
		t.Fatal(err)
	}
	if model.lastReq.Complexity != domain.ComplexitySimple {
		t.Errorf("complexity = %v", model.lastReq.Complexity)
	}

	complexPlan := domain.QueryPlan{
		Tables:       []string{"a", "b", "c"},
		Aggregations: []string{"sum", "count"},
		GroupBy:      []string{"x"},
	}
	if _, err := g.Generate(context.Background(), "q", complexPlan); err != nil {
		t.Fatal(err)
	}
	if model.lastReq.Complexity != domain.ComplexityComplex {
		t.Errorf("complexity = %v", model.lastReq.Complexity)
	}
}

func TestGenerate_FallbackWhenModelDown(t *testing.T) {
	model := &fakeLLM{err: errors.New("provider down")}
	g := New(model, nil, nil)

	plan := domain.QueryPlan{Tables: []string{"customers"}, Aggregations: []string{"count"}}
	sql, err := g.Generate(context.Background(), "How many customers?", plan)
	if err != nil {
		t.Fatalf("fallback should cover model outage: %v", err)
	}
	if sql != "SELECT COUNT(*) FROM customers" {
		t.Errorf("sql = %q", sql)
	}

	// Without tables there is nothing to fall back to.
	if _, err := g.Generate(context.Background(), "q", domain.QueryPlan{}); err == nil {
		t.Fatal("expected error with no fallback available")
	}
}

func TestSelfCorrectPromptCarriesFailure(t *testing.T) {
	model := &fakeLLM{out: "SELECT city FROM customers"}
	g := New(model, nil, nil)

	sql, err := g.SelfCorrect(context.Background(), "cities", domain.QueryPlan{},
		"SELECT town FROM customers", "Column 'town' does not exist in table 'customers'")
	if err != nil {
		t.Fatal(err)
	}
	if sql != "SELECT city FROM customers" {
		t.Errorf("sql = %q", sql)
	}
	if !strings.Contains(model.lastReq.User, "SELECT town FROM customers") {
		t.Error("prompt missing previous SQL")
	}
	if !strings.Contains(model.lastReq.User, "does not exist") {
		t.Error("prompt missing failure reason")
	}
}

func TestCleanSQL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT 1;", "SELECT 1"},
		{"```sql\nSELECT 1;\n```", "SELECT 1"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"sql\nSELECT 1", "SELECT 1"},
		{"  SELECT 1 ;; ", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := CleanSQL(tc.in); got != tc.want {
			t.Errorf("CleanSQL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFallback(t *testing.T) {
	limit := 5
	plan := domain.QueryPlan{
		Tables:       []string{"orders"},
		Columns:      []string{"total_amount"},
		Aggregations: []string{"sum"},
		GroupBy:      []string{"status"},
		Filters: []domain.Filter{
			{Column: "city", Operator: "=", Value: "Lisbon", Type: "string"},
		},
		OrderBy: &domain.OrderBy{Column: "status", Direction: "desc"},
		Limit:   &limit,
	}
	sql, ok := Fallback(plan)
	if !ok {
		t.Fatal("fallback refused")
	}
	want := "SELECT status, SUM(total_amount) FROM orders WHERE city = 'Lisbon' GROUP BY status ORDER BY status DESC LIMIT 5"
	if sql != want {
		t.Errorf("sql = %q\nwant  %q", sql, want)
	}

	// String values get their quotes escaped.
	sql, _ = Fallback(domain.QueryPlan{
		Tables:  []string{"customers"},
		Filters: []domain.Filter{{Column: "name", Value: "O'Brien", Type: "string"}},
	})
	if !strings.Contains(sql, "'O''Brien'") {
		t.Errorf("sql = %q", sql)
	}
}
