package ground

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/schema"
)

type staticSchemas struct {
	snap *schema.Snapshot
	err  error
}

func (s *staticSchemas) Snapshot(context.Context) (*schema.Snapshot, error) {
	return s.snap, s.err
}

func storeSnapshot() *staticSchemas {
	tables := map[string]domain.Table{
		"customers": {Name: "Customers", Columns: []domain.Column{
			{Table: "Customers", Name: "id"},
			{Table: "Customers", Name: "Name"},
			{Table: "Customers", Name: "city"},
		}},
		"orders": {Name: "orders", Columns: []domain.Column{
			{Table: "orders", Name: "id"},
			{Table: "orders", Name: "customer_id"},
			{Table: "orders", Name: "total_amount"},
		}},
	}
	return &staticSchemas{snap: &schema.Snapshot{
		Tables: tables,
		Names:  []string{"Customers", "orders"},
	}}
}

func TestGround_CanonicalizesAndPrunes(t *testing.T) {
	v := New(storeSnapshot(), nil)

	plan := domain.QueryPlan{
		Tables:  []string{"CUSTOMERS", "ghosts"},
		Columns: []string{"NAME", "phantom_col"},
		Filters: []domain.Filter{
			{Column: "city", Operator: "=", Value: "Lisbon"},
			{Column: "phantom_col", Operator: "=", Value: 1},
		},
		GroupBy: []string{"city", "phantom_col"},
		OrderBy: &domain.OrderBy{Column: "phantom_col", Direction: "DESC"},
	}

	got, err := v.Ground(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(got.Tables, []string{"Customers"}) {
		t.Errorf("tables = %v", got.Tables)
	}
	if !reflect.DeepEqual(got.Columns, []string{"Name"}) {
		t.Errorf("columns = %v", got.Columns)
	}
	if len(got.Filters) != 1 || got.Filters[0].Column != "city" {
		t.Errorf("filters = %v", got.Filters)
	}
	// Filter values keep their casing; only identifiers are canonicalized.
	if got.Filters[0].Value != "Lisbon" {
		t.Errorf("filter value mutated: %v", got.Filters[0].Value)
	}
	if !reflect.DeepEqual(got.GroupBy, []string{"city"}) {
		t.Errorf("group_by = %v", got.GroupBy)
	}
	if got.OrderBy != nil {
		t.Errorf("order_by on unknown column should be dropped, got %v", got.OrderBy)
	}
}

func TestGround_Idempotent(t *testing.T) {
	v := New(storeSnapshot(), nil)
	ctx := context.Background()

	plan := domain.QueryPlan{
		Tables:  []string{"customers", "Orders", "ghosts"},
		Columns: []string{"name", "total_amount", "bogus"},
		OrderBy: &domain.OrderBy{Column: "Total_Amount", Direction: "ASC"},
	}

	once, err := v.Ground(ctx, plan)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := v.Ground(ctx, once)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("grounding not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestGround_Monotonic(t *testing.T) {
	v := New(storeSnapshot(), nil)

	plan := domain.QueryPlan{
		Tables:  []string{"customers", "ghosts"},
		Columns: []string{"name", "bogus"},
	}
	got, err := v.Ground(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Tables) > len(plan.Tables) || len(got.Columns) > len(plan.Columns) {
		t.Fatal("grounding must never add elements")
	}
	original := map[string]bool{"customers": true, "ghosts": true}
	for _, tb := range got.Tables {
		if !original[tableKey(tb)] {
			t.Fatalf("grounded table %q not in the original plan", tb)
		}
	}
}

func tableKey(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

func TestGround_TotalLossFails(t *testing.T) {
	v := New(storeSnapshot(), nil)

	plan := domain.QueryPlan{Tables: []string{"cars"}}
	_, err := v.Ground(context.Background(), plan)

	var ge *domain.GroundingError
	if !errors.As(err, &ge) {
		t.Fatalf("want GroundingError, got %v", err)
	}
	if !reflect.DeepEqual(ge.Rejected, []string{"cars"}) {
		t.Errorf("rejected = %v", ge.Rejected)
	}
	if !reflect.DeepEqual(ge.Available, []string{"Customers", "orders"}) {
		t.Errorf("available = %v", ge.Available)
	}
}

func TestGround_NoTablesIsNoOp(t *testing.T) {
	v := New(storeSnapshot(), nil)

	plan := domain.QueryPlan{
		Intent:             "unclear",
		Columns:            []string{"anything"},
		NeedsClarification: true,
	}
	got, err := v.Ground(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, plan) {
		t.Fatalf("zero-table plan must pass through untouched, got %+v", got)
	}
}
