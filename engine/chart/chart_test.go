package chart

import (
	"context"
	"testing"

	"github.com/sageql/sageql/engine/llm"
)

type fakeLLM struct {
	out string
	err error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return f.out, f.err
}

func TestSuggest(t *testing.T) {
	model := &fakeLLM{out: `{"chart_type":"bar","recharts_component":"BarChart","title":"Customers by city","x_axis":"city","y_axis":"count","data_keys":["count"]}`}
	a := New(model, nil)

	spec, err := a.Suggest(context.Background(), "customers by city",
		"SELECT city, COUNT(*) AS count FROM customers GROUP BY city",
		[]map[string]any{{"city": "Lisbon", "count": 42}})
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if spec.RechartsComponent != "BarChart" || spec.XAxis != "city" {
		t.Errorf("spec = %+v", spec)
	}
}

func TestUnavailable(t *testing.T) {
	spec := Unavailable()
	if spec.ChartType != "bar" || spec.RechartsComponent != "BarChart" {
		t.Errorf("spec = %+v", spec)
	}
	if spec.Title != "Visualization unavailable" {
		t.Errorf("title = %q", spec.Title)
	}
}
