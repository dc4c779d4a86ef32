// Package chart picks a visualization for executed query results,
// expressed as a Recharts component spec the frontend renders directly.
package chart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/llm"
)

// Spec describes one chart over the result rows.
type Spec struct {
	ChartType         string   `json:"chart_type"`
	RechartsComponent string   `json:"recharts_component"`
	Title             string   `json:"title"`
	XAxis             string   `json:"x_axis"`
	YAxis             string   `json:"y_axis"`
	DataKeys          []string `json:"data_keys"`
}

// Unavailable is the placeholder used when chart selection fails.
func Unavailable() Spec {
	return Spec{
		ChartType:         "bar",
		RechartsComponent: "BarChart",
		Title:             "Visualization unavailable",
		DataKeys:          []string{},
	}
}

const sampleRows = 10

// Agent is the visualization agent.
type Agent struct {
	llm    llm.Completion
	logger *slog.Logger
}

// New creates a visualization agent.
func New(completion llm.Completion, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: completion, logger: logger}
}

const systemPrompt = `You choose a chart for tabular query results. Respond
with a single JSON object:
{
  "chart_type": "bar|line|pie|area|scatter",
  "recharts_component": "BarChart|LineChart|PieChart|AreaChart|ScatterChart",
  "title": "short chart title",
  "x_axis": "column for the x axis",
  "y_axis": "column for the y axis",
  "data_keys": ["columns to plot"]
}
Use only column names present in the rows.`

// Suggest picks a chart spec for the rows.
func (a *Agent) Suggest(ctx context.Context, query, sql string, rows []map[string]any) (Spec, error) {
	sample := rows
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}
	rowsJSON, err := json.Marshal(sample)
	if err != nil {
		return Spec{}, fmt.Errorf("chart: marshal rows: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL:\n%s\n\nSample rows:\n%s\n", query, sql, rowsJSON)

	out, err := a.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        b.String(),
		Complexity:  domain.ComplexitySimple,
		Temperature: 0,
		MaxTokens:   512,
		JSONMode:    true,
	})
	if err != nil {
		return Spec{}, fmt.Errorf("chart: %w", err)
	}

	var spec Spec
	if err := json.Unmarshal([]byte(out), &spec); err != nil {
		return Spec{}, fmt.Errorf("chart: decode: %w", err)
	}
	return spec, nil
}
