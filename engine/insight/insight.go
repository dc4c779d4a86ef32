// Package insight derives analytical commentary from executed query
// results.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/llm"
)

// Analysis is the structured commentary for a result set.
type Analysis struct {
	Insights        []string `json:"insights"`
	Trends          []string `json:"trends"`
	Anomalies       []string `json:"anomalies"`
	Recommendations []string `json:"recommendations"`
	Summary         string   `json:"summary"`
}

// Unavailable is the placeholder used when analysis fails. The pipeline
// still completes; only the commentary degrades.
func Unavailable(err error) Analysis {
	return Analysis{
		Insights:        []string{},
		Trends:          []string{},
		Anomalies:       []string{},
		Recommendations: []string{},
		Summary:         fmt.Sprintf("Analysis unavailable: %v", err),
	}
}

// sampleRows caps how many rows reach the prompt.
const sampleRows = 10

// Agent is the analysis agent.
type Agent struct {
	llm    llm.Completion
	logger *slog.Logger
}

// New creates an analysis agent.
func New(completion llm.Completion, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: completion, logger: logger}
}

const systemPrompt = `You are a data analyst. Given a question, the SQL that
answered it, and a sample of the result rows, respond with a single JSON object:
{
  "insights": ["notable facts in the data"],
  "trends": ["patterns across the rows"],
  "anomalies": ["outliers or surprises"],
  "recommendations": ["suggested follow-up questions"],
  "summary": "one-paragraph answer to the question in plain language"
}
Base everything strictly on the rows shown. Do not speculate beyond them.`

// Analyze produces commentary for the rows.
func (a *Agent) Analyze(ctx context.Context, query, sql string, rows []map[string]any) (Analysis, error) {
	sample := rows
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}
	rowsJSON, err := json.Marshal(sample)
	if err != nil {
		return Analysis{}, fmt.Errorf("insight: marshal rows: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSQL:\n%s\n\n", query, sql)
	fmt.Fprintf(&b, "Result rows (%d total, showing %d):\n%s\n", len(rows), len(sample), rowsJSON)

	out, err := a.llm.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        b.String(),
		Complexity:  domain.ComplexityComplex,
		Temperature: 0.3,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("insight: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(out), &analysis); err != nil {
		return Analysis{}, fmt.Errorf("insight: decode: %w", err)
	}
	return analysis, nil
}
