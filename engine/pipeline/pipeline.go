// Package pipeline drives a question through understanding, grounding,
// generation, validation, and execution as an explicit state machine.
// Every failure is classified and either routed to a recovery step or
// surfaced as a structured error result; Run never returns a Go error
// and never panics out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/sageql/sageql/engine/chart"
	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/exec"
	"github.com/sageql/sageql/engine/insight"
	"github.com/sageql/sageql/pkg/metrics"
)

var tracer = otel.Tracer("engine/pipeline")

// Step names the pipeline states. They appear verbatim in API responses.
type Step string

const (
	StepUnderstand  Step = "UNDERSTAND"
	StepGenerate    Step = "GENERATE"
	StepValidate    Step = "VALIDATE"
	StepExecute     Step = "EXECUTE"
	StepRetry       Step = "RETRY"
	StepSelfCorrect Step = "SELF_CORRECT"
	StepAnalyze     Step = "ANALYZE_AND_VISUALIZE"
	StepComplete    Step = "COMPLETE"
	StepError       Step = "ERROR"
)

// Understander produces a query plan from the question.
type Understander interface {
	Understand(ctx context.Context, query string) (domain.QueryPlan, error)
}

// Grounder prunes the plan down to schema elements that exist.
type Grounder interface {
	Ground(ctx context.Context, plan domain.QueryPlan) (domain.QueryPlan, error)
}

// Generator produces and repairs SQL.
type Generator interface {
	Generate(ctx context.Context, query string, plan domain.QueryPlan) (string, error)
	SelfCorrect(ctx context.Context, query string, plan domain.QueryPlan, prevSQL, failure string) (string, error)
}

// SQLValidator gates SQL before execution.
type SQLValidator interface {
	Validate(ctx context.Context, sql string) (bool, string)
}

// Runner executes validated SQL.
type Runner interface {
	Execute(ctx context.Context, sql string) (*exec.Result, error)
}

// Analyzer derives commentary from results.
type Analyzer interface {
	Analyze(ctx context.Context, query, sql string, rows []map[string]any) (insight.Analysis, error)
}

// Charter picks a visualization for results.
type Charter interface {
	Suggest(ctx context.Context, query, sql string, rows []map[string]any) (chart.Spec, error)
}

// Publisher receives completion events. May be nil.
type Publisher interface {
	QueryCompleted(ctx context.Context, res *Result)
}

// Options tunes the orchestrator.
type Options struct {
	MaxRetries int
	// Sleep is the backoff sleeper, injectable for tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// DefaultOptions returns the standard retry budget.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Result is the terminal output of one pipeline run. Field names match
// the response contract of the query API.
type Result struct {
	Query            string               `json:"query"`
	SQL              string               `json:"sql,omitempty"`
	Results          []map[string]any     `json:"results,omitempty"`
	Columns          []string             `json:"columns,omitempty"`
	RowCount         int                  `json:"row_count"`
	Truncated        bool                 `json:"truncated,omitempty"`
	Understanding    *domain.QueryPlan    `json:"query_understanding,omitempty"`
	ValidationPassed bool                 `json:"validation_passed"`
	ExecutionTimeMs  int64                `json:"execution_time_ms"`
	Analysis         *insight.Analysis    `json:"analysis,omitempty"`
	Visualization    *chart.Spec          `json:"visualization,omitempty"`
	Error            string               `json:"error,omitempty"`
	ErrorCategory    domain.ErrorCategory `json:"error_category,omitempty"`
	RetryCount       int                  `json:"retry_count"`
	Step             Step                 `json:"step"`
}

// Orchestrator wires the agents into the state machine.
type Orchestrator struct {
	understander Understander
	grounder     Grounder
	generator    Generator
	validator    SQLValidator
	runner       Runner
	analyzer     Analyzer
	charter      Charter
	publisher    Publisher
	opts         Options
	logger       *slog.Logger

	queries  *metrics.Counter
	failures *metrics.Counter
	retries  *metrics.Counter
	latency  *metrics.Histogram
}

// New creates an orchestrator. analyzer, charter, publisher, and reg may
// be nil; the corresponding behaviour is skipped.
func New(
	understander Understander,
	grounder Grounder,
	generator Generator,
	validator SQLValidator,
	runner Runner,
	analyzer Analyzer,
	charter Charter,
	publisher Publisher,
	opts Options,
	reg *metrics.Registry,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Orchestrator{
		understander: understander,
		grounder:     grounder,
		generator:    generator,
		validator:    validator,
		runner:       runner,
		analyzer:     analyzer,
		charter:      charter,
		publisher:    publisher,
		opts:         opts,
		logger:       logger,
		queries:      reg.Counter("pipeline_queries_total", "Pipeline runs started"),
		failures:     reg.Counter("pipeline_failures_total", "Pipeline runs ending in ERROR"),
		retries:      reg.Counter("pipeline_retries_total", "Retry transitions taken"),
		latency:      reg.Histogram("pipeline_duration_seconds", "End-to-end pipeline latency", nil),
	}
}

// runState carries everything a single run accumulates.
type runState struct {
	query      string
	plan       domain.QueryPlan
	hasPlan    bool
	sql        string
	failure    string // last validation or execution failure text
	result     *exec.Result
	analysis   *insight.Analysis
	chartSpec  *chart.Spec
	retryCount int
	errRecord  *domain.ErrorRecord
	step       Step
}

// Run drives the question to a terminal state.
func (o *Orchestrator) Run(ctx context.Context, query string) (res *Result) {
	start := time.Now()
	o.queries.Inc()

	s := &runState{query: query, step: StepUnderstand}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panic", "panic", r)
			res = o.finish(s, StepError, &domain.ErrorRecord{
				Category: domain.CategoryUnknown,
				Message:  fmt.Sprintf("internal error: %v", r),
			})
		}
		o.latency.Since(start)
	}()

	for {
		o.logger.Debug("pipeline step", "step", s.step, "retries", s.retryCount)
		var next Step
		stepCtx, span := tracer.Start(ctx, "pipeline."+string(s.step))
		switch s.step {
		case StepUnderstand:
			next = o.understand(stepCtx, s)
		case StepGenerate:
			next = o.generate(stepCtx, s)
		case StepValidate:
			next = o.validate(stepCtx, s)
		case StepExecute:
			next = o.execute(stepCtx, s)
		case StepSelfCorrect:
			next = o.selfCorrect(stepCtx, s)
		case StepAnalyze:
			next = o.analyze(stepCtx, s)
		case StepComplete:
			span.End()
			return o.finish(s, StepComplete, nil)
		case StepError:
			span.End()
			return o.finish(s, StepError, s.errRecord)
		default:
			span.End()
			return o.finish(s, StepError, &domain.ErrorRecord{
				Category: domain.CategoryUnknown,
				Message:  fmt.Sprintf("unknown pipeline step %q", s.step),
			})
		}
		span.End()
		s.step = next
	}
}

// finish assembles the terminal result and publishes it.
func (o *Orchestrator) finish(s *runState, step Step, rec *domain.ErrorRecord) *Result {
	res := &Result{
		Query:      s.query,
		SQL:        s.sql,
		RetryCount: s.retryCount,
		Step:       step,
	}
	if s.hasPlan {
		plan := s.plan
		res.Understanding = &plan
	}
	if s.result != nil {
		res.Results = s.result.Rows
		res.Columns = s.result.Columns
		res.RowCount = s.result.RowCount
		res.Truncated = s.result.Truncated
		res.ExecutionTimeMs = s.result.Elapsed.Milliseconds()
		res.ValidationPassed = true
	}
	res.Analysis = s.analysis
	res.Visualization = s.chartSpec

	if rec != nil {
		res.Error = rec.Message
		res.ErrorCategory = rec.Category
		o.failures.Inc()
		o.logger.Error("pipeline failed",
			"category", rec.Category,
			"retries", s.retryCount,
			"err", rec.Message)
	}
	if o.publisher != nil {
		o.publisher.QueryCompleted(context.Background(), res)
	}
	return res
}
