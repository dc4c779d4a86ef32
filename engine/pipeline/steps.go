package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sageql/sageql/engine/chart"
	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/insight"
	"github.com/sageql/sageql/pkg/fn"
)

func (o *Orchestrator) understand(ctx context.Context, s *runState) Step {
	plan, err := o.understander.Understand(ctx, s.query)
	if err != nil {
		// Understanding failures are unrecoverable: the plan cache would
		// replay the identical answer, so no retry budget is spent.
		rec := domain.Classify(err, map[string]string{"step": string(StepUnderstand)})
		s.errRecord = &rec
		return StepError
	}

	grounded, err := o.grounder.Ground(ctx, plan)
	if err != nil {
		// A grounding hard failure means every requested table was
		// hallucinated. Same replay argument: terminal, no retries.
		rec := domain.Classify(err, map[string]string{"step": string(StepUnderstand)})
		s.errRecord = &rec
		return StepError
	}
	s.plan = grounded
	s.hasPlan = true

	// A plan with no tables has nothing to generate from. This is the
	// model declining to guess, not a transient fault; retrying the same
	// question would only replay the same plan from cache.
	if len(grounded.Tables) == 0 {
		message := "the question could not be matched to any table in the database"
		if len(grounded.Ambiguities) > 0 {
			message += ": " + grounded.Ambiguities[0]
		}
		s.errRecord = &domain.ErrorRecord{
			Category: domain.CategoryValidation,
			Severity: domain.SeverityMedium,
			Strategy: domain.StrategyCheckIntent,
			Message:  message,
		}
		return StepError
	}
	return StepGenerate
}

func (o *Orchestrator) generate(ctx context.Context, s *runState) Step {
	sql, err := o.generator.Generate(ctx, s.query, s.plan)
	if err != nil {
		return o.fail(ctx, s, domain.Classify(err, map[string]string{"step": string(StepGenerate)}))
	}
	s.sql = sql
	return StepValidate
}

func (o *Orchestrator) validate(ctx context.Context, s *runState) Step {
	ok, reason := o.validator.Validate(ctx, s.sql)
	if !ok {
		s.failure = reason
		category := domain.Categorize(reason)
		if category == domain.CategoryUnknown {
			// Whatever the gate said, a rejection here is a validation
			// failure and gets the self-correct path.
			category = domain.CategoryValidation
		}
		rec := domain.ErrorRecord{
			Category: category,
			Message:  reason,
			Context:  map[string]string{"step": string(StepValidate), "sql": s.sql},
		}
		rec.Severity, rec.Retryable, rec.Strategy = domain.Traits(rec.Category)
		return o.fail(ctx, s, rec)
	}
	return StepExecute
}

func (o *Orchestrator) execute(ctx context.Context, s *runState) Step {
	result, err := o.runner.Execute(ctx, s.sql)
	if err != nil {
		s.failure = err.Error()
		return o.fail(ctx, s, domain.Classify(err, map[string]string{"step": string(StepExecute), "sql": s.sql}))
	}
	s.result = result
	return StepAnalyze
}

func (o *Orchestrator) selfCorrect(ctx context.Context, s *runState) Step {
	sql, err := o.generator.SelfCorrect(ctx, s.query, s.plan, s.sql, s.failure)
	if err != nil {
		return o.fail(ctx, s, domain.Classify(err, map[string]string{"step": string(StepSelfCorrect)}))
	}
	s.sql = sql
	return StepValidate
}

func (o *Orchestrator) analyze(ctx context.Context, s *runState) Step {
	if o.analyzer == nil && o.charter == nil {
		return StepComplete
	}
	if isSimpleQuery(s.plan, s.result.RowCount) {
		o.logger.Debug("simple query, skipping analysis")
		return StepComplete
	}

	// Analysis and visualization run concurrently and degrade
	// independently; neither can fail the pipeline.
	out := fn.FanOut(
		func() any {
			if o.analyzer == nil {
				return nil
			}
			a, err := o.analyzer.Analyze(ctx, s.query, s.sql, s.result.Rows)
			if err != nil {
				o.logger.Warn("analysis failed, degrading", "err", err)
				a = insight.Unavailable(err)
			}
			return &a
		},
		func() any {
			if o.charter == nil {
				return nil
			}
			c, err := o.charter.Suggest(ctx, s.query, s.sql, s.result.Rows)
			if err != nil {
				o.logger.Warn("visualization failed, degrading", "err", err)
				c = chart.Unavailable()
			}
			return &c
		},
	)
	if a, ok := out[0].(*insight.Analysis); ok {
		s.analysis = a
	}
	if c, ok := out[1].(*chart.Spec); ok {
		s.chartSpec = c
	}
	return StepComplete
}

// isSimpleQuery reports whether the result is trivial enough that
// analysis would add nothing: at most one table and one aggregation, no
// grouping, and a handful of rows.
func isSimpleQuery(plan domain.QueryPlan, rowCount int) bool {
	return len(plan.Tables) <= 1 &&
		len(plan.Aggregations) <= 1 &&
		len(plan.GroupBy) == 0 &&
		rowCount <= 10
}

// fail decides whether a classified failure retries or terminates. All
// recovery paths share one retry budget; only the RETRY path sleeps.
func (o *Orchestrator) fail(ctx context.Context, s *runState, rec domain.ErrorRecord) Step {
	s.errRecord = &rec

	if !rec.Retryable {
		return StepError
	}
	if s.retryCount >= o.opts.MaxRetries {
		rec.Message = fmt.Sprintf("Max retries (%d) exceeded. Last error: %s", o.opts.MaxRetries, rec.Message)
		s.errRecord = &rec
		return StepError
	}

	next, backoff := o.route(s, rec)
	if backoff {
		// Exponential backoff: 1s, 2s, 4s.
		delay := time.Duration(1<<s.retryCount) * time.Second
		o.logger.Info("retrying after failure",
			"category", rec.Category,
			"strategy", rec.Strategy,
			"attempt", s.retryCount+1,
			"backoff", delay)
		o.opts.Sleep(ctx, delay)
	}
	s.retryCount++
	o.retries.Inc()

	return next
}

// route picks the recovery step for a failure strategy. Syntax, schema,
// and validation failures go to SELF_CORRECT with no sleep; everything
// else takes the RETRY path, backing off and regenerating from the
// grounded plan.
func (o *Orchestrator) route(s *runState, rec domain.ErrorRecord) (Step, bool) {
	switch rec.Strategy {
	case domain.StrategySelfCorrect, domain.StrategyAugmentContext:
		if s.sql == "" {
			return StepGenerate, false
		}
		return StepSelfCorrect, false
	default:
		return StepGenerate, true
	}
}
