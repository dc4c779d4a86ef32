package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors raised by pipeline collaborators. Classification checks
// these before falling back to message matching.
var (
	ErrQueryTimeout       = errors.New("query timeout")
	ErrCompletionRejected = errors.New("completion rejected by model")
	ErrEmptyCompletion    = errors.New("empty completion")
)

// GroundingError is raised when grounding removes every table the plan
// asked for. Proceeding with a substitute table is disallowed; the error
// names what was rejected and what actually exists.
type GroundingError struct {
	Rejected  []string
	Available []string
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf(
		"table(s) %s do not exist in the database; available tables are: %s",
		strings.Join(e.Rejected, ", "), strings.Join(e.Available, ", "),
	)
}

// ErrorCategory classifies a pipeline failure for retry routing.
type ErrorCategory string

const (
	CategorySyntax       ErrorCategory = "syntax_error"
	CategorySchema       ErrorCategory = "schema_error"
	CategoryPermission   ErrorCategory = "permission_error"
	CategoryTimeout      ErrorCategory = "timeout_error"
	CategoryExecution    ErrorCategory = "execution_error"
	CategoryValidation   ErrorCategory = "validation_error"
	CategoryLLM          ErrorCategory = "llm_error"
	CategoryEmptyResults ErrorCategory = "empty_results"
	CategoryNetwork      ErrorCategory = "network_error"
	CategoryUnknown      ErrorCategory = "unknown_error"
)

// ErrorSeverity grades a failure for logging.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// RetryStrategy is the suggested recovery path for a category.
type RetryStrategy string

const (
	StrategySelfCorrect      RetryStrategy = "self_correct_sql"
	StrategyAugmentContext   RetryStrategy = "augment_schema_context"
	StrategyOptimizeQuery    RetryStrategy = "optimize_query"
	StrategyRetryExecution   RetryStrategy = "retry_execution"
	StrategyRetryWithBackoff RetryStrategy = "retry_with_backoff"
	StrategyCheckIntent      RetryStrategy = "check_intent"
	StrategyNone             RetryStrategy = ""
)

// ErrorRecord is the classified form of a pipeline failure.
type ErrorRecord struct {
	Category  ErrorCategory     `json:"category"`
	Severity  ErrorSeverity     `json:"severity"`
	Retryable bool              `json:"retryable"`
	Strategy  RetryStrategy     `json:"retry_strategy,omitempty"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}

// categoryTraits holds the fixed retryability, severity, and strategy per
// category. PERMISSION is the only category that is never retryable.
var categoryTraits = map[ErrorCategory]struct {
	severity  ErrorSeverity
	retryable bool
	strategy  RetryStrategy
}{
	CategorySyntax:       {SeverityMedium, true, StrategySelfCorrect},
	CategorySchema:       {SeverityMedium, true, StrategyAugmentContext},
	CategoryPermission:   {SeverityHigh, false, StrategyNone},
	CategoryTimeout:      {SeverityMedium, true, StrategyOptimizeQuery},
	CategoryExecution:    {SeverityMedium, true, StrategyRetryExecution},
	CategoryValidation:   {SeverityMedium, true, StrategySelfCorrect},
	CategoryLLM:          {SeverityMedium, true, StrategyRetryWithBackoff},
	CategoryEmptyResults: {SeverityLow, true, StrategyCheckIntent},
	CategoryNetwork:      {SeverityHigh, true, StrategyRetryWithBackoff},
	CategoryUnknown:      {SeverityMedium, false, StrategyNone},
}

// Retryable reports the fixed retryability of a category.
func (c ErrorCategory) Retryable() bool { return categoryTraits[c].retryable }

// Traits returns the fixed severity, retryability, and strategy of a
// category, for callers classifying from a reason string instead of an
// error value.
func Traits(c ErrorCategory) (ErrorSeverity, bool, RetryStrategy) {
	t := categoryTraits[c]
	return t.severity, t.retryable, t.strategy
}

// keywordRules maps failure-message substrings to a category. Ordered:
// the first rule whose keywords match wins. Matching on message text is
// a pragmatic stopgap; typed errors are checked before this table is
// consulted at all.
var keywordRules = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryPermission, []string{"permission", "access denied", "unauthorized"}},
	{CategorySyntax, []string{"syntax", "parse", "invalid sql", "malformed"}},
	{CategorySchema, []string{"does not exist", "relation", "column", "table"}},
	{CategoryTimeout, []string{"timeout", "timed out", "exceeded"}},
	{CategoryExecution, []string{"execution", "failed to execute", "database error"}},
	{CategoryValidation, []string{"validation", "invalid", "not allowed"}},
	{CategoryLLM, []string{"llm", "api", "model", "rate limit"}},
	{CategoryEmptyResults, []string{"empty", "no results"}},
	{CategoryNetwork, []string{"connection", "network", "unreachable", "refused"}},
}

// Categorize maps a failure message onto a category using the keyword
// table. Exposed separately so validation reasons (strings, not errors)
// can be classified too.
func Categorize(message string) ErrorCategory {
	lc := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lc, kw) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// Classify derives a full ErrorRecord from an error. Typed errors are
// recognized first; everything else goes through the keyword table.
func Classify(err error, errCtx map[string]string) ErrorRecord {
	category := classifyTyped(err)
	if category == "" {
		category = Categorize(err.Error())
	}
	traits := categoryTraits[category]
	return ErrorRecord{
		Category:  category,
		Severity:  traits.severity,
		Retryable: traits.retryable,
		Strategy:  traits.strategy,
		Message:   err.Error(),
		Context:   errCtx,
	}
}

func classifyTyped(err error) ErrorCategory {
	var ge *GroundingError
	switch {
	case errors.As(err, &ge):
		return CategorySchema
	case errors.Is(err, ErrQueryTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrCompletionRejected), errors.Is(err, ErrEmptyCompletion):
		return CategoryLLM
	case errors.Is(err, context.Canceled):
		return CategoryNetwork
	}
	return ""
}
