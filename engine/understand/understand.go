// Package understand turns a natural language question into a structured
// query plan. The model sees the live schema and is told to never invent
// table names; anything it does invent is pruned downstream.
package understand

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/llm"
	"github.com/sageql/sageql/engine/schema"
	"github.com/sageql/sageql/pkg/cache"
)

// CacheTTL is how long a plan stays valid for an identical question.
const CacheTTL = 24 * time.Hour

// SnapshotProvider supplies the live schema snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

// Agent is the query understanding agent.
type Agent struct {
	llm     llm.Completion
	schemas SnapshotProvider
	cache   cache.Cache
	logger  *slog.Logger
}

// New creates an understanding agent. cache may be nil to disable caching.
func New(completion llm.Completion, schemas SnapshotProvider, c cache.Cache, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{llm: completion, schemas: schemas, cache: c, logger: logger}
}

// cacheKey normalizes the question so trivial variants share a plan.
func cacheKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "understand:" + hex.EncodeToString(sum[:])
}

// Understand produces a query plan for the question.
func (a *Agent) Understand(ctx context.Context, query string) (domain.QueryPlan, error) {
	key := cacheKey(query)
	if a.cache != nil {
		if plan, ok := cache.GetJSON[domain.QueryPlan](ctx, a.cache, key); ok {
			a.logger.Debug("understanding cache hit", "key", key)
			return plan, nil
		}
	}

	snap, err := a.schemas.Snapshot(ctx)
	if err != nil {
		return domain.QueryPlan{}, fmt.Errorf("understand: snapshot: %w", err)
	}

	out, err := a.llm.Complete(ctx, llm.Request{
		System:      understandSystemPrompt,
		User:        understandUserPrompt(query, snap),
		Complexity:  domain.ComplexityMedium,
		Temperature: 0.1,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		return domain.QueryPlan{}, fmt.Errorf("understand: %w", err)
	}

	plan, err := parsePlan(out)
	if err != nil {
		// A plan we cannot parse must not guess tables. The empty plan
		// sends the pipeline to clarification instead of hallucination.
		a.logger.Warn("understanding output unparseable, falling back", "err", err)
		plan = fallbackPlan(query)
	}

	if a.cache != nil {
		if err := cache.SetJSON(ctx, a.cache, key, plan, CacheTTL); err != nil {
			a.logger.Warn("understanding cache write failed", "err", err)
		}
	}
	return plan, nil
}

// parsePlan decodes the model output, tolerating markdown fences.
func parsePlan(out string) (domain.QueryPlan, error) {
	var plan domain.QueryPlan
	if err := json.Unmarshal([]byte(stripFences(out)), &plan); err != nil {
		return domain.QueryPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func fallbackPlan(query string) domain.QueryPlan {
	return domain.QueryPlan{
		Intent:             query,
		Ambiguities:        []string{"could not derive a structured plan from the question"},
		NeedsClarification: true,
	}
}
