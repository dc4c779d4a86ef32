// Package retrieval finds the schema elements most relevant to a natural
// language query. Three channels run concurrently: exact keyword matching
// against the live schema, foreign-key graph expansion from mentioned
// tables, and semantic vector search over embedded schema documents.
// Results merge with keyword hits ranked most trustworthy.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/embed"
	"github.com/sageql/sageql/engine/schema"
	"github.com/sageql/sageql/engine/semantic"
	"github.com/sageql/sageql/pkg/fn"
	"github.com/sageql/sageql/pkg/metrics"
)

// Channel names, in merge priority order.
const (
	ChannelKeyword = "keyword"
	ChannelGraph   = "graph"
	ChannelVector  = "vector"
)

// Hit is one retrieved schema element.
type Hit struct {
	Kind     domain.ElementKind `json:"kind"`
	Name     string             `json:"name"`
	Table    string             `json:"table,omitempty"`
	Document string             `json:"document"`
	Score    float32            `json:"score,omitempty"`
	Channel  string             `json:"channel"`
}

// key identifies a schema element across channels for dedup.
func (h Hit) key() string {
	return string(h.Kind) + ":" + strings.ToLower(h.Table) + ":" + strings.ToLower(h.Name)
}

// Context is the merged retrieval output handed to the generation agent.
type Context struct {
	Hits []Hit `json:"hits"`
}

// Tables returns the distinct table names the hits touch, in hit order.
func (c *Context) Tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range c.Hits {
		name := h.Table
		if h.Kind == domain.KindTable {
			name = h.Name
		}
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	return out
}

// Text renders the hits as prompt context, one document per line.
func (c *Context) Text() string {
	var b strings.Builder
	for _, h := range c.Hits {
		b.WriteString(h.Document)
		b.WriteByte('\n')
	}
	return b.String()
}

// SnapshotProvider supplies the live schema snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

// VectorSearcher abstracts Qdrant vector search.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// Options configures retrieval behaviour.
type Options struct {
	TopK          int // per-channel vector hits
	MaxHits       int // merged context cap
	MaxHops       int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          8,
		MaxHits:       24,
		MaxHops:       2,
		SearchTimeout: 5 * time.Second,
	}
}

// Engine is the hybrid retrieval engine.
type Engine struct {
	embedder embed.Embedder
	vectors  VectorSearcher
	schemas  SnapshotProvider
	opts     Options
	logger   *slog.Logger

	hitCounts map[string]*metrics.Counter
}

// New creates a retrieval engine. The vector channel is optional: with a
// nil searcher or embedder the engine degrades to keyword and graph only.
func New(embedder embed.Embedder, vectors VectorSearcher, schemas SnapshotProvider, opts Options, logger *slog.Logger) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.MaxHits <= 0 {
		opts.MaxHits = DefaultOptions().MaxHits
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultOptions().MaxHops
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: embedder, vectors: vectors, schemas: schemas, opts: opts, logger: logger}
}

// Instrument registers per-channel hit counters on reg.
func (e *Engine) Instrument(reg *metrics.Registry) {
	e.hitCounts = make(map[string]*metrics.Counter)
	for _, ch := range []string{ChannelKeyword, ChannelGraph, ChannelVector} {
		name := metrics.WithLabels("retrieval_hits_total", "channel", ch)
		e.hitCounts[ch] = reg.Counter(name, "Schema elements contributed per retrieval channel")
	}
}

type channelResult struct {
	channel string
	hits    []Hit
	err     error
}

// Retrieve runs all channels concurrently and merges their hits. The
// grounded plan seeds the keyword and graph channels with confirmed
// identifiers, so a question phrased in synonyms still reaches the right
// tables; the free text covers everything the plan missed. A failed
// channel is logged and contributes nothing; Retrieve errors only when
// every channel failed.
func (e *Engine) Retrieve(ctx context.Context, query string, plan domain.QueryPlan) (*Context, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	results := fn.FanOut(
		func() channelResult {
			hits, err := e.keywordChannel(ctx, query, plan)
			return channelResult{channel: ChannelKeyword, hits: hits, err: err}
		},
		func() channelResult {
			hits, err := e.graphChannel(ctx, query, plan)
			return channelResult{channel: ChannelGraph, hits: hits, err: err}
		},
		func() channelResult {
			hits, err := e.vectorChannel(ctx, query)
			return channelResult{channel: ChannelVector, hits: hits, err: err}
		},
	)

	merged := &Context{}
	seen := make(map[string]bool)
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			e.logger.Warn("retrieval channel failed, continuing without", "channel", r.channel, "err", r.err)
			continue
		}
		for _, h := range r.hits {
			if seen[h.key()] {
				continue
			}
			seen[h.key()] = true
			merged.Hits = append(merged.Hits, h)
			if c, ok := e.hitCounts[r.channel]; ok {
				c.Inc()
			}
		}
	}
	if failures == len(results) {
		return nil, fmt.Errorf("retrieval: all channels failed")
	}
	if len(merged.Hits) > e.opts.MaxHits {
		merged.Hits = merged.Hits[:e.opts.MaxHits]
	}

	e.logger.Info("retrieval done", "hits", len(merged.Hits), "failed_channels", failures)
	return merged, nil
}

// vectorChannel embeds the query and searches the schema document index.
func (e *Engine) vectorChannel(ctx context.Context, query string) ([]Hit, error) {
	if e.embedder == nil || e.vectors == nil {
		return nil, nil
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := e.vectors.Search(ctx, embedding, e.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Kind:     domain.ElementKind(r.Kind),
			Name:     r.Name,
			Table:    r.Table,
			Document: r.Document,
			Score:    r.Score,
			Channel:  ChannelVector,
		})
	}
	return hits, nil
}
