// Package events publishes pipeline lifecycle events over NATS so other
// services (dashboards, auditing, the indexer) can react without being
// wired into the query path.
package events

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/sageql/sageql/engine/pipeline"
	"github.com/sageql/sageql/pkg/natsutil"
)

// Subjects.
const (
	SubjectQueryCompleted = "sageql.query.completed"
	SubjectReindex        = "sageql.schema.reindex"
)

// QueryCompletedEvent is the wire form of a finished pipeline run. Row
// data stays out of the event; subscribers that need rows call the API.
type QueryCompletedEvent struct {
	Query           string `json:"query"`
	SQL             string `json:"sql,omitempty"`
	Step            string `json:"step"`
	RowCount        int    `json:"row_count"`
	RetryCount      int    `json:"retry_count"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Error           string `json:"error,omitempty"`
	ErrorCategory   string `json:"error_category,omitempty"`
}

// ReindexEvent asks the indexer to rebuild the vector index.
type ReindexEvent struct {
	Reason string `json:"reason"`
}

// Publisher emits events. Publishing is best-effort: a dead broker is
// logged, never propagated into the query path.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(nc *nats.Conn, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, logger: logger}
}

// QueryCompleted implements pipeline.Publisher.
func (p *Publisher) QueryCompleted(ctx context.Context, res *pipeline.Result) {
	ev := QueryCompletedEvent{
		Query:           res.Query,
		SQL:             res.SQL,
		Step:            string(res.Step),
		RowCount:        res.RowCount,
		RetryCount:      res.RetryCount,
		ExecutionTimeMs: res.ExecutionTimeMs,
		Error:           res.Error,
		ErrorCategory:   string(res.ErrorCategory),
	}
	if err := natsutil.Publish(ctx, p.nc, SubjectQueryCompleted, ev); err != nil {
		p.logger.Warn("publish query completed failed", "err", err)
	}
}

// RequestReindex asks the indexer to rebuild the schema index.
func (p *Publisher) RequestReindex(ctx context.Context, reason string) {
	if err := natsutil.Publish(ctx, p.nc, SubjectReindex, ReindexEvent{Reason: reason}); err != nil {
		p.logger.Warn("publish reindex request failed", "err", err)
	}
}
