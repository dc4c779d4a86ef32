// Package ingest builds the vector index from the live schema: every
// table, column, and foreign key becomes one embedded document in Qdrant.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/embed"
	"github.com/sageql/sageql/engine/schema"
	"github.com/sageql/sageql/engine/semantic"
	"github.com/sageql/sageql/pkg/fn"
)

// EmbedBatchSize is the max documents per embedding request.
const EmbedBatchSize = 100

// EmbedWorkers bounds concurrent batch embeddings.
const EmbedWorkers = 4

// embedRetry covers transient embedding-server failures. Upserts are not
// retried: Qdrant writes are idempotent per point id, so the next reindex
// repairs a partial failure.
var embedRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// SnapshotProvider supplies the live schema snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*schema.Snapshot, error)
}

// VectorIndex is the subset of semantic.VectorStore the indexer needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dims int) error
	DeleteByKind(ctx context.Context, kind string) error
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Indexer rebuilds the schema document index.
type Indexer struct {
	schemas  SnapshotProvider
	embedder embed.Embedder
	index    VectorIndex
	dims     int
	logger   *slog.Logger
}

// New creates an indexer. dims must match the embedding model.
func New(schemas SnapshotProvider, embedder embed.Embedder, index VectorIndex, dims int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{schemas: schemas, embedder: embedder, index: index, dims: dims, logger: logger}
}

// document pairs a schema element with its embeddable text.
type document struct {
	kind  domain.ElementKind
	name  string
	table string
	text  string
}

// pointID derives a stable UUID so re-ingestion overwrites rather than
// duplicates.
func pointID(kind domain.ElementKind, table, name string) string {
	key := strings.ToLower(fmt.Sprintf("%s:%s:%s", kind, table, name))
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(key)).String()
}

// collect flattens the snapshot into documents.
func collect(snap *schema.Snapshot) []document {
	var docs []document
	for _, name := range snap.Names {
		tbl := snap.Tables[strings.ToLower(name)]
		docs = append(docs, document{kind: domain.KindTable, name: tbl.Name, text: tbl.Document()})
		for _, col := range tbl.Columns {
			docs = append(docs, document{kind: domain.KindColumn, name: col.Name, table: tbl.Name, text: col.Document()})
		}
	}
	for _, fk := range snap.ForeignKeys {
		docs = append(docs, document{
			kind:  domain.KindRelationship,
			name:  fk.Table + "." + fk.Column,
			table: fk.Table,
			text:  fk.Document(),
		})
	}
	return docs
}

// Reindex rebuilds the whole index from the current snapshot and returns
// the number of documents written.
func (ix *Indexer) Reindex(ctx context.Context) (int, error) {
	snap, err := ix.schemas.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: snapshot: %w", err)
	}

	if err := ix.index.EnsureCollection(ctx, ix.dims); err != nil {
		return 0, fmt.Errorf("ingest: ensure collection: %w", err)
	}
	for _, kind := range []domain.ElementKind{domain.KindTable, domain.KindColumn, domain.KindRelationship} {
		if err := ix.index.DeleteByKind(ctx, string(kind)); err != nil {
			return 0, fmt.Errorf("ingest: clear %s points: %w", kind, err)
		}
	}

	batches := fn.Chunk(collect(snap), EmbedBatchSize)
	results := fn.ParMapResult(batches, EmbedWorkers, func(batch []document) fn.Result[int] {
		return ix.indexBatch(ctx, batch)
	})
	counts, err := fn.Collect(results).Unwrap()
	if err != nil {
		return 0, fmt.Errorf("ingest: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	ix.logger.Info("schema reindexed",
		"tables", len(snap.Names),
		"foreign_keys", len(snap.ForeignKeys),
		"documents", total)
	return total, nil
}

// indexBatch embeds one batch of documents and writes the points.
func (ix *Indexer) indexBatch(ctx context.Context, batch []document) fn.Result[int] {
	texts := fn.Map(batch, func(d document) string { return d.text })
	embedded := fn.Retry(ctx, embedRetry, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(ix.embedder.EmbedBatch(ctx, texts))
	})
	embeddings, err := embedded.Unwrap()
	if err != nil {
		return fn.Err[int](fmt.Errorf("embed batch: %w", err))
	}

	records := make([]semantic.VectorRecord, len(batch))
	for i, d := range batch {
		records[i] = semantic.VectorRecord{
			ID:        pointID(d.kind, d.table, d.name),
			Embedding: embeddings[i],
			Payload: map[string]any{
				"kind":     string(d.kind),
				"name":     d.name,
				"table":    d.table,
				"document": d.text,
			},
		}
	}
	if err := ix.index.Upsert(ctx, records); err != nil {
		return fn.Err[int](fmt.Errorf("upsert batch: %w", err))
	}
	return fn.Ok(len(records))
}
