// Package schema provides access to the live database schema: a Catalog
// interface over engine-specific introspection, and a process-wide cached
// snapshot that grounding, validation, and retrieval all read from.
package schema

import (
	"context"

	"github.com/sageql/sageql/engine/domain"
)

// Catalog is the authoritative source of schema truth. Implementations
// must be engine-agnostic from the caller's perspective.
type Catalog interface {
	ListTables(ctx context.Context, schemaName string) ([]string, error)
	ListColumns(ctx context.Context, table, schemaName string) ([]domain.Column, error)
	ListForeignKeys(ctx context.Context, schemaName string) ([]domain.ForeignKey, error)
}
