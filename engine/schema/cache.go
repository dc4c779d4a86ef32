package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sageql/sageql/engine/domain"
)

// DefaultTTL is how long a snapshot stays fresh before it is rebuilt
// wholesale from live introspection.
const DefaultTTL = 24 * time.Hour

// Snapshot is one consistent read of the whole schema. Lookups are keyed
// by lower-cased table name; Names preserves canonical casing.
type Snapshot struct {
	Tables      map[string]domain.Table
	Names       []string
	ForeignKeys []domain.ForeignKey
}

// Lookup returns the table for a case-insensitive name match.
func (s *Snapshot) Lookup(name string) (domain.Table, bool) {
	t, ok := s.Tables[strings.ToLower(name)]
	return t, ok
}

// ColumnSet returns the lower-cased column names of a table, or nil if
// the table is unknown.
func (s *Snapshot) ColumnSet(table string) map[string]string {
	t, ok := s.Lookup(table)
	if !ok {
		return nil
	}
	set := make(map[string]string, len(t.Columns))
	for _, c := range t.Columns {
		set[strings.ToLower(c.Name)] = c.Name
	}
	return set
}

// Cache owns the process-wide schema snapshot. The first caller after
// expiry rebuilds it; concurrent callers await the same build. Stale
// reads during a rebuild are tolerated (last writer wins).
type Cache struct {
	catalog    Catalog
	schemaName string
	ttl        time.Duration
	logger     *slog.Logger

	mu      sync.RWMutex
	snap    *Snapshot
	expires time.Time
	group   singleflight.Group
}

// NewCache creates a snapshot cache over the catalog. A non-positive ttl
// falls back to DefaultTTL.
func NewCache(catalog Catalog, schemaName string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{catalog: catalog, schemaName: schemaName, ttl: ttl, logger: logger}
}

// Snapshot returns the cached snapshot, rebuilding it on miss or expiry.
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	if c.snap != nil && time.Now().Before(c.expires) {
		snap := c.snap
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("snapshot", func() (any, error) {
		snap, err := c.build(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snap = snap
		c.expires = time.Now().Add(c.ttl)
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot so the next read rebuilds it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.expires = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()

	names, err := c.catalog.ListTables(ctx, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: build snapshot: %w", err)
	}

	snap := &Snapshot{
		Tables: make(map[string]domain.Table, len(names)),
		Names:  names,
	}
	for _, name := range names {
		cols, err := c.catalog.ListColumns(ctx, name, c.schemaName)
		if err != nil {
			return nil, fmt.Errorf("schema: build snapshot: columns of %s: %w", name, err)
		}
		snap.Tables[strings.ToLower(name)] = domain.Table{Name: name, Columns: cols}
	}

	fks, err := c.catalog.ListForeignKeys(ctx, c.schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: build snapshot: %w", err)
	}
	snap.ForeignKeys = fks

	c.logger.Info("schema snapshot rebuilt",
		"tables", len(snap.Tables),
		"foreign_keys", len(fks),
		"took", time.Since(start),
	)
	return snap, nil
}
