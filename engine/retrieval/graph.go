package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/sageql/sageql/engine/domain"
)

// fkGraph is an undirected adjacency view of the snapshot's foreign keys.
type fkGraph struct {
	adj map[string][]domain.ForeignKey // lower table name -> incident edges
}

func buildGraph(fks []domain.ForeignKey) *fkGraph {
	g := &fkGraph{adj: make(map[string][]domain.ForeignKey)}
	for _, fk := range fks {
		from := strings.ToLower(fk.Table)
		to := strings.ToLower(fk.RefTable)
		g.adj[from] = append(g.adj[from], fk)
		g.adj[to] = append(g.adj[to], fk)
	}
	return g
}

// expand walks up to maxHops from the seed tables and returns the
// traversed edges plus the newly reached tables, both in BFS order.
func (g *fkGraph) expand(seeds []string, maxHops int) (tables []string, edges []domain.ForeignKey) {
	visited := make(map[string]bool)
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		s = strings.ToLower(s)
		if !visited[s] {
			visited[s] = true
			frontier = append(frontier, s)
		}
	}

	seenEdge := make(map[string]bool)
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, tbl := range frontier {
			for _, fk := range g.adj[tbl] {
				ek := fk.Table + "." + fk.Column
				if !seenEdge[ek] {
					seenEdge[ek] = true
					edges = append(edges, fk)
				}
				for _, neighbor := range []string{strings.ToLower(fk.Table), strings.ToLower(fk.RefTable)} {
					if !visited[neighbor] {
						visited[neighbor] = true
						next = append(next, neighbor)
						tables = append(tables, neighbor)
					}
				}
			}
		}
		frontier = next
	}
	return tables, edges
}

// graphChannel expands foreign-key neighbors of the tables the plan or
// the query mentions. It surfaces join paths the vector channel tends
// to miss, like orders for a query about customers.
func (e *Engine) graphChannel(ctx context.Context, query string, plan domain.QueryPlan) ([]Hit, error) {
	snap, err := e.schemas.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: snapshot: %w", err)
	}

	seeds := seedTables(snap, query, plan)
	if len(seeds) == 0 {
		return nil, nil
	}

	tables, edges := buildGraph(snap.ForeignKeys).expand(seeds, e.opts.MaxHops)

	var hits []Hit
	for _, name := range tables {
		tbl, ok := snap.Lookup(name)
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			Kind:     domain.KindTable,
			Name:     tbl.Name,
			Document: tbl.Document(),
			Channel:  ChannelGraph,
		})
	}
	for _, fk := range edges {
		hits = append(hits, Hit{
			Kind:     domain.KindRelationship,
			Name:     fk.Table + "." + fk.Column,
			Table:    fk.Table,
			Document: fk.Document(),
			Channel:  ChannelGraph,
		})
	}
	return hits, nil
}
