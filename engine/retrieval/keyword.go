package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/schema"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true, "to": true,
	"of": true, "in": true, "for": true, "on": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "into": true,
	"what": true, "where": true, "when": true, "how": true, "which": true,
	"who": true, "whom": true, "this": true, "that": true, "these": true,
	"those": true, "it": true, "its": true, "and": true, "but": true,
	"or": true, "not": true, "all": true, "each": true, "per": true,
	"show": true, "list": true, "give": true, "find": true, "get": true,
	"me": true, "my": true, "many": true, "much": true, "most": true,
}

// extractKeywords does simple keyword extraction from a question.
func extractKeywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})
	var keywords []string
	for _, w := range words {
		if len(w) > 2 && !stopWords[w] {
			keywords = append(keywords, w)
		}
	}
	return keywords
}

// nameMatches reports whether a keyword refers to a schema identifier.
// Plural forms and underscore-separated parts both count.
func nameMatches(keyword, name string) bool {
	name = strings.ToLower(name)
	if keyword == name || keyword+"s" == name || keyword == name+"s" {
		return true
	}
	for _, part := range strings.Split(name, "_") {
		if keyword == part || keyword+"s" == part || keyword == part+"s" {
			return true
		}
	}
	return false
}

// lookupTerms merges the plan's confirmed identifiers with keywords
// pulled from the question. Plan names come first: they are already
// grounded, so they must seed lookups even when the question never says
// the table's name ("clients" for customers).
func lookupTerms(query string, plan domain.QueryPlan) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	for _, t := range plan.Tables {
		add(t)
	}
	for _, c := range plan.Columns {
		add(c)
	}
	for _, f := range plan.Filters {
		add(f.Column)
	}
	for _, g := range plan.GroupBy {
		add(g)
	}
	for _, kw := range extractKeywords(query) {
		add(kw)
	}
	return terms
}

// keywordChannel matches plan identifiers and query keywords against
// live table and column names. Exact name matches are the strongest
// grounding signal, so these hits take priority over the fuzzier
// channels in the merge.
func (e *Engine) keywordChannel(ctx context.Context, query string, plan domain.QueryPlan) ([]Hit, error) {
	snap, err := e.schemas.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyword: snapshot: %w", err)
	}

	keywords := lookupTerms(query, plan)
	if len(keywords) == 0 {
		return nil, nil
	}

	var hits []Hit
	for _, name := range snap.Names {
		tbl := snap.Tables[strings.ToLower(name)]
		for _, kw := range keywords {
			if nameMatches(kw, tbl.Name) {
				hits = append(hits, Hit{
					Kind:     domain.KindTable,
					Name:     tbl.Name,
					Document: tbl.Document(),
					Score:    1,
					Channel:  ChannelKeyword,
				})
				break
			}
		}
		for _, col := range tbl.Columns {
			for _, kw := range keywords {
				if nameMatches(kw, col.Name) {
					hits = append(hits, Hit{
						Kind:     domain.KindColumn,
						Name:     col.Name,
						Table:    tbl.Name,
						Document: col.Document(),
						Score:    1,
						Channel:  ChannelKeyword,
					})
					break
				}
			}
		}
	}
	return hits, nil
}

// seedTables returns the live tables named by the plan or the question.
// Plan tables are already schema-confirmed; query keywords only add what
// the plan missed.
func seedTables(snap *schema.Snapshot, query string, plan domain.QueryPlan) []string {
	seen := make(map[string]bool)
	var seeds []string
	add := func(name string) {
		if !seen[strings.ToLower(name)] {
			seen[strings.ToLower(name)] = true
			seeds = append(seeds, name)
		}
	}
	for _, t := range plan.Tables {
		if tbl, ok := snap.Lookup(t); ok {
			add(tbl.Name)
		}
	}
	for _, kw := range extractKeywords(query) {
		for _, name := range snap.Names {
			if nameMatches(kw, name) {
				add(name)
			}
		}
	}
	return seeds
}
