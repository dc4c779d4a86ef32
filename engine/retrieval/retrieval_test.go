package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/engine/schema"
	"github.com/sageql/sageql/engine/semantic"
	"github.com/sageql/sageql/pkg/metrics"
)

type fakeSnapshots struct {
	snap *schema.Snapshot
	err  error
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) (*schema.Snapshot, error) {
	return f.snap, f.err
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeVectors struct {
	results []semantic.SearchResult
	err     error
}

func (f *fakeVectors) Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error) {
	return f.results, f.err
}

func testSnapshot() *schema.Snapshot {
	customers := domain.Table{Name: "customers", Columns: []domain.Column{
		{Table: "customers", Name: "id", DataType: "integer"},
		{Table: "customers", Name: "city", DataType: "text"},
	}}
	orders := domain.Table{Name: "orders", Columns: []domain.Column{
		{Table: "orders", Name: "id", DataType: "integer"},
		{Table: "orders", Name: "customer_id", DataType: "integer"},
	}}
	items := domain.Table{Name: "order_items", Columns: []domain.Column{
		{Table: "order_items", Name: "order_id", DataType: "integer"},
	}}
	return &schema.Snapshot{
		Tables: map[string]domain.Table{
			"customers": customers, "orders": orders, "order_items": items,
		},
		Names: []string{"customers", "orders", "order_items"},
		ForeignKeys: []domain.ForeignKey{
			{Table: "orders", Column: "customer_id", RefTable: "customers", RefColumn: "id"},
			{Table: "order_items", Column: "order_id", RefTable: "orders", RefColumn: "id"},
		},
	}
}

func hitsByChannel(c *Context, channel string) []Hit {
	var out []Hit
	for _, h := range c.Hits {
		if h.Channel == channel {
			out = append(out, h)
		}
	}
	return out
}

func TestRetrieve_KeywordMatchesTablesAndColumns(t *testing.T) {
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{}, nil)

	got, err := e.Retrieve(context.Background(), "which city has the most customers", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	var foundTable, foundColumn bool
	for _, h := range hitsByChannel(got, ChannelKeyword) {
		if h.Kind == domain.KindTable && h.Name == "customers" {
			foundTable = true
		}
		if h.Kind == domain.KindColumn && h.Name == "city" && h.Table == "customers" {
			foundColumn = true
		}
	}
	if !foundTable {
		t.Error("keyword channel missed table customers")
	}
	if !foundColumn {
		t.Error("keyword channel missed column customers.city")
	}
}

func TestRetrieve_PlanSeedsKeywordAndGraph(t *testing.T) {
	// The question says "clients", which matches no schema name. The plan
	// already resolved that to customers, so the confirmed table must seed
	// both the keyword lookups and the graph expansion.
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{MaxHops: 1}, nil)
	plan := domain.QueryPlan{Tables: []string{"customers"}}

	got, err := e.Retrieve(context.Background(), "how many clients do we have", plan)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	var keywordHit bool
	for _, h := range hitsByChannel(got, ChannelKeyword) {
		if h.Kind == domain.KindTable && h.Name == "customers" {
			keywordHit = true
		}
	}
	if !keywordHit {
		t.Error("plan table customers missing from keyword channel")
	}

	var graphHit bool
	for _, h := range hitsByChannel(got, ChannelGraph) {
		if h.Kind == domain.KindTable && h.Name == "orders" {
			graphHit = true
		}
	}
	if !graphHit {
		t.Error("graph channel did not expand from plan table customers")
	}
}

func TestRetrieve_GraphExpandsForeignKeys(t *testing.T) {
	// customers -> orders (1 hop) -> order_items (2 hops)
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{MaxHops: 2}, nil)

	got, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	reached := make(map[string]bool)
	for _, h := range hitsByChannel(got, ChannelGraph) {
		if h.Kind == domain.KindTable {
			reached[h.Name] = true
		}
	}
	if !reached["orders"] {
		t.Error("1-hop neighbor orders not reached")
	}
	if !reached["order_items"] {
		t.Error("2-hop neighbor order_items not reached")
	}
}

func TestRetrieve_SingleHopStopsEarly(t *testing.T) {
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{MaxHops: 1}, nil)

	got, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, h := range hitsByChannel(got, ChannelGraph) {
		if h.Kind == domain.KindTable && h.Name == "order_items" {
			t.Fatal("order_items reached with MaxHops=1")
		}
	}
}

func TestRetrieve_DedupPrefersKeyword(t *testing.T) {
	// The vector channel also returns the customers table; the keyword hit
	// must win the merge.
	vectors := &fakeVectors{results: []semantic.SearchResult{
		{Kind: "table", Name: "customers", Document: "Table: customers", Score: 0.91},
	}}
	e := New(&fakeEmbedder{}, vectors, &fakeSnapshots{snap: testSnapshot()}, Options{}, nil)

	got, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	count := 0
	for _, h := range got.Hits {
		if h.Kind == domain.KindTable && h.Name == "customers" {
			count++
			if h.Channel != ChannelKeyword {
				t.Errorf("customers hit kept from %s, want keyword", h.Channel)
			}
		}
	}
	if count != 1 {
		t.Errorf("customers table appears %d times after dedup", count)
	}
}

func TestRetrieve_FailedChannelIsIsolated(t *testing.T) {
	vectors := &fakeVectors{err: errors.New("qdrant down")}
	e := New(&fakeEmbedder{}, vectors, &fakeSnapshots{snap: testSnapshot()}, Options{}, nil)

	got, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("one failed channel must not fail retrieval: %v", err)
	}
	if len(got.Hits) == 0 {
		t.Fatal("keyword and graph hits expected despite vector failure")
	}
}

func TestRetrieve_AllChannelsFailedErrors(t *testing.T) {
	e := New(
		&fakeEmbedder{err: errors.New("embedder down")},
		&fakeVectors{},
		&fakeSnapshots{err: errors.New("catalog down")},
		Options{}, nil,
	)
	if _, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{}); err == nil {
		t.Fatal("expected error when every channel fails")
	}
}

func TestRetrieve_TruncatesMergedHits(t *testing.T) {
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{MaxHits: 2}, nil)

	got, err := e.Retrieve(context.Background(), "customers orders", domain.QueryPlan{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got.Hits) != 2 {
		t.Fatalf("merged hits = %d, want cap 2", len(got.Hits))
	}
	// Keyword hits rank first, so the cap must never evict them in favor
	// of graph or vector hits.
	for _, h := range got.Hits {
		if h.Channel != ChannelKeyword {
			t.Errorf("capped context kept %s hit over keyword", h.Channel)
		}
	}
}

func TestRetrieve_CountsHitsPerChannel(t *testing.T) {
	e := New(nil, nil, &fakeSnapshots{snap: testSnapshot()}, Options{}, nil)
	reg := metrics.New()
	e.Instrument(reg)

	if _, err := e.Retrieve(context.Background(), "customers", domain.QueryPlan{}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	name := metrics.WithLabels("retrieval_hits_total", "channel", ChannelKeyword)
	if got := reg.Counter(name, "").Value(); got == 0 {
		t.Error("keyword hit counter not incremented")
	}
}

func TestContextTables(t *testing.T) {
	c := &Context{Hits: []Hit{
		{Kind: domain.KindTable, Name: "customers"},
		{Kind: domain.KindColumn, Name: "city", Table: "customers"},
		{Kind: domain.KindTable, Name: "orders"},
	}}
	got := c.Tables()
	want := []string{"customers", "orders"}
	if len(got) != len(want) {
		t.Fatalf("Tables() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tables() = %v, want %v", got, want)
		}
	}
}
