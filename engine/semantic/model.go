package semantic

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID       string  `json:"id"`
	Score    float32 `json:"score"`
	Kind     string  `json:"kind"`
	Name     string  `json:"name"`
	Table    string  `json:"table"`
	Document string  `json:"document"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // kind, name, table, document
}
