package semantic

// Record is a single vector to store, with its structured payload.
type Record struct {
	ID      uint64
	Vector  []float32
	Payload map[string]any
}

// Point is a stored point fetched by exact lookup.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload map[string]string
}

// ScoredPoint is a single similarity-search hit.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload map[string]string
}

// SearchParams bound and filter a similarity search.
type SearchParams struct {
	TopK     int
	MinScore float32
	// Filter restricts hits by exact payload-field match (e.g. instance).
	Filter map[string]string
	// ExcludeIDs removes specific points, used for self-seeded searches.
	ExcludeIDs []uint64
}
