package schema

// Snippet is one ranked retrieval result handed to the reply generator.
type Snippet struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Candidate is a chunk pulled from the vector store for scoring. The
// embedding is kept as raw JSON so the retrieval pipeline can classify a
// malformed row as data corruption and skip it instead of failing the fetch.
type Candidate struct {
	ID        uint
	Content   string
	Embedding []byte
}
