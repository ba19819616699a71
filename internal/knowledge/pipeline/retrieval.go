package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"pagepilot/internal/embedding"
	"pagepilot/internal/knowledge/interfaces"
	"pagepilot/internal/knowledge/schema"
	"pagepilot/pkg/logger"
)

// cosineEpsilon keeps the denominator away from zero when a stored or query
// vector has zero norm.
const cosineEpsilon = 1e-10

// RetrievalPipeline embeds a query and ranks the tenant's candidate chunks
// by cosine similarity.
type RetrievalPipeline struct {
	embedder       embedding.Embedding
	store          interfaces.VectorStore
	candidateLimit int
	log            *logger.Logger
}

// NewRetrievalPipeline creates a new RetrievalPipeline. candidateLimit
// bounds the scan window fetched from the store.
func NewRetrievalPipeline(
	embedder embedding.Embedding,
	store interfaces.VectorStore,
	candidateLimit int,
	log *logger.Logger,
) *RetrievalPipeline {
	return &RetrievalPipeline{
		embedder:       embedder,
		store:          store,
		candidateLimit: candidateLimit,
		log:            log,
	}
}

// Search returns up to k snippets for the query, descending by score.
// Repeated calls over identical data return an identical order: ties are
// broken by chunk insertion order, oldest first. An empty corpus yields an
// empty result, not an error; candidates with malformed or mismatched
// embeddings are skipped with a warning.
func (p *RetrievalPipeline) Search(ctx context.Context, userID, query string, k int) ([]schema.Snippet, error) {
	if k <= 0 {
		k = 5
	}

	// 1. Embed the query
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// 2. Fetch the bounded candidate window
	candidates, err := p.store.FetchCandidates(ctx, userID, p.candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []schema.Snippet{}, nil
	}

	// 3. Score in insertion order so ties stay deterministic
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	scored := make([]schema.Snippet, 0, len(candidates))
	for _, cand := range candidates {
		var vec []float32
		if err := json.Unmarshal(cand.Embedding, &vec); err != nil {
			p.log.WithPayload(map[string]interface{}{"chunk_id": cand.ID}).
				Warn("Skipping chunk with malformed embedding")
			continue
		}
		if len(vec) != len(queryVec) {
			p.log.WithPayload(map[string]interface{}{
				"chunk_id":  cand.ID,
				"dimension": len(vec),
				"expected":  len(queryVec),
			}).Warn("Skipping chunk with mismatched embedding dimension")
			continue
		}

		scored = append(scored, schema.Snippet{
			Content: cand.Content,
			Score:   cosineSimilarity(queryVec, vec),
		})
	}

	// 4. Rank and truncate
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// cosineSimilarity computes dot(a, b) / (|a| * |b| + epsilon), accumulating
// in float64 for stability.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + cosineEpsilon)
}
