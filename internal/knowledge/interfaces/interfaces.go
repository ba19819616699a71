package interfaces

import (
	"context"

	"pagepilot/internal/knowledge/schema"
	"pagepilot/internal/models"
)

// Splitter is the interface for splitting raw text into bounded chunks.
// The unit of measurement and the window parameters are fixed at
// construction time, never inferred per call.
type Splitter interface {
	Split(text string) []string
}

// VectorStore is the interface for persisting and retrieving embedded chunks
// scoped by their owning tenant.
type VectorStore interface {
	// SaveResource persists the resource and its chunks in one atomic unit
	// and returns the number of chunks written. A partially embedded
	// resource is never visible.
	SaveResource(ctx context.Context, res *models.Resource, contents []string, embeddings [][]float32) (int, error)

	// FetchCandidates returns chunks reachable from resources owned by
	// userID, most-recent-first, bounded by limit. Ranking correctness is
	// only guaranteed over the returned window.
	FetchCandidates(ctx context.Context, userID string, limit int) ([]schema.Candidate, error)

	// DeleteResource removes a resource and all of its chunks atomically.
	DeleteResource(ctx context.Context, userID string, resourceID uint) error

	// ListResources returns all resources owned by userID.
	ListResources(ctx context.Context, userID string) ([]*models.Resource, error)
}
