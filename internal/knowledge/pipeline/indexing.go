package pipeline

import (
	"context"
	"errors"
	"fmt"

	"pagepilot/internal/embedding"
	"pagepilot/internal/knowledge/interfaces"
	"pagepilot/internal/models"
	"pagepilot/pkg/logger"
)

// ErrEmptyText is returned when the input text yields no chunks.
var ErrEmptyText = errors.New("resource text produced no chunks")

// IndexingPipeline orchestrates splitting, embedding and storing a knowledge
// resource for one tenant.
type IndexingPipeline struct {
	splitter  interfaces.Splitter
	embedder  embedding.Embedding
	store     interfaces.VectorStore
	dimension int
	log       *logger.Logger
}

// NewIndexingPipeline creates a new IndexingPipeline. dimension is the
// expected embedding width; vectors of any other width are rejected at write
// time so a model change cannot silently poison the stored corpus. Zero
// disables the check.
func NewIndexingPipeline(
	splitter interfaces.Splitter,
	embedder embedding.Embedding,
	store interfaces.VectorStore,
	dimension int,
	log *logger.Logger,
) *IndexingPipeline {
	return &IndexingPipeline{
		splitter:  splitter,
		embedder:  embedder,
		store:     store,
		dimension: dimension,
		log:       log,
	}
}

// Ingest runs the full pipeline for one text resource and returns the new
// resource id and the number of chunks stored. Any failure aborts the whole
// call: a partially stored resource is worse than a rejected one.
func (p *IndexingPipeline) Ingest(ctx context.Context, userID, title, category, text string) (uint, int, error) {
	p.log.Info(fmt.Sprintf("Starting ingestion of %q for user %s", title, userID))

	// 1. Split the text into chunks
	chunks := p.splitter.Split(text)
	if len(chunks) == 0 {
		return 0, 0, ErrEmptyText
	}

	// 2. Embed the chunks in one batch
	embeddings, err := p.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		p.log.WithError(err).Error("Failed to embed chunks")
		return 0, 0, err
	}
	if len(embeddings) != len(chunks) {
		return 0, 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}
	if p.dimension > 0 {
		for i, vec := range embeddings {
			if len(vec) != p.dimension {
				return 0, 0, fmt.Errorf("embedder returned a %d-dimensional vector for chunk %d, expected %d", len(vec), i, p.dimension)
			}
		}
	}

	// 3. Store the resource and its chunks atomically
	res := &models.Resource{
		UserID:   userID,
		Title:    title,
		Category: category,
	}
	count, err := p.store.SaveResource(ctx, res, chunks, embeddings)
	if err != nil {
		p.log.WithError(err).Error("Failed to store resource chunks")
		return 0, 0, err
	}

	p.log.WithPayload(map[string]interface{}{
		"resource_id": res.ID,
		"chunks":      count,
	}).Info("Finished ingestion")
	return res.ID, count, nil
}
