package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"pagepilot/internal/knowledge/interfaces"
	"pagepilot/internal/knowledge/schema"
	"pagepilot/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrResourceNotFound is returned when a delete targets a resource that does
// not exist or is not owned by the caller.
var ErrResourceNotFound = errors.New("resource not found or not owned by user")

// MySQLStore persists resources and their embedded chunks in MySQL.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore creates a new MySQLStore.
func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// SaveResource creates the resource row and bulk-upserts its chunks inside a
// single transaction. The upsert key is (resource_id, content_hash), so
// ingesting identical text twice replaces embeddings instead of duplicating
// rows.
func (s *MySQLStore) SaveResource(ctx context.Context, res *models.Resource, contents []string, embeddings [][]float32) (int, error) {
	if len(contents) != len(embeddings) {
		return 0, fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(contents), len(embeddings))
	}

	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(res).Error; err != nil {
			return err
		}

		chunks := make([]models.ResourceChunk, 0, len(contents))
		for i, content := range contents {
			raw, err := json.Marshal(embeddings[i])
			if err != nil {
				return fmt.Errorf("marshal embedding: %w", err)
			}
			chunks = append(chunks, models.ResourceChunk{
				ResourceID:  res.ID,
				ContentHash: hashContent(content),
				Content:     content,
				Embedding:   datatypes.JSON(raw),
			})
		}

		if len(chunks) == 0 {
			return nil
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "resource_id"}, {Name: "content_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "embedding"}),
		}).Create(&chunks)
		if result.Error != nil {
			return result.Error
		}

		count = len(chunks)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FetchCandidates returns the tenant's most recent chunks, newest first,
// bounded by limit. Embeddings come back as raw JSON for the retrieval
// pipeline to decode.
func (s *MySQLStore) FetchCandidates(ctx context.Context, userID string, limit int) ([]schema.Candidate, error) {
	var rows []models.ResourceChunk
	err := s.db.WithContext(ctx).
		Joins("JOIN resources ON resources.id = resource_chunks.resource_id").
		Where("resources.user_id = ?", userID).
		Order("resource_chunks.id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]schema.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, schema.Candidate{
			ID:        row.ID,
			Content:   row.Content,
			Embedding: []byte(row.Embedding),
		})
	}
	return candidates, nil
}

// DeleteResource removes the resource and all of its chunks in one
// transaction; both succeed or both fail.
func (s *MySQLStore) DeleteResource(ctx context.Context, userID string, resourceID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", resourceID).Delete(&models.ResourceChunk{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ? AND user_id = ?", resourceID, userID).Delete(&models.Resource{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrResourceNotFound
		}
		return nil
	})
}

// ListResources retrieves all resources owned by the given user.
func (s *MySQLStore) ListResources(ctx context.Context, userID string) ([]*models.Resource, error) {
	var resources []*models.Resource
	result := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&resources)
	if result.Error != nil {
		return nil, result.Error
	}
	return resources, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// compile-time check to ensure MySQLStore implements the VectorStore interface
var _ interfaces.VectorStore = (*MySQLStore)(nil)
