package models

import (
	"time"

	"gorm.io/datatypes"
)

// Resource is a unit of ingested business knowledge. Its text is immutable
// after creation; re-ingesting creates chunks anew and deleting a resource
// cascades to its chunks in the same transaction.
type Resource struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null;size:255"`
	Title     string `gorm:"size:255"`
	Category  string `gorm:"size:64;default:'other'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Resource) TableName() string {
	return "resources"
}

// ResourceChunk is one embedded segment of a resource's text. The embedding
// is stored as a JSON array of floats; ContentHash is the idempotency key,
// so re-inserting identical content replaces the stored embedding instead
// of duplicating the row.
type ResourceChunk struct {
	ID          uint           `gorm:"primaryKey"`
	ResourceID  uint           `gorm:"index:idx_resource_hash,unique;not null"`
	ContentHash string         `gorm:"index:idx_resource_hash,unique;not null;size:64"`
	Content     string         `gorm:"type:text;not null"`
	Embedding   datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time
}

func (ResourceChunk) TableName() string {
	return "resource_chunks"
}
