package models

import "time"

// ReplyStatus is the delivery state of a reply. Transitions only move
// forward: pending -> sent or pending -> failed.
type ReplyStatus string

const (
	ReplyStatusPending ReplyStatus = "pending"
	ReplyStatusSent    ReplyStatus = "sent"
	ReplyStatusFailed  ReplyStatus = "failed"
)

// Reply is the outcome of answering one comment. The unique index on
// CommentID is the concurrency guard: claiming a comment means inserting a
// pending row, and a duplicate-key error means another worker (or an earlier
// webhook delivery) already owns it.
type Reply struct {
	ID        uint        `gorm:"primaryKey"`
	CommentID uint        `gorm:"uniqueIndex;not null"`
	ReplyText string      `gorm:"type:text"`
	Status    ReplyStatus `gorm:"type:varchar(20);default:'pending';not null"`
	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Reply) TableName() string {
	return "replies"
}
