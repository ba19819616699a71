package models

import "time"

// Comment is a deduplicated record of one inbound comment event. CommentID
// is the external id and is unique within its page; webhook redeliveries
// update the text only, author and timestamps stay as first seen.
type Comment struct {
	ID         uint   `gorm:"primaryKey"`
	PageID     uint   `gorm:"index:idx_page_comment,unique;not null"`
	UserID     string `gorm:"index;not null;size:255"`
	CommentID  string `gorm:"index:idx_page_comment,unique;not null;size:255"` // external comment id
	PostID     string `gorm:"index;size:255"`
	AuthorID   string `gorm:"size:255"` // may be empty; some platforms omit the commenter id
	AuthorName string `gorm:"size:255"`
	Text       string `gorm:"type:text"`
	ReceivedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Comment) TableName() string {
	return "comments"
}
