package models

import "time"

// ReplyMode controls which channel the orchestrator uses when answering a
// comment on one of the page's tracked posts.
type ReplyMode string

const (
	// ReplyModeDirect answers with a private message to the comment author.
	// It requires an author id on the event; without one the public channel
	// is selected instead.
	ReplyModeDirect ReplyMode = "direct"
	// ReplyModePublic answers with a public reply under the comment thread.
	ReplyModePublic ReplyMode = "public"
)

// Page represents a connected social page owned by a tenant. The access
// token is the page-scoped credential used for outbound delivery.
type Page struct {
	ID          uint      `gorm:"primaryKey"`
	UserID      string    `gorm:"index;not null;size:255"`
	PageID      string    `gorm:"uniqueIndex;not null;size:255"` // external page id
	PageName    string    `gorm:"size:255"`
	AccessToken string    `gorm:"size:1024" json:"-"`
	ReplyMode   ReplyMode `gorm:"type:varchar(20);default:'public';not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Page) TableName() string {
	return "pages"
}

// TrackedPost is a tenant's declaration that a specific external post should
// be monitored for comments. It acts purely as an allow-list filter for the
// event ingestor; the combination of UserID and PostID is unique.
type TrackedPost struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index:idx_user_post,unique;not null;size:255"`
	PageID    string    `gorm:"not null;size:255"` // external page id
	PostID    string    `gorm:"index:idx_user_post,unique;not null;size:255"`
	CreatedAt time.Time
}

func (TrackedPost) TableName() string {
	return "tracked_posts"
}
