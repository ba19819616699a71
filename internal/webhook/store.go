package webhook

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pagepilot/internal/models"
)

// Store persists comments and reply attempts. The unique index on
// replies.comment_id is what makes ClaimComment safe under concurrent
// redelivery: only one inserter wins.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UpsertComment records a comment, keyed by (page_id, comment_id). A
// redelivered event refreshes the text but never produces a second row.
func (s *Store) UpsertComment(ctx context.Context, comment *models.Comment) (*models.Comment, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "page_id"}, {Name: "comment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text"}),
		}).
		Create(comment).Error
	if err != nil {
		return nil, err
	}

	// MySQL does not report the surviving row's id on a duplicate-key
	// update, so re-read it.
	var stored models.Comment
	err = s.db.WithContext(ctx).
		Where("page_id = ? AND comment_id = ?", comment.PageID, comment.CommentID).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ClaimComment tries to open a pending reply attempt for the comment. The
// second return value is false when another worker already holds the claim.
func (s *Store) ClaimComment(ctx context.Context, commentID uint) (*models.Reply, bool, error) {
	attempt := &models.Reply{
		CommentID: commentID,
		Status:    models.ReplyStatusPending,
	}
	err := s.db.WithContext(ctx).Create(attempt).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return attempt, true, nil
}

// FinishReply moves a pending attempt to its terminal state. The status
// guard keeps the transition forward-only.
func (s *Store) FinishReply(ctx context.Context, replyID uint, text string, status models.ReplyStatus, sentAt *time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.Reply{}).
		Where("id = ? AND status = ?", replyID, models.ReplyStatusPending).
		Updates(map[string]interface{}{
			"reply_text": text,
			"status":     status,
			"sent_at":    sentAt,
		}).Error
}
