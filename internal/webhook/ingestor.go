package webhook

import (
	"context"
	"errors"

	"pagepilot/internal/models"
	"pagepilot/internal/pages"
	"pagepilot/pkg/logger"
)

var (
	// ErrMalformedEvent marks an event missing the identifiers the
	// pipeline cannot work without.
	ErrMalformedEvent = errors.New("webhook: malformed event")

	// ErrUntrackedTarget marks an event whose page or post is not under
	// auto-reply tracking for any business.
	ErrUntrackedTarget = errors.New("webhook: target not tracked")
)

// PageDirectory is the slice of the pages store the ingestion path needs.
type PageDirectory interface {
	GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error)
	IsTracked(ctx context.Context, userID string, postID string) (bool, error)
}

// CommentStore persists deduplicated comments.
type CommentStore interface {
	UpsertComment(ctx context.Context, comment *models.Comment) (*models.Comment, error)
}

// AcceptedEvent is a comment that passed validation, ownership resolution
// and the tracked-post filter, ready for reply orchestration.
type AcceptedEvent struct {
	Page    *models.Page
	Comment *models.Comment
}

// Ingestor turns raw webhook events into accepted comments. It drops
// everything that is malformed, unowned or outside the tracked post set,
// and guarantees at most one comment row per (page, comment) pair.
type Ingestor struct {
	directory PageDirectory
	comments  CommentStore
	log       *logger.Logger
}

func NewIngestor(directory PageDirectory, comments CommentStore, log *logger.Logger) *Ingestor {
	return &Ingestor{directory: directory, comments: comments, log: log}
}

// Accept validates and persists one event. ErrMalformedEvent and
// ErrUntrackedTarget are expected outcomes for traffic the pipeline
// ignores; anything else is an infrastructure failure.
func (i *Ingestor) Accept(ctx context.Context, ev RawEvent) (*AcceptedEvent, error) {
	if ev.PageID == "" || ev.CommentID == "" || ev.PostID == "" {
		return nil, ErrMalformedEvent
	}

	page, err := i.directory.GetPageByExternalID(ctx, ev.PageID)
	if err != nil {
		if errors.Is(err, pages.ErrPageNotFound) {
			return nil, ErrUntrackedTarget
		}
		return nil, err
	}

	tracked, err := i.directory.IsTracked(ctx, page.UserID, ev.PostID)
	if err != nil {
		return nil, err
	}
	if !tracked {
		i.log.WithField("post_id", ev.PostID).Debug("comment on untracked post, dropping")
		return nil, ErrUntrackedTarget
	}

	comment, err := i.comments.UpsertComment(ctx, &models.Comment{
		PageID:     page.ID,
		UserID:     page.UserID,
		CommentID:  ev.CommentID,
		PostID:     ev.PostID,
		AuthorID:   ev.AuthorID,
		AuthorName: ev.AuthorName,
		Text:       ev.Text,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return nil, err
	}

	return &AcceptedEvent{Page: page, Comment: comment}, nil
}
