package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pagepilot/internal/knowledge/schema"
	"pagepilot/internal/models"
	"pagepilot/internal/reply"
	"pagepilot/pkg/logger"
)

// Retriever searches a tenant's knowledge base for context snippets.
type Retriever interface {
	Search(ctx context.Context, userID, query string, k int) ([]schema.Snippet, error)
}

// Deliverer sends the finished reply over one of the two channels.
type Deliverer interface {
	SendDirect(ctx context.Context, accessToken, recipientID, text string) error
	SendPublic(ctx context.Context, accessToken, commentID, text string) error
}

// ReplyStore is the claim/finish surface of the reply state machine.
type ReplyStore interface {
	ClaimComment(ctx context.Context, commentID uint) (*models.Reply, bool, error)
	FinishReply(ctx context.Context, replyID uint, text string, status models.ReplyStatus, sentAt *time.Time) error
}

// TriggerDirectory resolves the comments and pages for a manual re-trigger
// sweep over a tenant's unanswered backlog.
type TriggerDirectory interface {
	ListUnansweredComments(ctx context.Context, userID string) ([]*models.Comment, error)
	GetPageByID(ctx context.Context, id uint) (*models.Page, error)
}

// Orchestrator runs the reply state machine for accepted comments: claim,
// retrieve, generate, deliver, record. Each comment is answered at most
// once regardless of how many times its event is delivered.
type Orchestrator struct {
	retriever Retriever
	generator reply.Generator
	deliverer Deliverer
	replies   ReplyStore

	topK         int
	workers      int
	callTimeout  time.Duration
	fallbackText string

	log *logger.Logger
}

func NewOrchestrator(retriever Retriever, generator reply.Generator, deliverer Deliverer, replies ReplyStore, topK, workers int, callTimeout time.Duration, fallbackText string, log *logger.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		retriever:    retriever,
		generator:    generator,
		deliverer:    deliverer,
		replies:      replies,
		topK:         topK,
		workers:      workers,
		callTimeout:  callTimeout,
		fallbackText: fallbackText,
		log:          log,
	}
}

// ProcessBatch answers the accepted events concurrently, bounded by the
// worker limit. A failing event never affects its siblings, so the batch
// always runs to completion.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []*AcceptedEvent) {
	var eg errgroup.Group
	eg.SetLimit(o.workers)
	for _, ev := range events {
		ev := ev
		eg.Go(func() error {
			o.handle(ctx, ev)
			return nil
		})
	}
	eg.Wait()
}

// TriggerForUser sweeps the tenant's unanswered tracked comments through the
// pipeline and reports how many were picked up.
func (o *Orchestrator) TriggerForUser(ctx context.Context, directory TriggerDirectory, userID string) (int, error) {
	comments, err := directory.ListUnansweredComments(ctx, userID)
	if err != nil {
		return 0, err
	}

	events := make([]*AcceptedEvent, 0, len(comments))
	for _, comment := range comments {
		page, err := directory.GetPageByID(ctx, comment.PageID)
		if err != nil {
			o.log.WithError(err).WithField("comment_id", comment.CommentID).Warn("skipping comment, page lookup failed")
			continue
		}
		events = append(events, &AcceptedEvent{Page: page, Comment: comment})
	}

	o.ProcessBatch(ctx, events)
	return len(events), nil
}

// handle drives one comment through the state machine. All failures are
// contained here: the claim row, once taken, always reaches a terminal
// state within this call.
func (o *Orchestrator) handle(ctx context.Context, ev *AcceptedEvent) {
	log := o.log.
		WithField("trace_id", uuid.New().String()).
		WithField("comment_id", ev.Comment.CommentID).
		WithField("page_id", ev.Page.PageID)

	attempt, claimed, err := o.replies.ClaimComment(ctx, ev.Comment.ID)
	if err != nil {
		log.WithError(err).Error("failed to claim comment")
		return
	}
	if !claimed {
		log.Debug("comment already claimed, skipping")
		return
	}

	text := o.compose(ctx, ev, log)

	status := models.ReplyStatusSent
	var sentAt *time.Time
	if err := o.deliver(ctx, ev, text); err != nil {
		log.WithError(err).Error("reply delivery failed")
		status = models.ReplyStatusFailed
	} else {
		now := time.Now()
		sentAt = &now
	}

	if err := o.replies.FinishReply(ctx, attempt.ID, text, status, sentAt); err != nil {
		log.WithError(err).Error("failed to record reply outcome")
		return
	}
	log.WithField("status", string(status)).Info("reply attempt finished")
}

// compose retrieves knowledge context and generates the reply text. Both
// stages degrade instead of failing: retrieval errors shrink the context to
// nothing, generation errors fall back to the configured generic reply.
func (o *Orchestrator) compose(ctx context.Context, ev *AcceptedEvent, log *logger.Logger) string {
	rctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	snippets, err := o.retriever.Search(rctx, ev.Page.UserID, ev.Comment.Text, o.topK)
	cancel()
	if err != nil {
		log.WithError(err).Warn("knowledge retrieval failed, composing without context")
		snippets = nil
	}

	gctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	text, err := o.generator.Generate(gctx, ev.Page.PageName, ev.Comment.Text, snippets)
	cancel()
	if err != nil {
		log.WithError(err).Warn("reply generation failed, using fallback text")
		return o.fallbackText
	}
	if text == "" {
		log.Warn("reply generation returned empty text, using fallback text")
		return o.fallbackText
	}
	return text
}

// deliver picks the channel from the page's reply mode. Direct delivery
// needs an author id; without one the public channel is used even in
// direct mode.
func (o *Orchestrator) deliver(ctx context.Context, ev *AcceptedEvent, text string) error {
	dctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	if ev.Page.ReplyMode == models.ReplyModeDirect && ev.Comment.AuthorID != "" {
		return o.deliverer.SendDirect(dctx, ev.Page.AccessToken, ev.Comment.AuthorID, text)
	}
	return o.deliverer.SendPublic(dctx, ev.Page.AccessToken, ev.Comment.CommentID, text)
}
