package webhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pagepilot/internal/knowledge/schema"
	"pagepilot/internal/models"
	"pagepilot/pkg/logger"
)

type fakeRetriever struct {
	snippets []schema.Snippet
	err      error
}

func (f *fakeRetriever) Search(ctx context.Context, userID, query string, k int) ([]schema.Snippet, error) {
	return f.snippets, f.err
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) Generate(ctx context.Context, businessName, customerText string, snippets []schema.Snippet) (string, error) {
	return f.text, f.err
}

type sentMessage struct {
	channel string // "direct" or "public"
	target  string
	text    string
}

type fakeDeliverer struct {
	mu sync.Mutex

	failFor map[string]error // keyed by target id
	sent    []sentMessage
}

func (f *fakeDeliverer) send(channel, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[target]; ok {
		return err
	}
	f.sent = append(f.sent, sentMessage{channel: channel, target: target, text: text})
	return nil
}

func (f *fakeDeliverer) SendDirect(ctx context.Context, accessToken, recipientID, text string) error {
	return f.send("direct", recipientID, text)
}

func (f *fakeDeliverer) SendPublic(ctx context.Context, accessToken, commentID, text string) error {
	return f.send("public", commentID, text)
}

func (f *fakeDeliverer) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeReplyStore reproduces the unique-index claim semantics in memory.
type fakeReplyStore struct {
	mu sync.Mutex

	nextID   uint
	byID     map[uint]*models.Reply
	claimed  map[uint]bool // keyed by comment id
	claimErr error
}

func newFakeReplyStore() *fakeReplyStore {
	return &fakeReplyStore{
		nextID:  1,
		byID:    make(map[uint]*models.Reply),
		claimed: make(map[uint]bool),
	}
}

func (f *fakeReplyStore) ClaimComment(ctx context.Context, commentID uint) (*models.Reply, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, false, f.claimErr
	}
	if f.claimed[commentID] {
		return nil, false, nil
	}
	f.claimed[commentID] = true
	attempt := &models.Reply{ID: f.nextID, CommentID: commentID, Status: models.ReplyStatusPending}
	f.nextID++
	f.byID[attempt.ID] = attempt
	return attempt, true, nil
}

func (f *fakeReplyStore) FinishReply(ctx context.Context, replyID uint, text string, status models.ReplyStatus, sentAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt, ok := f.byID[replyID]
	if !ok || attempt.Status != models.ReplyStatusPending {
		return nil
	}
	attempt.ReplyText = text
	attempt.Status = status
	attempt.SentAt = sentAt
	return nil
}

func (f *fakeReplyStore) replies() []*models.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Reply, 0, len(f.byID))
	for _, r := range f.byID {
		out = append(out, r)
	}
	return out
}

func testLogger() *logger.Logger {
	return logger.New("webhook-test", "", "")
}

func testEvent(commentID uint, mode models.ReplyMode, authorID string) *AcceptedEvent {
	return &AcceptedEvent{
		Page: &models.Page{
			ID:          1,
			UserID:      "user-1",
			PageID:      "page-1",
			PageName:    "Demo Shop",
			AccessToken: "token-1",
			ReplyMode:   mode,
		},
		Comment: &models.Comment{
			ID:        commentID,
			PageID:    1,
			UserID:    "user-1",
			CommentID: "c-1",
			PostID:    "p-1",
			AuthorID:  authorID,
			Text:      "do you ship overseas?",
		},
	}
}

func newTestOrchestrator(retriever Retriever, generator *fakeGenerator, deliverer *fakeDeliverer, replies ReplyStore) *Orchestrator {
	return NewOrchestrator(retriever, generator, deliverer, replies, 5, 2, time.Second, "Thanks for reaching out!", testLogger())
}

func TestOrchestratorAnswersEachCommentOnce(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{}
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{text: "Yes we do."}, deliverer, replies)

	ev := testEvent(10, models.ReplyModePublic, "author-1")

	// The same comment delivered twice, as the platform is allowed to do.
	o.ProcessBatch(context.Background(), []*AcceptedEvent{ev, ev})

	if got := len(deliverer.messages()); got != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", got)
	}
	stored := replies.replies()
	if len(stored) != 1 {
		t.Fatalf("expected exactly 1 reply row, got %d", len(stored))
	}
	if stored[0].Status != models.ReplyStatusSent {
		t.Errorf("expected status sent, got %s", stored[0].Status)
	}
	if stored[0].SentAt == nil {
		t.Error("expected sent_at to be set")
	}
}

func TestOrchestratorFallsBackWhenGenerationFails(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{}
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{err: errors.New("model overloaded")}, deliverer, replies)

	o.ProcessBatch(context.Background(), []*AcceptedEvent{testEvent(11, models.ReplyModePublic, "author-1")})

	msgs := deliverer.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(msgs))
	}
	if msgs[0].text != "Thanks for reaching out!" {
		t.Errorf("expected fallback text, got %q", msgs[0].text)
	}
	if stored := replies.replies(); stored[0].Status != models.ReplyStatusSent {
		t.Errorf("fallback reply should still be delivered, got status %s", stored[0].Status)
	}
}

func TestOrchestratorChannelSelection(t *testing.T) {
	tests := []struct {
		name        string
		mode        models.ReplyMode
		authorID    string
		wantChannel string
		wantTarget  string
	}{
		{"public mode", models.ReplyModePublic, "author-1", "public", "c-1"},
		{"direct mode with author", models.ReplyModeDirect, "author-1", "direct", "author-1"},
		{"direct mode without author falls back to public", models.ReplyModeDirect, "", "public", "c-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := newFakeReplyStore()
			deliverer := &fakeDeliverer{}
			o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{text: "Sure."}, deliverer, replies)

			o.ProcessBatch(context.Background(), []*AcceptedEvent{testEvent(12, tt.mode, tt.authorID)})

			msgs := deliverer.messages()
			if len(msgs) != 1 {
				t.Fatalf("expected 1 delivery, got %d", len(msgs))
			}
			if msgs[0].channel != tt.wantChannel {
				t.Errorf("expected channel %s, got %s", tt.wantChannel, msgs[0].channel)
			}
			if msgs[0].target != tt.wantTarget {
				t.Errorf("expected target %s, got %s", tt.wantTarget, msgs[0].target)
			}
		})
	}
}

func TestOrchestratorRecordsDeliveryFailure(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{failFor: map[string]error{"c-1": errors.New("rate limited")}}
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{text: "Sure."}, deliverer, replies)

	o.ProcessBatch(context.Background(), []*AcceptedEvent{testEvent(13, models.ReplyModePublic, "")})

	stored := replies.replies()
	if len(stored) != 1 {
		t.Fatalf("expected 1 reply row, got %d", len(stored))
	}
	if stored[0].Status != models.ReplyStatusFailed {
		t.Errorf("expected status failed, got %s", stored[0].Status)
	}
	if stored[0].SentAt != nil {
		t.Error("failed reply must not carry a sent_at timestamp")
	}
}

func TestOrchestratorContainsFailuresWithinBatch(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{failFor: map[string]error{"c-bad": errors.New("boom")}}
	o := newTestOrchestrator(&fakeRetriever{err: errors.New("embedding down")}, &fakeGenerator{text: "Hello!"}, deliverer, replies)

	good1 := testEvent(20, models.ReplyModePublic, "")
	bad := testEvent(21, models.ReplyModePublic, "")
	bad.Comment.CommentID = "c-bad"
	good2 := testEvent(22, models.ReplyModePublic, "")
	good2.Comment.CommentID = "c-2"

	o.ProcessBatch(context.Background(), []*AcceptedEvent{good1, bad, good2})

	if got := len(deliverer.messages()); got != 2 {
		t.Fatalf("expected the 2 healthy events delivered, got %d", got)
	}
	var failed int
	for _, r := range replies.replies() {
		if r.Status == models.ReplyStatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failed reply, got %d", failed)
	}
}

func TestOrchestratorComposesWithoutContextWhenRetrievalFails(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{}
	o := newTestOrchestrator(&fakeRetriever{err: errors.New("vector scan failed")}, &fakeGenerator{text: "We ship worldwide."}, deliverer, replies)

	o.ProcessBatch(context.Background(), []*AcceptedEvent{testEvent(30, models.ReplyModePublic, "")})

	msgs := deliverer.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(msgs))
	}
	if msgs[0].text != "We ship worldwide." {
		t.Errorf("retrieval failure should not block generation, got %q", msgs[0].text)
	}
}

type fakeTriggerDirectory struct {
	comments []*models.Comment
	pages    map[uint]*models.Page
}

func (f *fakeTriggerDirectory) ListUnansweredComments(ctx context.Context, userID string) ([]*models.Comment, error) {
	return f.comments, nil
}

func (f *fakeTriggerDirectory) GetPageByID(ctx context.Context, id uint) (*models.Page, error) {
	page, ok := f.pages[id]
	if !ok {
		return nil, errors.New("page not found")
	}
	return page, nil
}

func TestTriggerForUserSweepsBacklog(t *testing.T) {
	replies := newFakeReplyStore()
	deliverer := &fakeDeliverer{}
	o := newTestOrchestrator(&fakeRetriever{}, &fakeGenerator{text: "Hi!"}, deliverer, replies)

	directory := &fakeTriggerDirectory{
		comments: []*models.Comment{
			{ID: 40, PageID: 1, CommentID: "c-40", Text: "price?"},
			{ID: 41, PageID: 1, CommentID: "c-41", Text: "hours?"},
			{ID: 42, PageID: 9, CommentID: "c-42", Text: "orphan"}, // page missing
		},
		pages: map[uint]*models.Page{
			1: {ID: 1, UserID: "user-1", PageID: "page-1", AccessToken: "t", ReplyMode: models.ReplyModePublic},
		},
	}

	n, err := o.TriggerForUser(context.Background(), directory, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 comments picked up, got %d", n)
	}
	if got := len(deliverer.messages()); got != 2 {
		t.Errorf("expected 2 deliveries, got %d", got)
	}
}
