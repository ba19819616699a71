package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"pagepilot/internal/graph"
	"pagepilot/internal/knowledge/schema"
	"pagepilot/internal/models"
	"pagepilot/internal/pages"
	"pagepilot/internal/webhook"
	"pagepilot/pkg/logger"
)

type stubDirectory struct{}

func (stubDirectory) GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error) {
	if pageID != "page-1" {
		return nil, pages.ErrPageNotFound
	}
	return &models.Page{ID: 1, UserID: "user-1", PageID: "page-1", ReplyMode: models.ReplyModePublic}, nil
}

func (stubDirectory) IsTracked(ctx context.Context, userID, postID string) (bool, error) {
	return postID == "post-1", nil
}

type stubCommentStore struct {
	mu       sync.Mutex
	upserted []string
}

func (s *stubCommentStore) UpsertComment(ctx context.Context, comment *models.Comment) (*models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, comment.CommentID)
	stored := *comment
	stored.ID = uint(len(s.upserted))
	return &stored, nil
}

func (s *stubCommentStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upserted)
}

type stubReplyStore struct{}

func (stubReplyStore) ClaimComment(ctx context.Context, commentID uint) (*models.Reply, bool, error) {
	return nil, false, nil // already claimed; nothing to deliver
}

func (stubReplyStore) FinishReply(ctx context.Context, replyID uint, text string, status models.ReplyStatus, sentAt *time.Time) error {
	return nil
}

type stubRetriever struct{}

func (stubRetriever) Search(ctx context.Context, userID, query string, k int) ([]schema.Snippet, error) {
	return nil, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, businessName, customerText string, snippets []schema.Snippet) (string, error) {
	return "ok", nil
}

type stubDeliverer struct{}

func (stubDeliverer) SendDirect(ctx context.Context, accessToken, recipientID, text string) error {
	return nil
}

func (stubDeliverer) SendPublic(ctx context.Context, accessToken, commentID, text string) error {
	return nil
}

func newWebhookRouter(t *testing.T) (*gin.Engine, *stubCommentStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New("api-test", "", "")
	comments := &stubCommentStore{}
	ingestor := webhook.NewIngestor(stubDirectory{}, comments, log)
	orchestrator := webhook.NewOrchestrator(stubRetriever{}, stubGenerator{}, stubDeliverer{}, stubReplyStore{}, 5, 1, time.Second, "fallback", log)

	a := NewAPI(nil, nil, nil, nil, nil, ingestor, orchestrator, "verify-me", 5, log)

	router := gin.New()
	router.GET("/webhook", a.VerifyWebhookHandler)
	router.POST("/webhook", a.ReceiveWebhookHandler)
	return router, comments
}

func TestVerifyWebhookHandler(t *testing.T) {
	router, _ := newWebhookRouter(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid challenge", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusOK, "12345"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestReceiveWebhookAlwaysAcks(t *testing.T) {
	router, _ := newWebhookRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{
			"tracked comment",
			`{"object":"page","entry":[{"id":"page-1","changes":[{"field":"feed","value":{"item":"comment","comment_id":"c-1","post_id":"post-1","message":"hi"}}]}]}`,
		},
		{
			"untracked and malformed events",
			`{"object":"page","entry":[
				{"id":"page-unknown","changes":[{"field":"feed","value":{"item":"comment","comment_id":"c-2","post_id":"post-1"}}]},
				{"id":"page-1","changes":[{"field":"feed","value":{"item":"comment","post_id":"post-1"}}]}
			]}`,
		},
		{"empty entry list", `{"object":"page","entry":[]}`},
		{"undecodable payload", `{"object":`},
		{"non-page object", `{"object":"user","entry":[{"id":"page-1","changes":[{"field":"feed","value":{"item":"comment","comment_id":"c-9","post_id":"post-1"}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("webhook must always acknowledge, got status %d", w.Code)
			}
			if w.Body.String() != "EVENT_RECEIVED" {
				t.Errorf("expected EVENT_RECEIVED, got %q", w.Body.String())
			}
		})
	}
}

func TestPulledCommentsFlowThroughIngestion(t *testing.T) {
	// Comments fetched from the Graph API (posted before the page was
	// subscribed, or while webhook delivery was down) take the same
	// ingestion path as pushed events: same dedup key, same tracked-post
	// filter.
	log := logger.New("api-test", "", "")
	comments := &stubCommentStore{}
	ingestor := webhook.NewIngestor(stubDirectory{}, comments, log)

	pulled := []graph.PostComment{
		{ID: "c-old", Message: "still open?", AuthorID: "a-1", AuthorName: "Ada", CreatedTime: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: "c-older", Message: "price?", CreatedTime: time.Date(2024, 2, 28, 9, 0, 0, 0, time.UTC)},
	}

	events := pulledEvents("page-1", "post-1", pulled)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].AuthorID != "a-1" || events[0].AuthorName != "Ada" {
		t.Errorf("author not carried through: %+v", events[0])
	}
	if !events[0].ReceivedAt.Equal(pulled[0].CreatedTime) {
		t.Errorf("expected pulled created time as ReceivedAt, got %v", events[0].ReceivedAt)
	}

	for _, ev := range events {
		if _, err := ingestor.Accept(context.Background(), ev); err != nil {
			t.Fatalf("unexpected error ingesting pulled comment: %v", err)
		}
	}
	if got := comments.count(); got != 2 {
		t.Fatalf("expected 2 upserts, got %d", got)
	}

	// A pulled comment on a post the tenant never tracked is dropped, same
	// as a pushed one.
	untracked := pulledEvents("page-1", "post-other", pulled[:1])
	if _, err := ingestor.Accept(context.Background(), untracked[0]); !errors.Is(err, webhook.ErrUntrackedTarget) {
		t.Fatalf("expected ErrUntrackedTarget, got %v", err)
	}
	if got := comments.count(); got != 2 {
		t.Errorf("untracked pulled comment must not be persisted, got %d upserts", got)
	}
}

func TestReceiveWebhookIgnoresNonPageObjects(t *testing.T) {
	router, comments := newWebhookRouter(t)

	// Same entries as a valid delivery, but for a subscription object the
	// service never registered.
	body := `{"object":"user","entry":[{"id":"page-1","changes":[{"field":"feed","value":{"item":"comment","comment_id":"c-1","post_id":"post-1","message":"hi"}}]}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := comments.count(); got != 0 {
		t.Errorf("non-page delivery must not be ingested, got %d upserts", got)
	}

	// The same payload under the page object is processed.
	body = `{"object":"page","entry":[{"id":"page-1","changes":[{"field":"feed","value":{"item":"comment","comment_id":"c-1","post_id":"post-1","message":"hi"}}]}]}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if got := comments.count(); got != 1 {
		t.Errorf("expected 1 upsert for the page delivery, got %d", got)
	}
}
