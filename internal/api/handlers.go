package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pagepilot/internal/graph"
	"pagepilot/internal/knowledge/interfaces"
	"pagepilot/internal/knowledge/pipeline"
	"pagepilot/internal/knowledge/store"
	"pagepilot/internal/models"
	"pagepilot/internal/pages"
	"pagepilot/internal/webhook"
	"pagepilot/pkg/logger"
)

// API holds the handlers for the webhook endpoint and the authenticated
// business dashboard routes.
type API struct {
	indexing     *pipeline.IndexingPipeline
	retrieval    *pipeline.RetrievalPipeline
	knowledge    interfaces.VectorStore
	pages        *pages.Store
	graph        *graph.Client
	ingestor     *webhook.Ingestor
	orchestrator *webhook.Orchestrator

	verifyToken string
	topK        int

	logger *logger.Logger
}

// NewAPI creates a new API handler.
func NewAPI(indexing *pipeline.IndexingPipeline, retrieval *pipeline.RetrievalPipeline, knowledge interfaces.VectorStore, pageStore *pages.Store, graphClient *graph.Client, ingestor *webhook.Ingestor, orchestrator *webhook.Orchestrator, verifyToken string, topK int, log *logger.Logger) *API {
	return &API{
		indexing:     indexing,
		retrieval:    retrieval,
		knowledge:    knowledge,
		pages:        pageStore,
		graph:        graphClient,
		ingestor:     ingestor,
		orchestrator: orchestrator,
		verifyToken:  verifyToken,
		topK:         topK,
		logger:       log,
	}
}

// VerifyWebhookHandler answers the platform's one-time subscription
// challenge.
func (a *API) VerifyWebhookHandler(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == a.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.Status(http.StatusForbidden)
}

// ReceiveWebhookHandler accepts a webhook delivery. The platform retries any
// non-200 answer, so the batch is always acknowledged; per-event failures
// are absorbed by the pipeline and the reply work happens off the request
// path.
func (a *API) ReceiveWebhookHandler(c *gin.Context) {
	var envelope webhook.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		a.logger.WithError(err).Warn("Undecodable webhook payload")
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	// Only page subscriptions are registered; anything else is dropped.
	if envelope.Object != "page" {
		a.logger.WithField("object", envelope.Object).Debug("Ignoring non-page webhook delivery")
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	var accepted []*webhook.AcceptedEvent
	for _, ev := range envelope.Events() {
		result, err := a.ingestor.Accept(c.Request.Context(), ev)
		if err != nil {
			if errors.Is(err, webhook.ErrMalformedEvent) || errors.Is(err, webhook.ErrUntrackedTarget) {
				continue
			}
			a.logger.WithError(err).WithField("comment_id", ev.CommentID).Error("Failed to ingest webhook event")
			continue
		}
		accepted = append(accepted, result)
	}

	if len(accepted) > 0 {
		// The request context dies with the response; replies run on
		// their own context.
		go a.orchestrator.ProcessBatch(context.Background(), accepted)
	}

	c.String(http.StatusOK, "EVENT_RECEIVED")
}

// CreateResourceHandler ingests a block of business knowledge.
func (a *API) CreateResourceHandler(c *gin.Context) {
	userID := c.GetString("userID")

	var payload struct {
		Title    string `json:"title"`
		Category string `json:"category"`
		Content  string `json:"content"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}

	resourceID, chunks, err := a.indexing.Ingest(c.Request.Context(), userID, payload.Title, payload.Category, payload.Content)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyText) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Content must not be empty"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest resource"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"resource_id": resourceID, "chunk_count": chunks})
}

// ListResourcesHandler returns the tenant's knowledge resources.
func (a *API) ListResourcesHandler(c *gin.Context) {
	userID := c.GetString("userID")

	resources, err := a.knowledge.ListResources(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list resources"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

// DeleteResourceHandler removes a resource and all of its chunks.
func (a *API) DeleteResourceHandler(c *gin.Context) {
	userID := c.GetString("userID")

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid resource id"})
		return
	}

	if err := a.knowledge.DeleteResource(c.Request.Context(), userID, uint(id)); err != nil {
		if errors.Is(err, store.ErrResourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete resource"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SearchHandler runs a retrieval query against the tenant's knowledge base.
func (a *API) SearchHandler(c *gin.Context) {
	userID := c.GetString("userID")

	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	k, _ := strconv.Atoi(c.DefaultQuery("k", "0"))
	if k <= 0 {
		k = a.topK
	}
	snippets, err := a.retrieval.Search(c.Request.Context(), userID, query, k)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": snippets})
}

// ConnectPagesHandler exchanges a user token for the managed pages,
// subscribes each one to webhook delivery and stores its page-scoped token.
func (a *API) ConnectPagesHandler(c *gin.Context) {
	userID := c.GetString("userID")

	var payload struct {
		UserToken string `json:"user_token"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.UserToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_token is required"})
		return
	}

	managed, err := a.graph.ListManagedPages(c.Request.Context(), payload.UserToken)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to list managed pages")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list managed pages"})
		return
	}

	connected := make([]gin.H, 0, len(managed))
	for _, page := range managed {
		if err := a.graph.SubscribePage(c.Request.Context(), page.ID, page.AccessToken); err != nil {
			a.logger.WithError(err).WithField("page_id", page.ID).Warn("Failed to subscribe page")
			continue
		}
		err := a.pages.UpsertPage(c.Request.Context(), &models.Page{
			UserID:      userID,
			PageID:      page.ID,
			PageName:    page.Name,
			AccessToken: page.AccessToken,
			ReplyMode:   models.ReplyModePublic,
		})
		if err != nil {
			a.logger.WithError(err).WithField("page_id", page.ID).Error("Failed to store page")
			continue
		}
		connected = append(connected, gin.H{"page_id": page.ID, "page_name": page.Name})
	}

	c.JSON(http.StatusOK, gin.H{"connected": connected})
}

// ownedPage resolves the :id route parameter to one of the caller's pages.
// It writes the error response itself and reports success in the second
// return value.
func (a *API) ownedPage(c *gin.Context, userID string) (*models.Page, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page id"})
		return nil, false
	}

	page, err := a.pages.GetPageByID(c.Request.Context(), uint(id))
	if err != nil || page.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
		return nil, false
	}
	return page, true
}

// ListPagePostsHandler lists a connected page's recent feed posts so the
// owner can pick which ones to track.
func (a *API) ListPagePostsHandler(c *gin.Context) {
	userID := c.GetString("userID")

	page, ok := a.ownedPage(c, userID)
	if !ok {
		return
	}

	posts, err := a.graph.ListPagePosts(c.Request.Context(), page.PageID, page.AccessToken)
	if err != nil {
		a.logger.WithError(err).WithField("page_id", page.PageID).Warn("Failed to list page posts")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to list page posts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

// SyncCommentsHandler pulls comments from the Graph API for one tracked post
// (or all of the page's tracked posts) and routes them through the same
// ingestion path webhook deliveries take. This reaches comments posted
// before the page was subscribed or while webhook delivery was down; the
// ingestor's upsert keeps the pull idempotent against pushed events.
func (a *API) SyncCommentsHandler(c *gin.Context) {
	userID := c.GetString("userID")

	page, ok := a.ownedPage(c, userID)
	if !ok {
		return
	}

	// The body is optional; without a post_id every tracked post of the
	// page is synced.
	var payload struct {
		PostID string `json:"post_id"`
	}
	_ = c.ShouldBindJSON(&payload)

	var postIDs []string
	if payload.PostID != "" {
		postIDs = []string{payload.PostID}
	} else {
		tracked, err := a.pages.ListTrackedPosts(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tracked posts"})
			return
		}
		for _, post := range tracked {
			if post.PageID == page.PageID {
				postIDs = append(postIDs, post.PostID)
			}
		}
	}

	synced := 0
	for _, postID := range postIDs {
		comments, err := a.graph.ListPostComments(c.Request.Context(), postID, page.AccessToken)
		if err != nil {
			a.logger.WithError(err).WithField("post_id", postID).Warn("Failed to pull post comments")
			continue
		}

		for _, ev := range pulledEvents(page.PageID, postID, comments) {
			if _, err := a.ingestor.Accept(c.Request.Context(), ev); err != nil {
				if errors.Is(err, webhook.ErrMalformedEvent) || errors.Is(err, webhook.ErrUntrackedTarget) {
					continue
				}
				a.logger.WithError(err).WithField("comment_id", ev.CommentID).Error("Failed to ingest pulled comment")
				continue
			}
			synced++
		}
	}

	c.JSON(http.StatusOK, gin.H{"synced": synced})
}

// pulledEvents converts pulled Graph comments into the boundary events the
// webhook pipeline consumes.
func pulledEvents(pageID, postID string, comments []graph.PostComment) []webhook.RawEvent {
	events := make([]webhook.RawEvent, 0, len(comments))
	for _, comment := range comments {
		events = append(events, webhook.RawEvent{
			PageID:     pageID,
			CommentID:  comment.ID,
			PostID:     postID,
			AuthorID:   comment.AuthorID,
			AuthorName: comment.AuthorName,
			Text:       comment.Message,
			ReceivedAt: comment.CreatedTime,
		})
	}
	return events
}

// ListPagesHandler returns the tenant's connected pages.
func (a *API) ListPagesHandler(c *gin.Context) {
	userID := c.GetString("userID")

	result, err := a.pages.ListPages(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list pages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": result})
}

// SetReplyModeHandler switches a page between public and direct replies.
func (a *API) SetReplyModeHandler(c *gin.Context) {
	userID := c.GetString("userID")

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page id"})
		return
	}

	var payload struct {
		ReplyMode models.ReplyMode `json:"reply_mode"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return
	}
	if payload.ReplyMode != models.ReplyModeDirect && payload.ReplyMode != models.ReplyModePublic {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply_mode must be 'direct' or 'public'"})
		return
	}

	if err := a.pages.SetReplyMode(c.Request.Context(), userID, uint(id), payload.ReplyMode); err != nil {
		if errors.Is(err, pages.ErrPageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update reply mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply_mode": payload.ReplyMode})
}

// TrackPostHandler adds a post to the tenant's auto-reply allow-list.
func (a *API) TrackPostHandler(c *gin.Context) {
	userID := c.GetString("userID")

	var payload struct {
		PageID string `json:"page_id"` // external page id
		PostID string `json:"post_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.PostID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "post_id is required"})
		return
	}

	err := a.pages.TrackPost(c.Request.Context(), &models.TrackedPost{
		UserID: userID,
		PageID: payload.PageID,
		PostID: payload.PostID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to track post"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post_id": payload.PostID})
}

// ListTrackedPostsHandler returns the tenant's tracked posts.
func (a *API) ListTrackedPostsHandler(c *gin.Context) {
	userID := c.GetString("userID")

	posts, err := a.pages.ListTrackedPosts(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tracked posts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracked_posts": posts})
}

// ListCommentsHandler returns the tenant's received comments together with
// their reply outcomes, optionally filtered by post.
func (a *API) ListCommentsHandler(c *gin.Context) {
	userID := c.GetString("userID")
	postID := c.Query("post_id")

	comments, err := a.pages.ListCommentsWithReplies(c.Request.Context(), userID, postID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list comments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// TriggerRepliesHandler sweeps the tenant's unanswered tracked comments
// through the reply pipeline.
func (a *API) TriggerRepliesHandler(c *gin.Context) {
	userID := c.GetString("userID")

	n, err := a.orchestrator.TriggerForUser(c.Request.Context(), a.pages, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to trigger replies"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggered": n})
}
