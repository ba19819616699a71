package pages

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pagepilot/internal/models"
	"pagepilot/pkg/logger"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPageNotFound is returned when a lookup does not match a connected page.
var ErrPageNotFound = errors.New("page not found or not connected")

// CommentWithReply is a dashboard row joining a comment with its page name
// and reply outcome, if any.
type CommentWithReply struct {
	ID          uint       `json:"id"`
	CommentID   string     `json:"comment_id"`
	PostID      string     `json:"post_id"`
	AuthorName  string     `json:"author_name"`
	Text        string     `json:"text"`
	ReceivedAt  time.Time  `json:"received_at"`
	PageName    string     `json:"page_name"`
	ReplyText   *string    `json:"reply_text"`
	ReplyStatus *string    `json:"reply_status"`
	SentAt      *time.Time `json:"sent_at"`
}

// cachedPage mirrors models.Page for the redis cache; the model hides the
// access token from JSON, the cache must not.
type cachedPage struct {
	ID          uint             `json:"id"`
	UserID      string           `json:"user_id"`
	PageID      string           `json:"page_id"`
	PageName    string           `json:"page_name"`
	AccessToken string           `json:"access_token"`
	ReplyMode   models.ReplyMode `json:"reply_mode"`
}

// Store provides data access for connected pages, tracked posts and the
// comment/reply dashboard listing. Page lookups by external id sit on the
// webhook hot path, so they go through a redis cache-aside; a nil cache
// client disables caching.
type Store struct {
	db       *gorm.DB
	cache    *redis.Client
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewStore creates a new Store.
func NewStore(db *gorm.DB, cache *redis.Client, cacheTTL time.Duration, log *logger.Logger) *Store {
	return &Store{db: db, cache: cache, cacheTTL: cacheTTL, log: log}
}

// UpsertPage inserts or refreshes a connected page, keyed by the external
// page id. Name and token are refreshed on reconnect; the owner and reply
// mode are not touched.
func (s *Store) UpsertPage(ctx context.Context, page *models.Page) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "page_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"page_name", "access_token"}),
	}).Create(page).Error
	if err != nil {
		return err
	}
	s.invalidate(ctx, page.PageID)
	return nil
}

// GetPageByExternalID looks up a connected page by its external id.
func (s *Store) GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cacheKey(pageID)).Bytes()
		if err == nil {
			var cached cachedPage
			if json.Unmarshal(raw, &cached) == nil {
				return &models.Page{
					ID:          cached.ID,
					UserID:      cached.UserID,
					PageID:      cached.PageID,
					PageName:    cached.PageName,
					AccessToken: cached.AccessToken,
					ReplyMode:   cached.ReplyMode,
				}, nil
			}
		} else if err != redis.Nil {
			s.log.WithError(err).Warn("Page cache read failed; falling back to MySQL")
		}
	}

	var page models.Page
	if err := s.db.WithContext(ctx).Where("page_id = ?", pageID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}

	if s.cache != nil {
		raw, err := json.Marshal(cachedPage{
			ID:          page.ID,
			UserID:      page.UserID,
			PageID:      page.PageID,
			PageName:    page.PageName,
			AccessToken: page.AccessToken,
			ReplyMode:   page.ReplyMode,
		})
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey(pageID), raw, s.cacheTTL).Err(); err != nil {
				s.log.WithError(err).Warn("Page cache write failed")
			}
		}
	}

	return &page, nil
}

// GetPageByID looks up a connected page by its internal id.
func (s *Store) GetPageByID(ctx context.Context, id uint) (*models.Page, error) {
	var page models.Page
	if err := s.db.WithContext(ctx).First(&page, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// ListPages returns all pages connected by the user.
func (s *Store) ListPages(ctx context.Context, userID string) ([]*models.Page, error) {
	var result []*models.Page
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// SetReplyMode updates the reply channel policy for one of the user's pages.
func (s *Store) SetReplyMode(ctx context.Context, userID string, id uint, mode models.ReplyMode) error {
	result := s.db.WithContext(ctx).Model(&models.Page{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("reply_mode", mode)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPageNotFound
	}

	var page models.Page
	if err := s.db.WithContext(ctx).First(&page, id).Error; err == nil {
		s.invalidate(ctx, page.PageID)
	}
	return nil
}

// TrackPost adds a post to the user's allow list; re-tracking is a no-op.
func (s *Store) TrackPost(ctx context.Context, post *models.TrackedPost) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "post_id"}},
		DoNothing: true,
	}).Create(post).Error
}

// ListTrackedPosts returns the user's tracked posts, latest first.
func (s *Store) ListTrackedPosts(ctx context.Context, userID string) ([]*models.TrackedPost, error) {
	var posts []*models.TrackedPost
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&posts).Error
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// IsTracked reports whether (userID, postID) is on the allow list.
func (s *Store) IsTracked(ctx context.Context, userID, postID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.TrackedPost{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListCommentsWithReplies returns the user's comments joined with their
// reply outcome, newest first, optionally filtered by post.
func (s *Store) ListCommentsWithReplies(ctx context.Context, userID, postID string) ([]CommentWithReply, error) {
	query := s.db.WithContext(ctx).Table("comments").
		Select(`comments.id, comments.comment_id, comments.post_id, comments.author_name,
			comments.text, comments.received_at, pages.page_name,
			replies.reply_text, replies.status AS reply_status, replies.sent_at`).
		Joins("JOIN pages ON pages.id = comments.page_id").
		Joins("LEFT JOIN replies ON replies.comment_id = comments.id").
		Where("comments.user_id = ?", userID).
		Order("comments.received_at DESC")
	if postID != "" {
		query = query.Where("comments.post_id = ?", postID)
	}

	var rows []CommentWithReply
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUnansweredComments returns the tracked-post comments of a user that
// have no reply row yet, for the manual re-trigger endpoint.
func (s *Store) ListUnansweredComments(ctx context.Context, userID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := s.db.WithContext(ctx).
		Joins("JOIN tracked_posts ON tracked_posts.user_id = comments.user_id AND tracked_posts.post_id = comments.post_id").
		Where("comments.user_id = ?", userID).
		Where("NOT EXISTS (SELECT 1 FROM replies WHERE replies.comment_id = comments.id)").
		Find(&comments).Error
	if err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *Store) invalidate(ctx context.Context, pageID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(pageID)).Err(); err != nil {
		s.log.WithError(err).Warn("Page cache invalidation failed")
	}
}

func cacheKey(pageID string) string {
	return "pagepilot:page:" + pageID
}
