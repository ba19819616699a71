package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pagepilot/internal/config"
	"pagepilot/pkg/breaker"
	"pagepilot/pkg/logger"
)

// ErrDelivery indicates an outbound send was rejected or failed in
// transport. The orchestrator records it as a failed reply; there is no
// automatic retry.
var ErrDelivery = errors.New("delivery failed")

// ManagedPage is one page returned by the /me/accounts listing.
type ManagedPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
}

// PagePost is one feed post returned by the page posts listing.
type PagePost struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
}

// PostComment is one comment pulled from a post's comment listing. The
// author may be absent when the platform withholds the commenter.
type PostComment struct {
	ID          string
	Message     string
	AuthorID    string
	AuthorName  string
	CreatedTime time.Time
}

// apiError is the error envelope the Graph API returns on failures.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Client talks to the Meta Graph API: outbound message delivery plus the
// page listing and webhook subscription used by the connect flow. A circuit
// breaker guards the calls so a broken downstream fails fast.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	breaker    *breaker.Breaker
	log        *logger.Logger
}

// NewClient creates a new Graph API client from config.
func NewClient(cfg *config.GraphConfig, log *logger.Logger) (*Client, error) {
	timeout, err := time.ParseDuration(cfg.BreakerTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid breaker timeout duration: %w", err)
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		version:    cfg.Version,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerSuccessThreshold, timeout),
		log:        log,
	}, nil
}

// SendDirect sends a private message to recipientID using the page token.
func (c *Client) SendDirect(ctx context.Context, accessToken, recipientID, text string) error {
	payload := map[string]interface{}{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	}
	return c.post(ctx, "me/messages", accessToken, nil, payload)
}

// SendPublic posts a public reply under the given comment.
func (c *Client) SendPublic(ctx context.Context, accessToken, commentID, text string) error {
	payload := map[string]string{"message": text}
	return c.post(ctx, fmt.Sprintf("%s/comments", commentID), accessToken, nil, payload)
}

// SubscribePage subscribes the page to feed and message webhooks.
func (c *Client) SubscribePage(ctx context.Context, pageID, pageToken string) error {
	query := url.Values{"subscribed_fields": {"feed,messages"}}
	return c.post(ctx, fmt.Sprintf("%s/subscribed_apps", pageID), pageToken, query, nil)
}

// ListManagedPages returns the pages the user token can manage.
func (c *Client) ListManagedPages(ctx context.Context, userToken string) ([]ManagedPage, error) {
	var body struct {
		Data []ManagedPage `json:"data"`
	}
	if err := c.get(ctx, "me/accounts", userToken, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ListPagePosts returns the page's recent feed posts so the owner can pick
// which ones to track.
func (c *Client) ListPagePosts(ctx context.Context, pageID, pageToken string) ([]PagePost, error) {
	query := url.Values{"fields": {"id,message,created_time"}}

	var body struct {
		Data []PagePost `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/posts", pageID), pageToken, query, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ListPostComments pulls the comments under a post. This is the pull side of
// comment acquisition: it reaches comments posted before the page was
// subscribed or while webhook delivery was down.
func (c *Client) ListPostComments(ctx context.Context, postID, pageToken string) ([]PostComment, error) {
	query := url.Values{"fields": {"id,message,from,created_time"}}

	var body struct {
		Data []struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			From    *struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"from"`
			CreatedTime string `json:"created_time"`
		} `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/comments", postID), pageToken, query, &body); err != nil {
		return nil, err
	}

	comments := make([]PostComment, 0, len(body.Data))
	for _, item := range body.Data {
		comment := PostComment{
			ID:          item.ID,
			Message:     item.Message,
			CreatedTime: parseGraphTime(item.CreatedTime),
		}
		if item.From != nil {
			comment.AuthorID = item.From.ID
			comment.AuthorName = item.From.Name
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// graphTimeLayout is the ISO-8601 variant the Graph API emits ("+0000"
// style zone offset).
const graphTimeLayout = "2006-01-02T15:04:05-0700"

func parseGraphTime(value string) time.Time {
	t, err := time.Parse(graphTimeLayout, value)
	if err != nil {
		return time.Now()
	}
	return t
}

// get issues a GET to {base}/{version}/{path} with the access token as a
// query parameter and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path, accessToken string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.version, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	return c.breaker.Do(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d: %s", resp.StatusCode, readAPIError(resp.Body))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// post issues a JSON POST to {base}/{version}/{path} with the access token
// as a query parameter, the way the Graph API expects page-scoped calls.
func (c *Client) post(ctx context.Context, path, accessToken string, query url.Values, payload interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.version, path, query.Encode())

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	err = c.breaker.Do(func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("status %d: %s", resp.StatusCode, readAPIError(resp.Body))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// readAPIError extracts the Graph API error message, falling back to the
// raw body when the envelope does not parse.
func readAPIError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "unreadable response body"
	}
	var e apiError
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(raw)
}
