// Package client is the REST client for the communication backend. It is
// a thin typed layer: no retries, no dedup; reconciliation is the
// caller's job.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"convsync/pkg/logger"
	"convsync/pkg/models"
)

// Client talks to the backend REST API. Construct with New; the zero
// value is not usable.
type Client struct {
	base      *url.URL
	http      *http.Client
	token     string
	maxUpload int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithMaxUpload sets the client-side upload ceiling in bytes.
func WithMaxUpload(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxUpload = n
		}
	}
}

// New creates a Client for the given base URL, e.g. "https://host".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 30 * time.Second},
		maxUpload: 5 * 1024 * 1024,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out when non-nil. Request bodies are encoded through a
// pooled buffer.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf.B)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Debug("api_error", "method", method, "path", path, "status", resp.StatusCode)
		return statusError(resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// FetchMessages requests one page of messages for a conversation. The
// server delivers a flat, newest-first list. Paging always restarts from
// page zero with a larger size; there is no cursor.
func (c *Client) FetchMessages(ctx context.Context, conversationID int64, size int) ([]models.Message, error) {
	if size <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", size)
	}
	path := fmt.Sprintf("/api/conversations/%d/messages?page=0&size=%d", conversationID, size)
	var out []models.Message
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListConversations returns the conversation directory for the current
// user.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = out[i].Type.Normalize()
	}
	return out, nil
}

// SendMessage creates a new top-level post and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string) (models.Message, error) {
	var out models.Message
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": content}, &out)
	return out, err
}

// SendAnswer creates a threaded reply under the given post.
func (c *Client) SendAnswer(ctx context.Context, postID int64, content string) (models.AnswerMessage, error) {
	var out models.AnswerMessage
	path := fmt.Sprintf("/api/messages/%d/answers", postID)
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"content": content}, &out)
	return out, err
}

// EditMessage replaces a post's content.
func (c *Client) EditMessage(ctx context.Context, messageID int64, content string) (models.Message, error) {
	var out models.Message
	path := "/api/messages/" + strconv.FormatInt(messageID, 10)
	err := c.doJSON(ctx, http.MethodPut, path, map[string]string{"content": content}, &out)
	return out, err
}

// DeleteMessage removes a post.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := "/api/messages/" + strconv.FormatInt(messageID, 10)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// AddReaction attaches an emoji reaction to a post.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emojiID string) (models.Reaction, error) {
	var out models.Reaction
	path := fmt.Sprintf("/api/messages/%d/reactions", messageID)
	err := c.doJSON(ctx, http.MethodPost, path, map[string]string{"emojiId": emojiID}, &out)
	return out, err
}

// RemoveReaction deletes a reaction by its ID.
func (c *Client) RemoveReaction(ctx context.Context, reactionID int64) error {
	path := "/api/reactions/" + strconv.FormatInt(reactionID, 10)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}
