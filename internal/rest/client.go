// Package rest is the HTTP collaborator client for the handful of calls the
// core issues around the socket: conversation list, message pages, conversation
// creation and user search.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chatcore/internal/model"
)

const defaultTimeout = 30 * time.Second

// Client talks to the messaging backend's REST surface with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken updates the bearer token after a refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// MessagesPage is one page of a conversation's history, oldest first, with
// the cursor for the next (older) page.
type MessagesPage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor"`
	HasMore    bool            `json:"hasMore"`
}

// GetConversations fetches the caller's conversation list.
func (c *Client) GetConversations(ctx context.Context) ([]model.Conversation, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Conversation
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

// GetMessages fetches one history page. limit <= 0 leaves the server default;
// an empty cursor fetches the newest page.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int, cursor string) (MessagesPage, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if cursor != "" {
		query["cursor"] = cursor
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, query)
	if err != nil {
		return MessagesPage{}, err
	}
	var page MessagesPage
	if err := json.Unmarshal(body, &page); err != nil {
		return MessagesPage{}, fmt.Errorf("decode messages page: %w", err)
	}
	return page, nil
}

// CreateConversation creates a direct or group conversation.
func (c *Client) CreateConversation(ctx context.Context, participantIDs []string, kind model.ConversationKind, name string) (model.Conversation, error) {
	req := struct {
		ParticipantIDs []string               `json:"participantIds"`
		Type           model.ConversationKind `json:"type"`
		Name           string                 `json:"name,omitempty"`
	}{ParticipantIDs: participantIDs, Type: kind, Name: name}

	body, err := c.doRequest(ctx, http.MethodPost, "/conversations", req, nil)
	if err != nil {
		return model.Conversation{}, err
	}
	var conv model.Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return model.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return conv, nil
}

// SearchUsers looks up users by name fragment.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/users/search", nil, map[string]string{"q": query})
	if err != nil {
		return nil, err
	}
	var out []model.User
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
