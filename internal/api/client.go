// Package api builds bearer-authenticated requests against the messaging
// API's fixed endpoint set and maps transport and HTTP outcomes into typed
// errors. It returns raw JSON bodies; payload interpretation belongs to
// the sync engine.
package api

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

	"go.uber.org/zap"

	"fetmsg/internal/auth"
)

// Cursor identifies the newest locally stored message of a conversation;
// the server returns only records strictly after (Since, SinceID).
type Cursor struct {
	Since   int64 // unix seconds
	SinceID string
}

// Client issues requests against a fixed base URL. It never retries and
// never looks inside response payloads.
type Client struct {
	base   string
	http   *http.Client
	auth   *auth.Session
	logger *zap.Logger
}

// New creates a client sharing the session's cookie jar, so logout clears
// transport state for it too.
func New(baseURL string, session *auth.Session, logger *zap.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     session.Jar(),
		},
		auth:   session,
		logger: logger,
	}
}

// ListConversations fetches the conversation list.
func (c *Client) ListConversations(ctx context.Context, limit int, order string, withArchived bool) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("order", order)
	q.Set("with_archived", strconv.FormatBool(withArchived))
	return c.do(ctx, http.MethodGet, "/v2/me/conversations", q, nil)
}

// UpdateConversation updates fields of a conversation and returns the
// server's authoritative copy.
func (c *Client) UpdateConversation(ctx context.Context, id string, fields map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/v2/me/conversations/"+url.PathEscape(id), nil, fields)
}

// ListMessages fetches a page of messages. A nil cursor requests the full
// initial page.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, cursor *Cursor) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != nil {
		q.Set("since", strconv.FormatInt(cursor.Since, 10))
		q.Set("since_id", cursor.SinceID)
	}
	return c.do(ctx, http.MethodGet, "/v2/me/conversations/"+url.PathEscape(conversationID)+"/messages", q, nil)
}

// CreateMessage posts a new message and returns the server's copy.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, body string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/v2/me/conversations/"+url.PathEscape(conversationID)+"/messages",
		nil, map[string]any{"body": body})
}

// MarkMessagesRead asks the server to mark the given messages read.
func (c *Client) MarkMessagesRead(ctx context.Context, conversationID string, ids []string) error {
	_, err := c.do(ctx, http.MethodPut, "/v2/me/conversations/"+url.PathEscape(conversationID)+"/messages/read",
		nil, map[string]any{"ids": ids})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	tok, ok := c.auth.Token()
	if !ok || !tok.Valid() {
		return nil, ErrNotAuthorized
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotAuthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if c.logger != nil {
			c.logger.Debug("request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode))
		}
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	return data, nil
}
