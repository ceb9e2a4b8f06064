// Package client is the surface consumed by callers of the engine (a UI,
// the CLI, the daemon scheduler): commands in, ordered change-set
// subscriptions out.
package client

import (
	"context"

	"go.uber.org/zap"

	"fetmsg/internal/auth"
	"fetmsg/internal/bus"
	"fetmsg/internal/live"
	"fetmsg/internal/outbox"
	"fetmsg/internal/store"
	"fetmsg/internal/sync"
)

// Client bundles the engine's components behind one handle. It holds no
// state of its own.
type Client struct {
	db     *store.DB
	auth   *auth.Session
	engine *sync.Engine
	sender *outbox.Coordinator
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a facade over explicitly constructed components.
func New(db *store.DB, session *auth.Session, engine *sync.Engine, sender *outbox.Coordinator, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		db:     db,
		auth:   session,
		engine: engine,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// IsAuthorized reports whether a non-expired access token is present.
func (c *Client) IsAuthorized() bool {
	return c.auth.IsAuthorized()
}

// Identity returns the authenticated member, when the token decodes.
func (c *Client) Identity() (auth.Identity, bool) {
	return c.auth.Identity()
}

// AuthCodeURL returns the URL to visit for the code grant.
func (c *Client) AuthCodeURL(state string) string {
	return c.auth.AuthCodeURL(state)
}

// ExchangeCode completes the code grant and stores the token.
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	return c.auth.ExchangeCode(ctx, code)
}

// SyncConversations refreshes the conversation list.
func (c *Client) SyncConversations(ctx context.Context) error {
	return c.engine.SyncConversations(ctx)
}

// SyncMessages refreshes one conversation's messages incrementally.
func (c *Client) SyncMessages(ctx context.Context, conversationID string) error {
	return c.engine.SyncMessages(ctx, conversationID)
}

// ArchiveConversation archives a conversation server-side and merges the
// server's copy.
func (c *Client) ArchiveConversation(ctx context.Context, conversationID string) error {
	return c.engine.ArchiveConversation(ctx, conversationID)
}

// MarkRead reports the given messages as read.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	return c.engine.MarkRead(ctx, conversationID, messageIDs)
}

// MarkAllRead reports every locally known unread message of a
// conversation as read.
func (c *Client) MarkAllRead(ctx context.Context, conversationID string) error {
	ids, err := c.db.NewMessageIDs(conversationID)
	if err != nil {
		return err
	}
	return c.engine.MarkRead(ctx, conversationID, ids)
}

// Send queues an optimistic message and returns its placeholder id.
func (c *Client) Send(ctx context.Context, conversationID, body string) (string, error) {
	return c.sender.Send(ctx, conversationID, body)
}

// RetrySend re-queues a failed send.
func (c *Client) RetrySend(clientMsgID string) error {
	return c.sender.Retry(clientMsgID)
}

// Conversations subscribes to the unarchived conversation list.
func (c *Client) Conversations() (*live.Watcher[store.Conversation], error) {
	return live.Conversations(c.db, c.logger)
}

// Messages subscribes to one conversation's thread.
func (c *Client) Messages(conversationID string) (*live.Watcher[store.Message], error) {
	return live.Messages(c.db, conversationID, c.logger)
}

// ListConversations reads the current conversation list once.
func (c *Client) ListConversations(includeArchived bool) ([]store.Conversation, error) {
	return c.db.ListConversations(includeArchived)
}

// ListMessages reads a conversation's messages once, newest first.
func (c *Client) ListMessages(conversationID string, limit int) ([]store.Message, error) {
	return c.db.ListMessages(conversationID, limit)
}

// SearchMessages runs a full-text search over message bodies.
func (c *Client) SearchMessages(query, conversationID string, limit int) ([]store.SearchResult, error) {
	return c.db.SearchMessages(query, conversationID, limit)
}

// Events subscribes to engine events by kind prefix.
func (c *Client) Events(prefix string, bufSize int) (<-chan bus.Event, func()) {
	return c.bus.Subscribe(prefix, bufSize)
}

// Logout discards token material and wipes the local replica.
func (c *Client) Logout() error {
	c.auth.Logout()
	return c.db.Reset()
}
