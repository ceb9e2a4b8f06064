// Package outbox implements optimistic sends: a message becomes visible
// locally the moment it is queued, and is later reconciled with the
// server's authoritative copy or flagged as failed for an explicit retry.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fetmsg/internal/auth"
	"fetmsg/internal/bus"
	"fetmsg/internal/store"
	"fetmsg/internal/sync"
)

// ErrEmptyBody rejects a send before any network call.
var ErrEmptyBody = errors.New("message body is empty")

// Poster abstracts the create-message API call.
type Poster interface {
	CreateMessage(ctx context.Context, conversationID string, body string) (json.RawMessage, error)
}

// Ack is the payload of a send.ack event.
type Ack struct {
	ClientMsgID    string
	ServerMsgID    string
	ConversationID string
}

// Failure is the payload of a send.failed event.
type Failure struct {
	ClientMsgID    string
	ConversationID string
	Reason         string
}

// Coordinator queues optimistic sends and drains them in the background.
// Queued entries that never reached the server resume after a restart;
// failed entries wait for Retry.
type Coordinator struct {
	db     *store.DB
	poster Poster
	auth   *auth.Session
	bus    *bus.Bus
	logger *zap.Logger

	wake   chan struct{}
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator.
func NewCoordinator(db *store.DB, poster Poster, session *auth.Session, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:     db,
		poster: poster,
		auth:   session,
		bus:    b,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Start begins draining the outbox until Stop or context cancellation.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Stop stops the drain loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Send creates a local placeholder message with a generated id, makes it
// visible to subscribers in the same transaction that queues the outbox
// entry, and returns the placeholder id immediately. The actual network
// send happens asynchronously.
func (c *Coordinator) Send(_ context.Context, conversationID, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}

	id := "pending-" + uuid.NewString()
	identity, _ := c.auth.Identity()
	msg := store.Message{
		ID:             id,
		ConversationID: conversationID,
		Body:           body,
		CreatedAt:      time.Now().UnixMilli(),
		MemberID:       identity.MemberID,
		MemberNickname: identity.Nickname,
		SendState:      store.SendStatePending,
	}
	entry := store.OutboxEntry{
		ClientMsgID:    id,
		ConversationID: conversationID,
		Body:           body,
	}
	if err := c.db.Apply(&store.Batch{
		Messages: []store.Message{msg},
		Outbox:   []store.OutboxEntry{entry},
	}); err != nil {
		return "", fmt.Errorf("queue send: %w", err)
	}

	c.kick()
	return id, nil
}

// Retry re-queues a failed send. This is the only retry path; the
// coordinator never retries on its own.
func (c *Coordinator) Retry(clientMsgID string) error {
	entry, err := c.db.GetOutboxEntry(clientMsgID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("unknown send %q", clientMsgID)
	}
	if entry.Status != store.OutboxFailed {
		return fmt.Errorf("send %q is %s, not failed", clientMsgID, entry.Status)
	}
	if err := c.db.RequeueOutbox(clientMsgID); err != nil {
		return fmt.Errorf("requeue send: %w", err)
	}
	c.kick()
	return nil
}

func (c *Coordinator) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	// The ticker picks up entries queued before the loop started, e.g.
	// sends left behind by a crash.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.wake:
			c.drain(ctx)
		case <-ticker.C:
			c.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) drain(ctx context.Context) {
	pending, err := c.db.PendingOutbox()
	if err != nil {
		c.logger.Error("cannot read outbox", zap.Error(err))
		return
	}
	for _, entry := range pending {
		c.submit(ctx, entry)
	}
}

func (c *Coordinator) submit(ctx context.Context, entry store.OutboxEntry) {
	epoch := c.auth.Epoch()
	if err := c.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		c.logger.Error("cannot mark outbox sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	raw, err := c.poster.CreateMessage(ctx, entry.ConversationID, entry.Body)
	if err != nil {
		c.recordFailure(entry, err)
		return
	}

	msg, err := sync.DecodeMessage(raw, entry.ConversationID)
	if err != nil {
		c.recordFailure(entry, err)
		return
	}

	if c.auth.Epoch() != epoch {
		// Logged out while the request was in flight; the replica was
		// reset and the echo must not be merged.
		c.logger.Info("discarding send ack from closed session", zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	if err := c.db.ReplaceMessage(entry.ClientMsgID, msg); err != nil {
		c.recordFailure(entry, err)
		return
	}

	c.logger.Info("message sent",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("server_msg_id", msg.ID))
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindSendAck,
			Timestamp: time.Now(),
			Payload: Ack{
				ClientMsgID:    entry.ClientMsgID,
				ServerMsgID:    msg.ID,
				ConversationID: entry.ConversationID,
			},
		})
	}
}

// recordFailure keeps the placeholder visible with a failure flag; it is
// never dropped and never retried without an explicit caller action.
func (c *Coordinator) recordFailure(entry store.OutboxEntry, cause error) {
	c.logger.Error("send failed",
		zap.Error(cause),
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("conversation_id", entry.ConversationID))
	if err := c.db.MarkSendFailed(entry.ClientMsgID, entry.ConversationID, cause.Error()); err != nil {
		c.logger.Error("cannot record send failure", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: time.Now(),
			Payload: Failure{
				ClientMsgID:    entry.ClientMsgID,
				ConversationID: entry.ConversationID,
				Reason:         cause.Error(),
			},
		})
	}
}
