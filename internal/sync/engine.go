// Package sync orchestrates fetch-and-merge cycles against the messaging
// API: page fetch, decode, epoch check, transactional merge into the local
// store. It never retries; the caller decides whether to re-invoke.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fetmsg/internal/api"
	"fetmsg/internal/auth"
	"fetmsg/internal/bus"
	"fetmsg/internal/status"
	"fetmsg/internal/store"
)

const (
	conversationPageSize = 100
	conversationOrder    = "-updated_at"
	messagePageSize      = 50

	checkpointConversations = "conversations.synced_at"
)

// Engine coordinates sync operations. Message syncs for the same
// conversation are deduplicated: a call made while one is in flight joins
// it instead of racing the cursor.
type Engine struct {
	db      *store.DB
	api     *api.Client
	auth    *auth.Session
	bus     *bus.Bus
	tracker *status.Tracker
	logger  *zap.Logger

	flights singleflight.Group
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, apiClient *api.Client, session *auth.Session, b *bus.Bus, tracker *status.Tracker, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		api:     apiClient,
		auth:    session,
		bus:     b,
		tracker: tracker,
		logger:  logger,
	}
}

// SyncConversations fetches one page of the conversation list (archived
// included, most recently updated first) and merges it in one transaction.
// An empty response is a valid steady state: success, no writes.
func (e *Engine) SyncConversations(ctx context.Context) error {
	_, err, _ := e.flights.Do("conversations", func() (any, error) {
		return nil, e.syncConversations(ctx)
	})
	return err
}

func (e *Engine) syncConversations(ctx context.Context) error {
	const op = "conversations"
	epoch := e.auth.Epoch()
	_ = e.tracker.Transition(op, status.Requesting)

	raw, err := e.api.ListConversations(ctx, conversationPageSize, conversationOrder, true)
	if err != nil {
		return e.fail(op, err)
	}
	convs, members, err := decodeConversations(raw)
	if err != nil {
		return e.fail(op, &DecodeError{Cause: err})
	}

	_ = e.tracker.Transition(op, status.Merging)
	if e.auth.Epoch() != epoch {
		return e.discard(op)
	}
	if len(convs) > 0 {
		if err := e.db.Apply(&store.Batch{Members: members, Conversations: convs}); err != nil {
			return e.fail(op, &StorageError{Cause: err})
		}
	}
	if err := e.db.SetCheckpoint(checkpointConversations, time.Now().UTC().Format(time.RFC3339)); err != nil {
		e.logger.Warn("cannot record sync checkpoint", zap.Error(err))
	}

	e.finish(op)
	e.logger.Info("conversations synced", zap.Int("count", len(convs)))
	return nil
}

// SyncMessages fetches one page of messages for a conversation, using the
// newest synced local message as the incremental cursor, and merges the
// batch. One page per call; a full page is not followed up automatically.
func (e *Engine) SyncMessages(ctx context.Context, conversationID string) error {
	op := "messages/" + conversationID
	_, err, _ := e.flights.Do(op, func() (any, error) {
		return nil, e.syncMessages(ctx, conversationID, op)
	})
	return err
}

func (e *Engine) syncMessages(ctx context.Context, conversationID, op string) error {
	epoch := e.auth.Epoch()
	_ = e.tracker.Transition(op, status.Requesting)

	newest, err := e.db.NewestSyncedMessage(conversationID)
	if err != nil {
		return e.fail(op, &StorageError{Cause: err})
	}
	var cursor *api.Cursor
	if newest != nil {
		cursor = &api.Cursor{
			Since:   newest.CreatedAt / 1000,
			SinceID: newest.ID,
		}
	}

	raw, err := e.api.ListMessages(ctx, conversationID, messagePageSize, cursor)
	if err != nil {
		return e.fail(op, err)
	}
	msgs, err := decodeMessages(raw, conversationID)
	if err != nil {
		return e.fail(op, &DecodeError{Cause: err})
	}

	_ = e.tracker.Transition(op, status.Merging)
	if e.auth.Epoch() != epoch {
		return e.discard(op)
	}
	if len(msgs) > 0 {
		if err := e.db.Apply(&store.Batch{Messages: msgs}); err != nil {
			return e.fail(op, &StorageError{Cause: err})
		}
	}

	e.finish(op)
	e.logger.Info("messages synced",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(msgs)),
		zap.Bool("incremental", cursor != nil))
	return nil
}

// ArchiveConversation asks the server to archive a conversation and merges
// the authoritative copy it returns; the local flag is never flipped
// speculatively.
func (e *Engine) ArchiveConversation(ctx context.Context, conversationID string) error {
	op := "archive/" + conversationID
	epoch := e.auth.Epoch()
	_ = e.tracker.Transition(op, status.Requesting)

	raw, err := e.api.UpdateConversation(ctx, conversationID, map[string]any{"is_archived": true})
	if err != nil {
		return e.fail(op, err)
	}
	conv, member, err := decodeConversation(raw)
	if err != nil {
		return e.fail(op, &DecodeError{Cause: err})
	}

	_ = e.tracker.Transition(op, status.Merging)
	if e.auth.Epoch() != epoch {
		return e.discard(op)
	}
	if err := e.db.Apply(&store.Batch{
		Members:       []store.Member{member},
		Conversations: []store.Conversation{conv},
	}); err != nil {
		return e.fail(op, &StorageError{Cause: err})
	}

	e.finish(op)
	e.logger.Info("conversation archived", zap.String("conversation_id", conversationID))
	return nil
}

// MarkRead reports messages as read and clears the conversation's unread
// flag only after the server confirms. A failure leaves the flag untouched
// and surfaces to the caller; there is no internal retry.
func (e *Engine) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	op := "markread/" + conversationID
	epoch := e.auth.Epoch()
	_ = e.tracker.Transition(op, status.Requesting)

	if err := e.api.MarkMessagesRead(ctx, conversationID, messageIDs); err != nil {
		return e.fail(op, err)
	}

	_ = e.tracker.Transition(op, status.Merging)
	if e.auth.Epoch() != epoch {
		return e.discard(op)
	}
	if err := e.db.MarkConversationRead(conversationID, messageIDs); err != nil {
		return e.fail(op, &StorageError{Cause: err})
	}

	e.finish(op)
	return nil
}

func (e *Engine) finish(op string) {
	_ = e.tracker.Transition(op, status.Idle)
	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: bus.KindSyncCompleted, Timestamp: time.Now(), Payload: op})
	}
}

func (e *Engine) fail(op string, err error) error {
	_ = e.tracker.Transition(op, status.Failed)
	_ = e.tracker.Transition(op, status.Idle)
	e.logger.Error("sync operation failed", zap.String("op", op), zap.Error(err))
	return err
}

// discard drops a result that arrived after logout.
func (e *Engine) discard(op string) error {
	_ = e.tracker.Transition(op, status.Idle)
	e.logger.Info("discarding result from closed session", zap.String("op", op))
	return ErrSessionClosed
}
