package live

import (
	"slices"

	"go.uber.org/zap"

	"fetmsg/internal/store"
)

// messageWindow bounds how many messages a thread view keeps live.
const messageWindow = 200

// Conversations watches the inbox view: unarchived conversations ordered
// by newest cached message, descending.
func Conversations(db *store.DB, logger *zap.Logger) (*Watcher[store.Conversation], error) {
	return Watch(db,
		func() ([]store.Conversation, error) { return db.ListConversations(false) },
		func(c store.Conversation) string { return c.ID },
		func(s store.ChangeSummary) bool { return s.Reset || s.Conversations },
		logger,
	)
}

// Messages watches a single conversation's thread, newest first,
// optimistic placeholders included.
func Messages(db *store.DB, conversationID string, logger *zap.Logger) (*Watcher[store.Message], error) {
	return Watch(db,
		func() ([]store.Message, error) { return db.ListMessages(conversationID, messageWindow) },
		func(m store.Message) string { return m.ID },
		func(s store.ChangeSummary) bool {
			return s.Reset || slices.Contains(s.MessageConversations, conversationID)
		},
		logger,
	)
}
