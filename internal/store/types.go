package store

// Send states for a message. A synced message is the authoritative server
// copy; pending and failed messages are client-local optimistic writes
// that have not been confirmed. The state is never sent to the server.
const (
	SendStateSynced  = ""
	SendStatePending = "pending"
	SendStateFailed  = "failed"
)

// Outbox entry statuses.
const (
	OutboxQueued  = "queued"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// Member is the profile referenced by a conversation.
type Member struct {
	ID        string
	Nickname  string
	MetaLine  string
	AvatarURL string
}

// Conversation is a synced conversation. LastMessageBody and
// LastMessageCreated cache the newest synced message for list display.
type Conversation struct {
	ID                 string
	UpdatedAt          int64
	MemberID           string
	HasNewMessages     bool
	IsArchived         bool
	LastMessageBody    string
	LastMessageCreated int64
}

// Message is a synced or optimistic message. Timestamps are unix
// milliseconds.
type Message struct {
	ID             string
	ConversationID string
	Body           string
	CreatedAt      int64
	MemberID       string
	MemberNickname string
	IsNew          bool
	SendState      string
}

// Sending reports whether the message is an unconfirmed optimistic write.
func (m Message) Sending() bool {
	return m.SendState == SendStatePending
}

// OutboxEntry is a durable record of an outgoing send.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string
	ErrorMessage   string
	ServerMsgID    string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
