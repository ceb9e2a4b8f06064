package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Batch groups entity upserts that must land in a single transaction,
// e.g. a page of conversations with their members, or an optimistic
// message together with its outbox row. Each entity replaces any existing
// record with the same primary key; records not in the batch are untouched.
type Batch struct {
	Members       []Member
	Conversations []Conversation
	Messages      []Message
	Outbox        []OutboxEntry
}

func (b *Batch) empty() bool {
	return len(b.Members) == 0 && len(b.Conversations) == 0 &&
		len(b.Messages) == 0 && len(b.Outbox) == 0
}

func (b *Batch) summary() ChangeSummary {
	s := ChangeSummary{}
	if len(b.Members) > 0 || len(b.Conversations) > 0 {
		s.Conversations = true
	}
	seen := make(map[string]bool)
	for _, m := range b.Messages {
		if m.SendState == SendStateSynced {
			// Synced messages refresh conversation denormalized fields.
			s.Conversations = true
		}
		if !seen[m.ConversationID] {
			seen[m.ConversationID] = true
			s.MessageConversations = append(s.MessageConversations, m.ConversationID)
		}
	}
	return s
}

// Apply upserts the whole batch in one transaction and notifies
// subscribers once. An empty batch is a no-op and fires no notification.
func (db *DB) Apply(b *Batch) error {
	if b == nil || b.empty() {
		return nil
	}
	return db.commit(b.summary(), func(tx *sql.Tx) error {
		for _, m := range b.Members {
			if err := upsertMember(tx, m); err != nil {
				return fmt.Errorf("upsert member %q: %w", m.ID, err)
			}
		}
		for _, c := range b.Conversations {
			if err := upsertConversation(tx, c); err != nil {
				return fmt.Errorf("upsert conversation %q: %w", c.ID, err)
			}
		}
		for _, m := range b.Messages {
			if err := upsertMessage(tx, m); err != nil {
				return fmt.Errorf("upsert message %q: %w", m.ID, err)
			}
		}
		for _, e := range b.Outbox {
			if err := insertOutbox(tx, e); err != nil {
				return fmt.Errorf("queue outbox %q: %w", e.ClientMsgID, err)
			}
		}
		return nil
	})
}

func upsertMember(tx *sql.Tx, m Member) error {
	_, err := tx.Exec(`
		INSERT INTO members (id, nickname, meta_line, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nickname = excluded.nickname,
			meta_line = excluded.meta_line,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
		m.ID, m.Nickname, m.MetaLine, m.AvatarURL, time.Now().UnixMilli())
	return err
}

func upsertConversation(tx *sql.Tx, c Conversation) error {
	_, err := tx.Exec(`
		INSERT INTO conversations (id, updated_at, member_id, has_new_messages, is_archived, last_message_body, last_message_created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			member_id = excluded.member_id,
			has_new_messages = excluded.has_new_messages,
			is_archived = excluded.is_archived,
			last_message_body = excluded.last_message_body,
			last_message_created = excluded.last_message_created`,
		c.ID, c.UpdatedAt, c.MemberID, c.HasNewMessages, c.IsArchived, c.LastMessageBody, c.LastMessageCreated)
	return err
}

// upsertMessage replaces any record with the same id (last-fetch-wins) and,
// for synced messages newer than the parent's cached last message,
// refreshes the conversation's denormalized fields. A missing parent row is
// tolerated; the message may have arrived ahead of its conversation.
func upsertMessage(tx *sql.Tx, m Message) error {
	_, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, body, created_at, member_id, member_nickname, is_new, send_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			body = excluded.body,
			created_at = excluded.created_at,
			member_id = excluded.member_id,
			member_nickname = excluded.member_nickname,
			is_new = excluded.is_new,
			send_state = excluded.send_state`,
		m.ID, m.ConversationID, m.Body, m.CreatedAt, m.MemberID, m.MemberNickname, m.IsNew, m.SendState)
	if err != nil {
		return err
	}
	if m.SendState != SendStateSynced {
		return nil
	}
	_, err = tx.Exec(`
		UPDATE conversations SET last_message_body = ?, last_message_created = ?
		WHERE id = ? AND last_message_created <= ?`,
		m.Body, m.CreatedAt, m.ConversationID, m.CreatedAt)
	return err
}

func insertOutbox(tx *sql.Tx, e OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := tx.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ClientMsgID, e.ConversationID, e.Body, OutboxQueued, now, now)
	return err
}
