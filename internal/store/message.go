package store

import (
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, conversation_id, body, created_at, member_id, member_nickname, is_new, send_state`

func scanMessage(s interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.ConversationID, &m.Body, &m.CreatedAt, &m.MemberID, &m.MemberNickname, &m.IsNew, &m.SendState)
	return m, err
}

// ListMessages returns messages for a conversation, newest first, ids
// breaking ties.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NewestSyncedMessage returns the newest server-confirmed message for a
// conversation, or nil if none exist. Optimistic pending and failed
// messages are skipped; their ids and timestamps are local inventions and
// must never feed the incremental-fetch cursor.
func (db *DB) NewestSyncedMessage(conversationID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND send_state = ''
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, conversationID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NewMessageIDs returns the ids of unread messages in a conversation.
// Optimistic writes are excluded from unread accounting.
func (db *DB) NewMessageIDs(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT id FROM messages
		WHERE conversation_id = ? AND is_new = 1 AND send_state = ''
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReplaceMessage swaps an optimistic placeholder for the authoritative
// server copy in one transaction: the placeholder row is removed, the
// server message upserted (refreshing the conversation's denormalized
// fields) and the matching outbox entry acknowledged.
func (db *DB) ReplaceMessage(placeholderID string, m Message) error {
	m.SendState = SendStateSynced
	summary := ChangeSummary{
		Conversations:        true,
		MessageConversations: []string{m.ConversationID},
	}
	return db.commit(summary, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, placeholderID); err != nil {
			return fmt.Errorf("remove placeholder %q: %w", placeholderID, err)
		}
		if err := upsertMessage(tx, m); err != nil {
			return fmt.Errorf("upsert confirmed message %q: %w", m.ID, err)
		}
		_, err := tx.Exec(`
			UPDATE outbox SET status = ?, server_msg_id = ?, updated_at = ?
			WHERE client_msg_id = ?`,
			OutboxSent, m.ID, time.Now().UnixMilli(), placeholderID)
		return err
	})
}

// MarkSendFailed flags an optimistic placeholder as failed and records the
// error on its outbox entry. The placeholder stays visible for the caller
// to surface and retry; it is never silently dropped.
func (db *DB) MarkSendFailed(placeholderID, conversationID, errMsg string) error {
	summary := ChangeSummary{MessageConversations: []string{conversationID}}
	return db.commit(summary, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE messages SET send_state = ? WHERE id = ?`, SendStateFailed, placeholderID); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE outbox SET status = ?, error_message = ? WHERE client_msg_id = ?`,
			OutboxFailed, errMsg, placeholderID)
		return err
	})
}
