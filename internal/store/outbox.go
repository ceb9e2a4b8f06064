package store

import (
	"database/sql"
	"time"
)

const outboxColumns = `id, client_msg_id, conversation_id, body, status, error_message, server_msg_id`

// MarkOutboxSending transitions an entry to 'sending'. This is a
// bookkeeping write on the queue only; no entity set changes, so no
// change notification fires.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE client_msg_id = ?`,
		OutboxSending, time.Now().UnixMilli(), clientMsgID)
	return err
}

// RequeueOutbox puts a failed entry back in the queue and returns its
// placeholder to the pending state. Used by the explicit retry path only.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	entry, err := db.GetOutboxEntry(clientMsgID)
	if err != nil {
		return err
	}
	if entry == nil {
		return sql.ErrNoRows
	}
	summary := ChangeSummary{MessageConversations: []string{entry.ConversationID}}
	return db.commit(summary, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE outbox SET status = ?, error_message = '', updated_at = ?
			WHERE client_msg_id = ?`,
			OutboxQueued, time.Now().UnixMilli(), clientMsgID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE messages SET send_state = ? WHERE id = ?`, SendStatePending, clientMsgID)
		return err
	})
}

// PendingOutbox returns entries waiting to be sent, oldest first. Failed
// entries are not included; they wait for an explicit retry.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT ` + outboxColumns + ` FROM outbox
		WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutboxEntry returns an entry by its client message id, or nil.
func (db *DB) GetOutboxEntry(clientMsgID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`SELECT `+outboxColumns+` FROM outbox WHERE client_msg_id = ?`, clientMsgID).
		Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
