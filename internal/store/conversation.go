package store

import "database/sql"

// ListConversations returns conversations ordered by the newest cached
// message, descending, ids breaking ties. Archived conversations are
// included only when asked for.
func (db *DB) ListConversations(includeArchived bool) ([]Conversation, error) {
	q := `
		SELECT id, updated_at, member_id, has_new_messages, is_archived, last_message_body, last_message_created
		FROM conversations`
	if !includeArchived {
		q += ` WHERE is_archived = 0`
	}
	q += ` ORDER BY last_message_created DESC, id DESC`

	rows, err := db.Query(q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UpdatedAt, &c.MemberID, &c.HasNewMessages, &c.IsArchived, &c.LastMessageBody, &c.LastMessageCreated); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, updated_at, member_id, has_new_messages, is_archived, last_message_body, last_message_created
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.UpdatedAt, &c.MemberID, &c.HasNewMessages, &c.IsArchived, &c.LastMessageBody, &c.LastMessageCreated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkConversationRead clears the server-owned unread flag and the is_new
// flag of the acknowledged messages. Callers must only invoke this after
// the server confirmed the mark-read call.
func (db *DB) MarkConversationRead(id string, messageIDs []string) error {
	summary := ChangeSummary{Conversations: true}
	if len(messageIDs) > 0 {
		summary.MessageConversations = []string{id}
	}
	return db.commit(summary, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE conversations SET has_new_messages = 0 WHERE id = ?`, id); err != nil {
			return err
		}
		for _, msgID := range messageIDs {
			if _, err := tx.Exec(`UPDATE messages SET is_new = 0 WHERE id = ?`, msgID); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMember returns a member by id, or nil if absent.
func (db *DB) GetMember(id string) (*Member, error) {
	var m Member
	err := db.QueryRow(`SELECT id, nickname, meta_line, avatar_url FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.Nickname, &m.MetaLine, &m.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
