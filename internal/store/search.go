package store

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_id, m.body, m.created_at, m.member_id,
		       m.member_nickname, m.is_new, m.send_state,
		       snippet(messages_fts, '<<', '>>', '...', 0, 32)
		FROM messages_fts f
		JOIN messages m ON m.rowid = f.docid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.Body,
			&r.Message.CreatedAt, &r.Message.MemberID, &r.Message.MemberNickname,
			&r.Message.IsNew, &r.Message.SendState, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
