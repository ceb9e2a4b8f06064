package sync

import (
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"fetmsg/internal/store"
)

// defaultAvatarURL stands in when a member payload carries no avatar.
const defaultAvatarURL = "https://flassets.a.ssl.fastly.net/images/avatar_missing_200x200.gif"

var stripPolicy = bluemonday.StrictPolicy()

// CleanBody normalizes a server message body for storage: entities are
// decoded first so encoded markup cannot survive decoding, then markup is
// stripped. The final unescape undoes the entity re-encoding the
// sanitizer applies to its text output.
func CleanBody(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(html.UnescapeString(s)))
}

type memberPayload struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	MetaLine string `json:"meta_line"`
	Avatar   *struct {
		Variants struct {
			Medium string `json:"medium"`
		} `json:"variants"`
	} `json:"avatar"`
}

func (p memberPayload) toStore() store.Member {
	avatar := defaultAvatarURL
	if p.Avatar != nil && p.Avatar.Variants.Medium != "" {
		avatar = p.Avatar.Variants.Medium
	}
	return store.Member{
		ID:        p.ID,
		Nickname:  p.Nickname,
		MetaLine:  p.MetaLine,
		AvatarURL: avatar,
	}
}

type conversationPayload struct {
	ID             string        `json:"id"`
	UpdatedAt      string        `json:"updated_at"`
	Member         memberPayload `json:"member"`
	HasNewMessages bool          `json:"has_new_messages"`
	IsArchived     bool          `json:"is_archived"`
	LastMessage    *struct {
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	} `json:"last_message"`
}

func (p conversationPayload) toStore() (store.Conversation, store.Member, error) {
	if p.ID == "" {
		return store.Conversation{}, store.Member{}, fmt.Errorf("conversation payload without id")
	}
	updatedAt, err := parseTime(p.UpdatedAt)
	if err != nil {
		return store.Conversation{}, store.Member{}, fmt.Errorf("conversation %q updated_at: %w", p.ID, err)
	}

	c := store.Conversation{
		ID:             p.ID,
		UpdatedAt:      updatedAt,
		MemberID:       p.Member.ID,
		HasNewMessages: p.HasNewMessages,
		IsArchived:     p.IsArchived,
	}
	if p.LastMessage != nil {
		created, err := parseTime(p.LastMessage.CreatedAt)
		if err != nil {
			return store.Conversation{}, store.Member{}, fmt.Errorf("conversation %q last_message.created_at: %w", p.ID, err)
		}
		c.LastMessageBody = CleanBody(p.LastMessage.Body)
		c.LastMessageCreated = created
	}
	return c, p.Member.toStore(), nil
}

type messagePayload struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
	Member    struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
	} `json:"member"`
	IsNew bool `json:"is_new"`
}

func (p messagePayload) toStore(conversationID string) (store.Message, error) {
	if p.ID == "" {
		return store.Message{}, fmt.Errorf("message payload without id")
	}
	createdAt, err := parseTime(p.CreatedAt)
	if err != nil {
		return store.Message{}, fmt.Errorf("message %q created_at: %w", p.ID, err)
	}
	return store.Message{
		ID:             p.ID,
		ConversationID: conversationID,
		Body:           CleanBody(p.Body),
		CreatedAt:      createdAt,
		MemberID:       p.Member.ID,
		MemberNickname: p.Member.Nickname,
		IsNew:          p.IsNew,
		SendState:      store.SendStateSynced,
	}, nil
}

func decodeConversations(raw json.RawMessage) ([]store.Conversation, []store.Member, error) {
	var payloads []conversationPayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, nil, err
	}
	var (
		convs   []store.Conversation
		members []store.Member
	)
	for _, p := range payloads {
		c, m, err := p.toStore()
		if err != nil {
			return nil, nil, err
		}
		convs = append(convs, c)
		members = append(members, m)
	}
	return convs, members, nil
}

func decodeConversation(raw json.RawMessage) (store.Conversation, store.Member, error) {
	var p conversationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Conversation{}, store.Member{}, err
	}
	return p.toStore()
}

func decodeMessages(raw json.RawMessage, conversationID string) ([]store.Message, error) {
	var payloads []messagePayload
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return nil, err
	}
	var msgs []store.Message
	for _, p := range payloads {
		m, err := p.toStore(conversationID)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// DecodeMessage decodes a single message payload, e.g. the echo returned
// by a create-message call.
func DecodeMessage(raw json.RawMessage, conversationID string) (store.Message, error) {
	var p messagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Message{}, &DecodeError{Cause: err}
	}
	m, err := p.toStore(conversationID)
	if err != nil {
		return store.Message{}, &DecodeError{Cause: err}
	}
	return m, nil
}

func parseTime(s string) (int64, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}
