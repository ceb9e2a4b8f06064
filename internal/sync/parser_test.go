package sync

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCleanBody(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"markup stripped", "<p>hello <b>there</b></p>", "hello there"},
		{"entities decoded", "fish &amp; chips", "fish & chips"},
		{"encoded markup stripped", "&lt;b&gt;hey&lt;/b&gt;", "hey"},
		{"encoded script dropped", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanBody(tc.in); got != tc.want {
				t.Errorf("CleanBody(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "m1",
		"body": "hi",
		"created_at": "2026-02-01T10:30:00Z",
		"member": {"id": "u1", "nickname": "alice"},
		"is_new": true
	}`)
	m, err := DecodeMessage(raw, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "m1" || m.ConversationID != "c1" || m.MemberNickname != "alice" || !m.IsNew {
		t.Errorf("message = %+v", m)
	}
	if m.SendState != "" {
		t.Errorf("decoded message not marked synced: %q", m.SendState)
	}
	if m.CreatedAt != 1769941800000 {
		t.Errorf("created_at = %d", m.CreatedAt)
	}
}

func TestDecodeMessageRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"missing id", `{"body": "x", "created_at": "2026-02-01T10:30:00Z"}`},
		{"bad timestamp", `{"id": "m1", "created_at": "yesterday"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeMessage(json.RawMessage(tc.raw), "c1")
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("err = %T (%v), want *DecodeError", err, err)
			}
		})
	}
}

func TestDecodeConversationDefaults(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "c1",
		"updated_at": "2026-02-01T10:00:00Z",
		"member": {"id": "m1", "nickname": "alice"}
	}`)
	conv, member, err := decodeConversation(raw)
	if err != nil {
		t.Fatal(err)
	}
	if conv.LastMessageBody != "" || conv.LastMessageCreated != 0 {
		t.Errorf("absent last_message produced %q/%d", conv.LastMessageBody, conv.LastMessageCreated)
	}
	if member.AvatarURL != defaultAvatarURL {
		t.Errorf("avatar = %q, want placeholder", member.AvatarURL)
	}
}
