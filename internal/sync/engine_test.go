package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"fetmsg/internal/api"
	"fetmsg/internal/auth"
	"fetmsg/internal/status"
	"fetmsg/internal/store"
)

type engineFixture struct {
	engine  *Engine
	db      *store.DB
	session *auth.Session
	tracker *status.Tracker
	last    *http.Request
}

func newFixture(t *testing.T, handler http.HandlerFunc) *engineFixture {
	t.Helper()
	f := &engineFixture{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.last = r.Clone(context.Background())
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	session, err := auth.New(auth.Config{
		BaseURL:      srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
	}, nil, filepath.Join(t.TempDir(), "token.json"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := session.SetToken(&oauth2.Token{
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	f.db = db
	f.session = session
	f.tracker = status.NewTracker(nil)
	f.engine = NewEngine(db, api.New(srv.URL, session, nil), session, nil, f.tracker, zap.NewNop())
	return f
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestSyncConversationsMergesPage(t *testing.T) {
	f := newFixture(t, respond(`[
		{
			"id": "c2",
			"updated_at": "2026-02-01T10:00:00Z",
			"has_new_messages": true,
			"member": {
				"id": "m2", "nickname": "bob", "meta_line": "30M",
				"avatar": {"variants": {"medium": "https://img.example/bob.jpg"}}
			},
			"last_message": {"body": "&lt;b&gt;hey&lt;/b&gt;", "created_at": "2026-02-01T10:00:00Z"}
		},
		{
			"id": "c1",
			"updated_at": "2026-01-01T10:00:00Z",
			"member": {"id": "m1", "nickname": "alice"}
		}
	]`))

	if err := f.engine.SyncConversations(context.Background()); err != nil {
		t.Fatal(err)
	}

	q := f.last.URL.Query()
	if q.Get("limit") != "100" || q.Get("order") != "-updated_at" || q.Get("with_archived") != "true" {
		t.Errorf("query = %v", q)
	}

	convs, err := f.db.ListConversations(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != "c2" {
		t.Errorf("order = %s,%s, want c2 first", convs[0].ID, convs[1].ID)
	}
	if !convs[0].HasNewMessages {
		t.Error("unread flag lost in merge")
	}
	// Entity-decoded markup is stripped before storage.
	if convs[0].LastMessageBody != "hey" {
		t.Errorf("preview = %q, want %q", convs[0].LastMessageBody, "hey")
	}

	bob, err := f.db.GetMember("m2")
	if err != nil {
		t.Fatal(err)
	}
	if bob == nil || bob.AvatarURL != "https://img.example/bob.jpg" {
		t.Errorf("member = %+v", bob)
	}
	// Members without an avatar get the placeholder.
	alice, err := f.db.GetMember("m1")
	if err != nil {
		t.Fatal(err)
	}
	if alice == nil || alice.AvatarURL != defaultAvatarURL {
		t.Errorf("member = %+v", alice)
	}

	if cp, _ := f.db.GetCheckpoint(checkpointConversations); cp == "" {
		t.Error("no checkpoint recorded after successful sync")
	}

	if f.tracker.Phase("conversations") != status.Idle {
		t.Errorf("phase = %s, want IDLE", f.tracker.Phase("conversations"))
	}
}

func TestSyncConversationsEmptyPageIsSuccess(t *testing.T) {
	f := newFixture(t, respond(`[]`))

	if err := f.engine.SyncConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	convs, err := f.db.ListConversations(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 0 {
		t.Errorf("empty page wrote %d conversations", len(convs))
	}
}

func TestSyncConversationsDecodeError(t *testing.T) {
	f := newFixture(t, respond(`{"unexpected": "shape"}`))

	err := f.engine.SyncConversations(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("err = %T (%v), want *DecodeError", err, err)
	}
	if f.tracker.Phase("conversations") != status.Idle {
		t.Errorf("phase stuck at %s after failure", f.tracker.Phase("conversations"))
	}
}

func TestSyncMessagesInitialAndIncrementalCursor(t *testing.T) {
	f := newFixture(t, respond(`[
		{"id": "m1", "body": "hello", "created_at": "2026-02-01T10:00:00Z",
		 "member": {"id": "u1", "nickname": "alice"}, "is_new": true}
	]`))

	if err := f.engine.SyncMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	q := f.last.URL.Query()
	if q.Has("since") || q.Has("since_id") {
		t.Errorf("initial fetch sent a cursor: %v", q)
	}
	if q.Get("limit") != "50" {
		t.Errorf("limit = %q", q.Get("limit"))
	}

	msgs, err := f.db.ListMessages("c1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || !msgs[0].IsNew {
		t.Fatalf("merged message = %+v", msgs)
	}

	// Second call derives the cursor from the newest synced message.
	// created_at 2026-02-01T10:00:00Z in unix seconds:
	wantSince := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).Unix()
	if err := f.engine.SyncMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	q = f.last.URL.Query()
	if q.Get("since_id") != "m1" {
		t.Errorf("since_id = %q, want m1", q.Get("since_id"))
	}
	if got := q.Get("since"); got != strconv.FormatInt(wantSince, 10) {
		t.Errorf("since = %q, want %d", got, wantSince)
	}
}

func TestSyncMessagesIgnoresPendingCursor(t *testing.T) {
	f := newFixture(t, respond(`[]`))

	// A pending placeholder with a made-up id and a future timestamp must
	// not feed the cursor.
	err := f.db.Apply(&store.Batch{Messages: []store.Message{
		{ID: "srv1", ConversationID: "c1", Body: "real", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{ID: "pending-zz", ConversationID: "c1", Body: "optimistic", CreatedAt: time.Now().UnixMilli(), SendState: store.SendStatePending},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.SyncMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if got := f.last.URL.Query().Get("since_id"); got != "srv1" {
		t.Errorf("since_id = %q, want srv1", got)
	}
}

func TestConcurrentSyncsShareOneFlight(t *testing.T) {
	var hits atomic.Int64
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond) // hold the flight open
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.engine.SyncMessages(context.Background(), "c1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (callers must join the in-flight sync)", hits.Load())
	}
}

func TestArchiveConversationMergesServerEcho(t *testing.T) {
	f := newFixture(t, respond(`{
		"id": "c1",
		"updated_at": "2026-02-01T10:00:00Z",
		"is_archived": true,
		"member": {"id": "m1", "nickname": "alice"}
	}`))

	if err := f.db.Apply(&store.Batch{Conversations: []store.Conversation{{ID: "c1"}}}); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.ArchiveConversation(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if f.last.Method != http.MethodPut || f.last.URL.Path != "/v2/me/conversations/c1" {
		t.Errorf("request = %s %s", f.last.Method, f.last.URL.Path)
	}
	conv, err := f.db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil || !conv.IsArchived {
		t.Errorf("conversation = %+v, want archived", conv)
	}
}

func TestArchiveFailureLeavesLocalFlag(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if err := f.db.Apply(&store.Batch{Conversations: []store.Conversation{{ID: "c1"}}}); err != nil {
		t.Fatal(err)
	}

	err := f.engine.ArchiveConversation(context.Background(), "c1")
	var httpErr *api.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want *api.HTTPError", err)
	}
	conv, _ := f.db.GetConversation("c1")
	if conv.IsArchived {
		t.Error("archived flag flipped despite server failure")
	}
}

func TestMarkReadConfirmsBeforeClearing(t *testing.T) {
	f := newFixture(t, respond(`{}`))
	err := f.db.Apply(&store.Batch{
		Conversations: []store.Conversation{{ID: "c1", HasNewMessages: true}},
		Messages:      []store.Message{{ID: "m1", ConversationID: "c1", CreatedAt: 1000, IsNew: true}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.MarkRead(context.Background(), "c1", []string{"m1"}); err != nil {
		t.Fatal(err)
	}
	if f.last.URL.Path != "/v2/me/conversations/c1/messages/read" {
		t.Errorf("path = %q", f.last.URL.Path)
	}
	conv, _ := f.db.GetConversation("c1")
	if conv.HasNewMessages {
		t.Error("unread flag survives confirmed mark-read")
	}
}

func TestMarkReadNoIDsIsNoop(t *testing.T) {
	called := false
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	if err := f.engine.MarkRead(context.Background(), "c1", nil); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("request issued for empty id list")
	}
}

func TestMarkReadFailureKeepsFlag(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	err := f.db.Apply(&store.Batch{Conversations: []store.Conversation{{ID: "c1", HasNewMessages: true}}})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.engine.MarkRead(context.Background(), "c1", []string{"m1"}); err == nil {
		t.Fatal("expected error")
	}
	conv, _ := f.db.GetConversation("c1")
	if !conv.HasNewMessages {
		t.Error("unread flag cleared without server confirmation")
	}
}

func TestLogoutDuringSyncDiscardsMerge(t *testing.T) {
	var f *engineFixture
	f = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		// The session closes while the response is in flight.
		f.session.Logout()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": "c1", "updated_at": "2026-02-01T10:00:00Z", "member": {"id": "m1"}}]`))
	})

	err := f.engine.SyncConversations(context.Background())
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("err = %v, want ErrSessionClosed", err)
	}
	convs, _ := f.db.ListConversations(true)
	if len(convs) != 0 {
		t.Error("post-logout response merged into the store")
	}
}

func TestUnauthorizedPropagates(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := f.engine.SyncConversations(context.Background())
	if !errors.Is(err, api.ErrNotAuthorized) {
		t.Errorf("err = %v, want api.ErrNotAuthorized", err)
	}
}
