package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fetmsg/internal/api"
	"fetmsg/internal/auth"
	"fetmsg/internal/bus"
	"fetmsg/internal/client"
	"fetmsg/internal/config"
	"fetmsg/internal/lock"
	"fetmsg/internal/logging"
	"fetmsg/internal/outbox"
	"fetmsg/internal/session"
	"fetmsg/internal/status"
	"fetmsg/internal/store"
	intsync "fetmsg/internal/sync"
)

const sendTimeout = 30 * time.Second

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	app, err := open(sessionName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		cmdLogin(ctx, app.client)
	case "logout":
		cmdLogout(app.client)
	case "whoami":
		cmdWhoami(app.client, *jsonFlag)
	case "sync":
		cmdSync(ctx, app.client, args[1:])
	case "conversations":
		cmdConversations(ctx, app.client, args[1:], *jsonFlag)
	case "messages":
		cmdMessages(ctx, app.client, args[1:], *jsonFlag)
	case "send":
		cmdSend(ctx, app, args[1:])
	case "retry":
		cmdRetry(ctx, app, args[1:])
	case "read":
		cmdRead(ctx, app.client, args[1:])
	case "archive":
		cmdArchive(ctx, app.client, args[1:])
	case "search":
		cmdSearch(app.client, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: fetmsg [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login                       Authorize via OAuth code grant")
	fmt.Fprintln(os.Stderr, "  logout                      Forget tokens and wipe local data")
	fmt.Fprintln(os.Stderr, "  whoami                      Show the authenticated member")
	fmt.Fprintln(os.Stderr, "  sync [conversation-id]      Refresh conversations, or one thread")
	fmt.Fprintln(os.Stderr, "  conversations [--archived]  List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conv-id> [-n N]   Show a conversation's messages")
	fmt.Fprintln(os.Stderr, "  send <conv-id> <body...>    Send a message and wait for the ack")
	fmt.Fprintln(os.Stderr, "  retry <client-msg-id>       Retry a failed send")
	fmt.Fprintln(os.Stderr, "  read <conv-id>              Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  archive <conv-id>           Archive a conversation")
	fmt.Fprintln(os.Stderr, "  search <query> [conv-id]    Full-text search message bodies")
}

// app bundles the in-process engine the CLI runs against. One-shot
// commands build the full stack, use it, and tear it down.
type app struct {
	client *client.Client
	sender *outbox.Coordinator
	db     *store.DB
	lk     *lock.Lock
	logger *zap.Logger
}

func open(sessionName string) (*app, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config (create %s first): %w", session.ConfigPath(), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := session.EnsureDir(sessionName); err != nil {
		return nil, err
	}

	logger, err := logging.New(session.LogPath(sessionName), sessionName)
	if err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(session.Dir(sessionName))
	if err != nil {
		return nil, err
	}

	b := bus.New()
	db, err := store.Open(session.DBPath(sessionName), b)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	authSession, err := auth.New(auth.Config{
		BaseURL:      cfg.API.BaseURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		RedirectURI:  cfg.API.RedirectURI,
	}, nil, session.TokenPath(sessionName), b, logger)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	apiClient := api.New(cfg.API.BaseURL, authSession, logger)
	tracker := status.NewTracker(b)
	engine := intsync.NewEngine(db, apiClient, authSession, b, tracker, logger)
	sender := outbox.NewCoordinator(db, apiClient, authSession, b, logger)

	return &app{
		client: client.New(db, authSession, engine, sender, b, logger),
		sender: sender,
		db:     db,
		lk:     lk,
		logger: logger,
	}, nil
}

func (a *app) close() {
	_ = a.db.Close()
	_ = a.lk.Release()
	_ = a.logger.Sync()
}

func cmdLogin(ctx context.Context, c *client.Client) {
	fmt.Println("Visit the following URL and authorize access:")
	fmt.Println()
	fmt.Println("  " + c.AuthCodeURL("state"))
	fmt.Println()
	fmt.Print("Paste the authorization code: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		fmt.Fprintln(os.Stderr, "error: empty authorization code")
		os.Exit(1)
	}

	if err := c.ExchangeCode(ctx, code); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if id, ok := c.Identity(); ok {
		fmt.Printf("Logged in as %s (member %s)\n", id.Nickname, id.MemberID)
	} else {
		fmt.Println("Logged in.")
	}
}

func cmdLogout(c *client.Client) {
	if err := c.Logout(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Logged out. Local data wiped.")
}

func cmdWhoami(c *client.Client, jsonOut bool) {
	if !c.IsAuthorized() {
		fmt.Println("Not logged in.")
		os.Exit(1)
	}
	id, ok := c.Identity()
	if !ok {
		fmt.Println("Logged in (identity unavailable).")
		return
	}
	if jsonOut {
		outputJSON(id)
		return
	}
	fmt.Printf("%s (member %s)\n", id.Nickname, id.MemberID)
}

func cmdSync(ctx context.Context, c *client.Client, args []string) {
	if len(args) > 0 {
		if err := c.SyncMessages(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Conversation %s synced.\n", args[0])
		return
	}
	if err := c.SyncConversations(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Conversations synced.")
}

func cmdConversations(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	includeArchived := len(args) > 0 && args[0] == "--archived"

	if c.IsAuthorized() {
		if err := c.SyncConversations(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: sync failed, showing cached data: %v\n", err)
		}
	}

	convs, err := c.ListConversations(includeArchived)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		marker := " "
		if conv.HasNewMessages {
			marker = "*"
		}
		preview := truncate(conv.LastMessageBody, 60)
		fmt.Printf("%s %-24s %-20s %s\n", marker, conv.ID, formatTime(conv.LastMessageCreated), preview)
	}
}

func cmdMessages(ctx context.Context, c *client.Client, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg messages <conv-id> [-n N]")
		os.Exit(1)
	}
	convID := args[0]
	limit := 50
	if len(args) >= 3 && args[1] == "-n" {
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			fmt.Fprintln(os.Stderr, "error: -n expects a positive number")
			os.Exit(1)
		}
		limit = n
	}

	if c.IsAuthorized() {
		if err := c.SyncMessages(ctx, convID); err != nil {
			fmt.Fprintf(os.Stderr, "warning: sync failed, showing cached data: %v\n", err)
		}
	}

	msgs, err := c.ListMessages(convID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	// Stored newest first; print oldest first for reading.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		suffix := ""
		switch m.SendState {
		case store.SendStatePending:
			suffix = " [sending]"
		case store.SendStateFailed:
			suffix = " [failed: retry with fetmsg retry " + m.ID + "]"
		}
		fmt.Printf("%s %s: %s%s\n", formatTime(m.CreatedAt), m.MemberNickname, m.Body, suffix)
	}
}

func cmdSend(ctx context.Context, a *app, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg send <conv-id> <body...>")
		os.Exit(1)
	}
	convID := args[0]
	body := strings.Join(args[1:], " ")

	events, unsub := a.client.Events("send.", 16)
	defer unsub()

	a.sender.Start(ctx)
	defer a.sender.Stop()

	clientMsgID, err := a.client.Send(ctx, convID, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	waitForAck(events, clientMsgID)
}

func cmdRetry(ctx context.Context, a *app, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg retry <client-msg-id>")
		os.Exit(1)
	}

	events, unsub := a.client.Events("send.", 16)
	defer unsub()

	a.sender.Start(ctx)
	defer a.sender.Stop()

	if err := a.client.RetrySend(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	waitForAck(events, args[0])
}

func waitForAck(events <-chan bus.Event, clientMsgID string) {
	deadline := time.After(sendTimeout)
	for {
		select {
		case ev := <-events:
			switch payload := ev.Payload.(type) {
			case outbox.Ack:
				if payload.ClientMsgID == clientMsgID {
					fmt.Printf("Sent (message %s).\n", payload.ServerMsgID)
					return
				}
			case outbox.Failure:
				if payload.ClientMsgID == clientMsgID {
					fmt.Fprintf(os.Stderr, "send failed: %s\n", payload.Reason)
					fmt.Fprintf(os.Stderr, "retry with: fetmsg retry %s\n", clientMsgID)
					os.Exit(1)
				}
			}
		case <-deadline:
			fmt.Fprintln(os.Stderr, "timed out waiting for send confirmation; the message stays queued")
			os.Exit(1)
		}
	}
}

func cmdRead(ctx context.Context, c *client.Client, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg read <conv-id>")
		os.Exit(1)
	}
	if err := c.MarkAllRead(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Marked read.")
}

func cmdArchive(ctx context.Context, c *client.Client, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg archive <conv-id>")
		os.Exit(1)
	}
	if err := c.ArchiveConversation(ctx, args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Archived.")
}

func cmdSearch(c *client.Client, args []string, jsonOut bool) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fetmsg search <query> [conv-id]")
		os.Exit(1)
	}
	convID := ""
	if len(args) > 1 {
		convID = args[1]
	}
	results, err := c.SearchMessages(args[0], convID, 50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, r := range results {
		fmt.Printf("%s %s %s: %s\n", r.Message.ConversationID, formatTime(r.Message.CreatedAt), r.Message.MemberNickname, r.Snippet)
	}
}

// truncate shortens s to at most max runes, ending in "..." when cut.
// Slicing runes rather than bytes keeps multi-byte characters intact.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func formatTime(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).Local().Format("2006-01-02 15:04")
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
