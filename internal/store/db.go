package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"fetmsg/internal/bus"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database holding the local replica. All mutations go
// through commit, which serializes transactions and emits exactly one
// change notification per committed transaction, in commit order.
type DB struct {
	*sql.DB

	bus *bus.Bus

	mu  sync.Mutex // serializes commits and notification order
	seq uint64

	hookMu   sync.RWMutex
	hooks    map[int]func(ChangeSummary)
	nextHook int
}

// ChangeSummary describes, per committed transaction, which entity sets
// may have changed. Seq increases by one per commit.
type ChangeSummary struct {
	Seq uint64
	// Conversations is set when any conversation or member row was touched,
	// including denormalized last-message refreshes.
	Conversations bool
	// MessageConversations lists conversation ids whose message set changed.
	MessageConversations []string
	// Reset is set when the whole replica was wiped (logout).
	Reset bool
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas. The bus may be nil; commit notifications are then delivered to
// registered hooks only.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b, hooks: make(map[int]func(ChangeSummary))}, nil
}

// AddCommitListener registers fn to be called synchronously after every
// committed transaction, in commit order. Listeners run under the commit
// lock and may read the database, but must not start a new transaction.
// The returned function unregisters the listener.
func (db *DB) AddCommitListener(fn func(ChangeSummary)) (remove func()) {
	db.hookMu.Lock()
	id := db.nextHook
	db.nextHook++
	db.hooks[id] = fn
	db.hookMu.Unlock()
	return func() {
		db.hookMu.Lock()
		delete(db.hooks, id)
		db.hookMu.Unlock()
	}
}

// SnapshotAndListen runs snapshot and then registers fn as a commit
// listener while the commit lock is held, so no transaction can land
// between the two. Every commit is then either visible in the snapshot or
// delivered to fn, never both and never neither.
func (db *DB) SnapshotAndListen(snapshot func() error, fn func(ChangeSummary)) (remove func(), err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := snapshot(); err != nil {
		return nil, err
	}
	return db.AddCommitListener(fn), nil
}

// commit runs fn inside a transaction and, on success, notifies listeners
// and the bus with the given summary. A failure inside fn rolls the whole
// transaction back; no partial write becomes visible.
func (db *DB) commit(summary ChangeSummary, fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	db.seq++
	summary.Seq = db.seq

	db.hookMu.RLock()
	hooks := make([]func(ChangeSummary), 0, len(db.hooks))
	for _, h := range db.hooks {
		hooks = append(hooks, h)
	}
	db.hookMu.RUnlock()
	for _, h := range hooks {
		h(summary)
	}

	if db.bus != nil {
		db.bus.Publish(bus.Event{
			Kind:      bus.KindStoreCommitted,
			Timestamp: time.Now(),
			Payload:   summary,
		})
	}
	return nil
}

// Reset wipes the local replica. Used on logout; outbox, checkpoints and
// all entities are destroyed.
func (db *DB) Reset() error {
	err := db.commit(ChangeSummary{Conversations: true, Reset: true}, func(tx *sql.Tx) error {
		for _, table := range []string{"messages", "conversations", "members", "outbox", "sync_state"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if db.bus != nil {
		db.bus.Publish(bus.Event{Kind: bus.KindStoreReset, Timestamp: time.Now()})
	}
	return nil
}
