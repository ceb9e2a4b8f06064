// Package live keeps filtered, sorted views of the local store current and
// streams ordered change-sets to subscribers. A watcher observes every
// committed transaction exactly once, in commit order: the result set is
// snapshotted synchronously on the committer's goroutine under the commit
// lock, and diffs are computed and delivered on the subscriber side.
package live

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"fetmsg/internal/store"
)

// ChangeSet describes one transaction's effect on a watched result set.
// Deleted indices are relative to the previous ordering; inserted and
// updated indices are relative to the new ordering.
type ChangeSet struct {
	Initial  bool
	Inserted []int
	Deleted  []int
	Updated  []int
}

func (c ChangeSet) empty() bool {
	return !c.Initial && len(c.Inserted) == 0 && len(c.Deleted) == 0 && len(c.Updated) == 0
}

// Watcher is a live query over the store. Read change-sets from Changes
// and the current result set from Rows; Close cancels the subscription.
type Watcher[T comparable] struct {
	source   func() ([]T, error)
	key      func(T) string
	relevant func(store.ChangeSummary) bool
	logger   *zap.Logger

	ch     chan ChangeSet
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()

	mu     sync.Mutex
	queue  [][]T // one snapshot per relevant commit, in commit order
	rows   []T
	closed bool
}

// Watch takes the initial result set and registers a commit listener in
// one step under the store's commit lock, so a transaction landing while
// the watcher starts is either part of the initial set or produces a
// change-set. Each relevant commit is snapshotted synchronously and
// diffed against the previous snapshot; an empty diff is suppressed.
func Watch[T comparable](
	db *store.DB,
	source func() ([]T, error),
	key func(T) string,
	relevant func(store.ChangeSummary) bool,
	logger *zap.Logger,
) (*Watcher[T], error) {
	w := &Watcher[T]{
		source:   source,
		key:      key,
		relevant: relevant,
		logger:   logger,
		ch:       make(chan ChangeSet, 16),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	remove, err := db.SnapshotAndListen(func() error {
		initial, err := source()
		if err != nil {
			return err
		}
		w.rows = initial
		return nil
	}, w.enqueue)
	if err != nil {
		return nil, err
	}
	w.remove = remove

	w.ch <- ChangeSet{Initial: true, Inserted: indices(len(w.rows))}

	go w.run()
	return w, nil
}

// Changes returns the ordered stream of change-sets. The channel is never
// closed; use Close and stop reading.
func (w *Watcher[T]) Changes() <-chan ChangeSet {
	return w.ch
}

// Rows returns a snapshot of the current result set, consistent with the
// change-sets emitted so far.
func (w *Watcher[T]) Rows() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.rows)
}

// Close cancels the subscription and unregisters the commit listener.
func (w *Watcher[T]) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
		w.remove()
	})
}

// enqueue runs on the committer's goroutine under the store commit lock.
// Snapshotting here, one query per relevant commit, is what keeps the
// change-sets exactly-once and in commit order even when the subscriber
// lags; the delivery goroutine never touches the database.
func (w *Watcher[T]) enqueue(s store.ChangeSummary) {
	if !w.relevant(s) {
		return
	}
	snap, err := w.source()
	if err != nil {
		if w.logger != nil {
			w.logger.Error("live query snapshot failed", zap.Error(err))
		}
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, snap)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Watcher[T]) run() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			pending := w.queue
			w.queue = nil
			w.mu.Unlock()

			for _, snap := range pending {
				if !w.deliver(snap) {
					return
				}
			}
		}
	}
}

// deliver diffs one commit's snapshot against the previous state and
// emits the change-set. Returns false when the watcher is done.
func (w *Watcher[T]) deliver(next []T) bool {
	w.mu.Lock()
	prev := w.rows
	w.rows = next
	w.mu.Unlock()

	cs := diff(prev, next, w.key)
	if cs.empty() {
		return true
	}

	select {
	case w.ch <- cs:
		return true
	case <-w.done:
		return false
	}
}

// diff computes positional change-sets between two orderings keyed by
// primary key. Rows present in both orderings with different content are
// reported as updated at their new index.
func diff[T comparable](prev, next []T, key func(T) string) ChangeSet {
	prevIndex := make(map[string]int, len(prev))
	for i, r := range prev {
		prevIndex[key(r)] = i
	}
	nextKeys := make(map[string]bool, len(next))

	var cs ChangeSet
	for i, r := range next {
		k := key(r)
		nextKeys[k] = true
		j, ok := prevIndex[k]
		switch {
		case !ok:
			cs.Inserted = append(cs.Inserted, i)
		case prev[j] != r:
			cs.Updated = append(cs.Updated, i)
		}
	}
	for i, r := range prev {
		if !nextKeys[key(r)] {
			cs.Deleted = append(cs.Deleted, i)
		}
	}
	return cs
}

func indices(n int) []int {
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
