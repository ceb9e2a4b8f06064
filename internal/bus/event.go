package bus

import "time"

// Event kinds published by the engine. Subscribers filter by prefix,
// e.g. "store." or "send.".
const (
	KindStoreCommitted = "store.committed"
	KindStoreReset     = "store.reset"
	KindSyncStatus     = "sync.status_changed"
	KindSyncCompleted  = "sync.completed"
	KindSendAck        = "send.ack"
	KindSendFailed     = "send.failed"
	KindAuthChanged    = "auth.changed"
	KindAuthLogout     = "auth.logout"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
