package domain

import (
	"time"
)

// Event kinds published to subscribers.
const (
	EventInstanceMonitor = "instance_monitor"
	EventNodeBeating     = "node_beating"
	EventNodeStale       = "node_stale"
	EventNodeJoin        = "node_join"
	EventNodeLeave       = "node_leave"
	EventKeySet          = "key_set"
	EventKeyDelete       = "key_delete"
	EventLockAcquired    = "lock_acquired"
	EventLockReleased    = "lock_released"
	EventClear           = "instance_clear"
	EventConfigChange    = "config_change"
)

// Event is an immutable record of a state transition. Events are never
// persisted and are dropped once delivered to the current subscribers.
type Event struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Node      string         `json:"node"`
	Path      string         `json:"path,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Namespace returns the namespace of the event's object path, or the
// empty string for node-level events.
func (e Event) Namespace() string {
	if e.Path == "" {
		return ""
	}
	p, err := ParsePath(e.Path)
	if err != nil {
		return ""
	}
	return p.Namespace
}

// Lock is a clusterwide advisory lock record, published in the holder's
// dataset under the "locks" subsystem.
type Lock struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Requester   string    `json:"requester"`
	RequestedAt time.Time `json:"requested_at"`
}

// KeyMeta describes one key of a cfg/sec/usr object in the owning
// node's dataset. Value is only set for non-secret kinds.
type KeyMeta struct {
	Value   string    `json:"value,omitempty"`
	Digest  string    `json:"digest"`
	Size    int       `json:"size"`
	Updated time.Time `json:"updated"`
}
