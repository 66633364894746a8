package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Subsystems of a node branch. A patch always replaces one subsystem
// as a whole.
const (
	SubMonitor  = "monitor"
	SubServices = "services"
	SubLocks    = "locks"
	SubKeys     = "keys"
	SubStats    = "stats"
	SubLabels   = "labels"
)

// NodeMonitor is the node-level monitor record.
type NodeMonitor struct {
	Status        string    `json:"status"`
	StatusUpdated time.Time `json:"status_updated"`
}

// NodeData is one node's branch of the daemon status tree. Only the
// owning node writes it; peers replace their copy subsystem by subsystem
// from that node's payloads.
type NodeData struct {
	Monitor  NodeMonitor                          `json:"monitor"`
	Services map[string]domain.InstanceStatus     `json:"services"`
	Locks    map[string]domain.Lock               `json:"locks"`
	Keys     map[string]map[string]domain.KeyMeta `json:"keys"`
	Stats    map[string]any                       `json:"stats"`
	Labels   map[string]string                    `json:"labels"`
}

func newNodeData() NodeData {
	return NodeData{
		Monitor:  NodeMonitor{Status: domain.NodeMonitorIdle},
		Services: make(map[string]domain.InstanceStatus),
		Locks:    make(map[string]domain.Lock),
		Keys:     make(map[string]map[string]domain.KeyMeta),
		Stats:    make(map[string]any),
		Labels:   make(map[string]string),
	}
}

// Clone returns a copy that shares no maps with d.
func (d NodeData) Clone() NodeData {
	c := NodeData{
		Monitor:  d.Monitor,
		Services: make(map[string]domain.InstanceStatus, len(d.Services)),
		Locks:    maps.Clone(d.Locks),
		Keys:     make(map[string]map[string]domain.KeyMeta, len(d.Keys)),
		Stats:    maps.Clone(d.Stats),
		Labels:   maps.Clone(d.Labels),
	}
	for k, v := range d.Services {
		v.Resources = append([]domain.ResourceStatus(nil), v.Resources...)
		c.Services[k] = v
	}
	for k, v := range d.Keys {
		c.Keys[k] = maps.Clone(v)
	}
	if c.Locks == nil {
		c.Locks = make(map[string]domain.Lock)
	}
	if c.Stats == nil {
		c.Stats = make(map[string]any)
	}
	if c.Labels == nil {
		c.Labels = make(map[string]string)
	}
	return c
}

func (d *NodeData) marshalSubsystem(name string) (json.RawMessage, error) {
	switch name {
	case SubMonitor:
		return json.Marshal(d.Monitor)
	case SubServices:
		return json.Marshal(d.Services)
	case SubLocks:
		return json.Marshal(d.Locks)
	case SubKeys:
		return json.Marshal(d.Keys)
	case SubStats:
		return json.Marshal(d.Stats)
	case SubLabels:
		return json.Marshal(d.Labels)
	default:
		return nil, fmt.Errorf("unknown subsystem %q", name)
	}
}

// replaceSubsystem decodes raw into a fresh value and swaps the whole
// subsystem. A decode error leaves d untouched.
func (d *NodeData) replaceSubsystem(name string, raw json.RawMessage) error {
	var err error
	switch name {
	case SubMonitor:
		var v NodeMonitor
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Monitor = v
		}
	case SubServices:
		v := make(map[string]domain.InstanceStatus)
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Services = v
		}
	case SubLocks:
		v := make(map[string]domain.Lock)
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Locks = v
		}
	case SubKeys:
		v := make(map[string]map[string]domain.KeyMeta)
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Keys = v
		}
	case SubStats:
		v := make(map[string]any)
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Stats = v
		}
	case SubLabels:
		v := make(map[string]string)
		if err = json.Unmarshal(raw, &v); err == nil {
			d.Labels = v
		}
	default:
		return fmt.Errorf("unknown subsystem %q", name)
	}
	if err != nil {
		return fmt.Errorf("decode subsystem %s: %w", name, err)
	}
	return nil
}

// MessageKind distinguishes heartbeat payload contents.
type MessageKind string

const (
	// MessageFull carries the whole sender branch.
	MessageFull MessageKind = "full"

	// MessagePatch carries the per-generation patches since the
	// receiver's acknowledged generation.
	MessagePatch MessageKind = "patch"

	// MessagePing carries only the generation map.
	MessagePing MessageKind = "ping"
)

// Patch replaces one subsystem of the sender branch at generation Gen.
type Patch struct {
	Gen       uint64          `json:"gen"`
	Subsystem string          `json:"subsystem"`
	Data      json.RawMessage `json:"data"`
}

// Message is the dataset exchanged by heartbeat threads.
//
// Gen holds the sender's own generation under its nodename and, for
// every peer, the last generation the sender applied from that peer.
// The receiver reads its own entry as the acknowledged generation of
// its local data.
type Message struct {
	Kind      MessageKind       `json:"kind"`
	ClusterID string            `json:"cluster_id"`
	Nodename  string            `json:"nodename"`
	Boot      string            `json:"boot"`
	Gen       map[string]uint64 `json:"gen"`
	Full      *NodeData         `json:"full,omitempty"`
	Patches   []Patch           `json:"patches,omitempty"`
	Updated   time.Time         `json:"updated"`
}

// SenderGen returns the sender's own generation.
func (m *Message) SenderGen() uint64 {
	return m.Gen[m.Nodename]
}

// ApplyResult reports the outcome of merging a peer message.
type ApplyResult string

const (
	ApplyFull    ApplyResult = "full"
	ApplyPatched ApplyResult = "patched"
	ApplyPing    ApplyResult = "ping"
	ApplyStale   ApplyResult = "stale"
	ApplyGap     ApplyResult = "gap"
	ApplySelf    ApplyResult = "self"
)
