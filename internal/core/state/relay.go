package state

import (
	"time"

	"github.com/yndnr/hamesh-go/pkg/cmap"
)

// RelaySlot is the last heartbeat payload a node stored on this daemon
// acting as a relay.
//
// Relay slots are ordered by the sender's wall clock only. The relay is
// not a cluster member and cannot read the encrypted generations, so a
// sender with a clock running backwards can have newer payloads ignored
// until its clock catches up. Receivers still apply the generation rule
// after decoding.
type RelaySlot struct {
	ClusterID string    `json:"cluster_id"`
	Nodename  string    `json:"nodename"`
	Addr      string    `json:"addr"`
	Msg       []byte    `json:"msg"`
	Updated   time.Time `json:"updated"`

	// stored is the local receive time, used for expiry.
	stored time.Time
}

type relayStore = cmap.Map[RelaySlot]

func newRelayStore() *relayStore {
	return cmap.New[RelaySlot](0)
}

func relayKey(clusterID, nodename string) string {
	return clusterID + "/" + nodename
}

// RelayStore stores a relay payload keyed by cluster_id/nodename. A
// payload older than the stored one is ignored; the result reports
// whether the slot changed.
func (s *DaemonState) RelayStore(slot RelaySlot) bool {
	slot.Msg = append([]byte(nil), slot.Msg...)
	slot.stored = s.Now()
	_, stored := s.relay.Compute(relayKey(slot.ClusterID, slot.Nodename), func(cur RelaySlot, exists bool) (RelaySlot, bool) {
		if exists && slot.Updated.Before(cur.Updated) {
			return cur, false
		}
		return slot, true
	})
	return stored
}

// RelayLoad returns the payload stored for cluster_id/nodename.
func (s *DaemonState) RelayLoad(clusterID, nodename string) (RelaySlot, bool) {
	slot, ok := s.relay.Get(relayKey(clusterID, nodename))
	if ok {
		slot.Msg = append([]byte(nil), slot.Msg...)
	}
	return slot, ok
}

// RelaySlots returns the slot keys with their update times.
func (s *DaemonState) RelaySlots() map[string]time.Time {
	out := make(map[string]time.Time, s.relay.Len())
	s.relay.Range(func(k string, v RelaySlot) bool {
		out[k] = v.Updated
		return true
	})
	return out
}

// RelayPrune drops the slots not written since before and returns how
// many were dropped. Expiry uses the local receive time, so a sender
// with a skewed clock keeps its slot while it writes.
func (s *DaemonState) RelayPrune(before time.Time) int {
	return s.relay.DeleteFunc(func(_ string, v RelaySlot) bool {
		return v.stored.Before(before)
	})
}
