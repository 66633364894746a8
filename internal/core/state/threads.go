package state

import (
	"maps"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Thread states.
const (
	ThreadRunning = "running"
	ThreadStopped = "stopped"
)

// PeerStatus is the link status of one heartbeat backend with one peer.
type PeerStatus struct {
	IsBeating bool      `json:"is_beating"`
	LastAt    time.Time `json:"last_at"`
}

// ThreadStatus is the status of a daemon thread. Heartbeat threads
// fill Type and Peers.
type ThreadStatus struct {
	ID           string                `json:"id"`
	Type         string                `json:"type,omitempty"`
	State        string                `json:"state"`
	ConfiguredAt time.Time             `json:"configured_at"`
	CreatedAt    time.Time             `json:"created_at"`
	Peers        map[string]PeerStatus `json:"peers,omitempty"`
	TxCount      uint64                `json:"tx_count"`
	RxCount      uint64                `json:"rx_count"`
	Errors       uint64                `json:"errors"`
	LastError    string                `json:"last_error,omitempty"`
}

func (t *ThreadStatus) clone() ThreadStatus {
	c := *t
	c.Peers = maps.Clone(t.Peers)
	return c
}

// RegisterThread records a daemon thread in the running state.
func (s *DaemonState) RegisterThread(id, typ string) {
	now := s.now()
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		t = &ThreadStatus{ID: id, Type: typ, CreatedAt: now, Peers: make(map[string]PeerStatus)}
		s.threads[id] = t
	}
	t.State = ThreadRunning
	t.ConfiguredAt = now
}

// StopThread marks a thread stopped and its peers not beating.
func (s *DaemonState) StopThread(id string) {
	s.threadMu.Lock()
	t, ok := s.threads[id]
	var lost []string
	if ok {
		t.State = ThreadStopped
		for name, ps := range t.Peers {
			if ps.IsBeating {
				ps.IsBeating = false
				t.Peers[name] = ps
				lost = append(lost, name)
			}
		}
	}
	s.threadMu.Unlock()

	for _, name := range lost {
		s.checkStale(name)
	}
}

// ThreadCounters adds to the tx/rx/error counters of a thread.
func (s *DaemonState) ThreadCounters(id string, tx, rx, errs uint64, lastErr error) {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return
	}
	t.TxCount += tx
	t.RxCount += rx
	t.Errors += errs
	if lastErr != nil {
		t.LastError = lastErr.Error()
	}
}

// SetBeating records the link status of thread id with peer. Losing the
// last beating link of a peer publishes a stale event and wakes the
// monitor; the first beating link publishes a beating event.
func (s *DaemonState) SetBeating(id, peer string, beating bool, lastAt time.Time) {
	s.threadMu.Lock()
	t, ok := s.threads[id]
	if !ok {
		s.threadMu.Unlock()
		return
	}
	wasAlive := s.isAliveLocked(peer)
	prev := t.Peers[peer]
	if !lastAt.IsZero() {
		prev.LastAt = lastAt
	}
	prev.IsBeating = beating
	t.Peers[peer] = prev
	isAlive := s.isAliveLocked(peer)
	s.threadMu.Unlock()

	switch {
	case !wasAlive && isAlive:
		s.Publish(domain.EventNodeBeating, "", map[string]any{"peer": peer, "hb": id})
		s.signals.wake("peer beating " + peer)
	case wasAlive && !isAlive:
		s.Publish(domain.EventNodeStale, "", map[string]any{"peer": peer, "hb": id})
		s.signals.wake("peer stale " + peer)
	}
}

func (s *DaemonState) checkStale(peer string) {
	if !s.IsAlive(peer) {
		s.Publish(domain.EventNodeStale, "", map[string]any{"peer": peer})
		s.signals.wake("peer stale " + peer)
	}
}

// IsAlive reports whether at least one heartbeat thread sees peer
// beating. The local node is always alive.
func (s *DaemonState) IsAlive(nodename string) bool {
	if nodename == s.nodename {
		return true
	}
	s.threadMu.RLock()
	defer s.threadMu.RUnlock()
	return s.isAliveLocked(nodename)
}

func (s *DaemonState) isAliveLocked(nodename string) bool {
	for _, t := range s.threads {
		if t.State != ThreadRunning {
			continue
		}
		if ps, ok := t.Peers[nodename]; ok && ps.IsBeating {
			return true
		}
	}
	return false
}

// LivePeers returns the members seen beating, the local node excluded.
func (s *DaemonState) LivePeers() []string {
	var out []string
	for _, name := range s.Peers() {
		if s.IsAlive(name) {
			out = append(out, name)
		}
	}
	return out
}

// Threads returns a copy of every thread status keyed by thread id.
func (s *DaemonState) Threads() map[string]ThreadStatus {
	s.threadMu.RLock()
	defer s.threadMu.RUnlock()
	out := make(map[string]ThreadStatus, len(s.threads))
	for id, t := range s.threads {
		out[id] = t.clone()
	}
	return out
}

func (s *DaemonState) forgetPeerThreads(peer string) {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	for _, t := range s.threads {
		delete(t.Peers, peer)
	}
}
