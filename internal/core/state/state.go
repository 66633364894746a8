// Package state implements DaemonState, the process-wide data model
// shared by heartbeat threads, the monitor loop, the lock manager and
// the RPC handlers.
//
// DaemonState is a set of independently locked containers. A caller
// never holds two container locks at once, and no DaemonState lock is
// held while calling out of the package, so DaemonState locks are
// always the innermost locks of the daemon.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// DefaultPatchHistory is the number of generations kept for delta sends.
const DefaultPatchHistory = 128

// Config configures a DaemonState.
type Config struct {
	Nodename    string
	ClusterID   string
	ClusterName string

	// Nodes is the ordered cluster node list, the local node included.
	Nodes []string

	// PatchHistory bounds the generations kept for delta payloads.
	PatchHistory int

	Blacklist BlacklistConfig

	// CollectorQueueSize bounds the collector FIFO.
	CollectorQueueSize int

	Logger *slog.Logger

	// Now overrides time.Now in tests.
	Now func() time.Time
}

// DaemonState is the shared data model of one daemon instance.
type DaemonState struct {
	nodename    string
	clusterID   string
	clusterName string
	boot        string
	logger      *slog.Logger
	now         func() time.Time
	maxPatches  int

	// data container: local branch, local generation, patch history,
	// peer branches and the generation bookkeeping.
	dataMu   sync.RWMutex
	localGen uint64
	local    NodeData
	patches  []Patch
	peers    map[string]*peerData
	synced   chan struct{}
	changed  chan struct{}

	// membership container
	memberMu sync.RWMutex
	members  []string

	// thread status container
	threadMu sync.RWMutex
	threads  map[string]*ThreadStatus

	blacklist *Blacklist
	events    *eventBus
	relay     *relayStore
	signals   *signals
}

// peerData holds what we know about one peer node.
type peerData struct {
	data NodeData

	// remoteGen is REMOTE_GEN: the last peer generation applied here,
	// as advertised back to the peer. Zero asks for a full dataset.
	remoteGen uint64

	// highGen is the highest peer generation ever applied for the
	// current boot. It survives resync requests so a reordered older
	// payload is never applied over newer data.
	highGen uint64

	// ackGen is LOCAL_GEN: the last local generation the peer reported
	// as applied.
	ackGen uint64
	ackAt  time.Time

	boot    string
	hasData bool
	updated time.Time
}

// New creates a DaemonState. The local branch starts at generation 1.
func New(cfg Config) (*DaemonState, error) {
	if cfg.Nodename == "" {
		return nil, fmt.Errorf("nodename is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PatchHistory <= 0 {
		cfg.PatchHistory = DefaultPatchHistory
	}

	members := slices.Clone(cfg.Nodes)
	if !slices.Contains(members, cfg.Nodename) {
		members = append(members, cfg.Nodename)
	}

	s := &DaemonState{
		nodename:    cfg.Nodename,
		clusterID:   cfg.ClusterID,
		clusterName: cfg.ClusterName,
		boot:        ulid.Make().String(),
		logger:      cfg.Logger.With("component", "state"),
		now:         cfg.Now,
		maxPatches:  cfg.PatchHistory,
		localGen:    1,
		local:       newNodeData(),
		peers:       make(map[string]*peerData),
		synced:      make(chan struct{}),
		changed:     make(chan struct{}),
		members:     members,
		threads:     make(map[string]*ThreadStatus),
		blacklist:   NewBlacklist(cfg.Blacklist, cfg.Now),
		events:      newEventBus(cfg.Nodename, cfg.Now),
		relay:       newRelayStore(),
		signals:     newSignals(cfg.CollectorQueueSize),
	}
	s.local.Monitor.StatusUpdated = s.now()
	return s, nil
}

// Nodename returns the local node name.
func (s *DaemonState) Nodename() string {
	return s.nodename
}

// ClusterID returns the cluster id.
func (s *DaemonState) ClusterID() string {
	return s.clusterID
}

// ClusterName returns the cluster name.
func (s *DaemonState) ClusterName() string {
	return s.clusterName
}

// Boot returns the boot id of this daemon instance.
func (s *DaemonState) Boot() string {
	return s.boot
}

// Now returns the state clock.
func (s *DaemonState) Now() time.Time {
	return s.now()
}

// Blacklist returns the sender blacklist container.
func (s *DaemonState) Blacklist() *Blacklist {
	return s.blacklist
}

// LocalGen returns the local generation.
func (s *DaemonState) LocalGen() uint64 {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.localGen
}

// Update applies fn to the local branch and bumps the local generation,
// all under the data lock. The changed subsystem is recorded as the
// patch of the new generation.
func (s *DaemonState) Update(subsystem string, fn func(*NodeData)) (uint64, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	next := s.local.Clone()
	fn(&next)
	raw, err := next.marshalSubsystem(subsystem)
	if err != nil {
		return s.localGen, err
	}

	s.local = next
	s.localGen++
	s.patches = append(s.patches, Patch{Gen: s.localGen, Subsystem: subsystem, Data: raw})
	if over := len(s.patches) - s.maxPatches; over > 0 {
		s.patches = slices.Delete(s.patches, 0, over)
	}
	s.notifyChangedLocked()
	return s.localGen, nil
}

// Changed returns a channel closed at the next change of the generation
// map: a local update, an applied peer dataset or a resync request.
// Heartbeat senders use it to transmit without waiting for their
// interval.
func (s *DaemonState) Changed() <-chan struct{} {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.changed
}

// notifyChangedLocked wakes Changed waiters. dataMu must be held.
func (s *DaemonState) notifyChangedLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Local returns a copy of the local branch.
func (s *DaemonState) Local() NodeData {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.local.Clone()
}

// Node returns a copy of a node branch, the local node included.
func (s *DaemonState) Node(nodename string) (NodeData, bool) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if nodename == s.nodename {
		return s.local.Clone(), true
	}
	p, ok := s.peers[nodename]
	if !ok || !p.hasData {
		return NodeData{}, false
	}
	return p.data.Clone(), true
}

// Nodes returns copies of every known node branch keyed by node name.
func (s *DaemonState) Nodes() map[string]NodeData {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	out := make(map[string]NodeData, len(s.peers)+1)
	out[s.nodename] = s.local.Clone()
	for name, p := range s.peers {
		if !p.hasData {
			continue
		}
		out[name] = p.data.Clone()
	}
	return out
}

// Generations returns the generation map advertised by this node: the
// local generation and REMOTE_GEN of every peer.
func (s *DaemonState) Generations() map[string]uint64 {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.generationsLocked()
}

func (s *DaemonState) generationsLocked() map[string]uint64 {
	gen := make(map[string]uint64, len(s.peers)+1)
	gen[s.nodename] = s.localGen
	for name, p := range s.peers {
		gen[name] = p.remoteGen
	}
	return gen
}

// AckedGenerations returns LOCAL_GEN per peer: the generation of local
// data each peer reported as applied.
func (s *DaemonState) AckedGenerations() map[string]uint64 {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	out := make(map[string]uint64, len(s.peers))
	for name, p := range s.peers {
		out[name] = p.ackGen
	}
	return out
}

// ResetRemoteGen forgets the applied generation of a peer, so the next
// advertised generation map asks that peer for a full dataset.
func (s *DaemonState) ResetRemoteGen(nodename string) error {
	if nodename == s.nodename {
		return domain.ErrNodeIsSelf.WithDetails(nodename)
	}
	if !s.IsMember(nodename) {
		return domain.ErrNodeNotMember.WithDetails(nodename)
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if p, ok := s.peers[nodename]; ok {
		p.remoteGen = 0
		s.notifyChangedLocked()
	}
	return nil
}

// WaitSynced blocks until every listed peer acknowledged at least gen,
// or ctx is done. It reports whether the condition was satisfied.
func (s *DaemonState) WaitSynced(ctx context.Context, gen uint64, peers []string) bool {
	for {
		s.dataMu.RLock()
		ok := true
		for _, name := range peers {
			p, found := s.peers[name]
			if !found || p.ackGen < gen {
				ok = false
				break
			}
		}
		ch := s.synced
		s.dataMu.RUnlock()
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}
	}
}

// notifySyncedLocked wakes WaitSynced callers. dataMu must be held.
func (s *DaemonState) notifySyncedLocked() {
	close(s.synced)
	s.synced = make(chan struct{})
}

func (s *DaemonState) dropPeer(nodename string) {
	s.dataMu.Lock()
	delete(s.peers, nodename)
	s.notifySyncedLocked()
	s.dataMu.Unlock()
}
