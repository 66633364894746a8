// Package lock implements clusterwide advisory locks on top of the
// daemon status tree.
//
// A lock is claimed by writing a lock record into the local node
// branch, waiting for the live peers to acknowledge that generation,
// then checking that no live peer published an older claim for the
// same name. Claims of stale peers are ignored.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultSyncTimeout = 2 * time.Second
	DefaultMinPoll     = 20 * time.Millisecond
	DefaultMaxPoll     = 500 * time.Millisecond
)

// Config configures a Manager.
type Config struct {
	State *state.DaemonState

	// SyncTimeout bounds the wait for peers to acknowledge a claim.
	SyncTimeout time.Duration

	// MinPoll and MaxPoll bound the backoff between checks while a
	// lock is held elsewhere.
	MinPoll time.Duration
	MaxPoll time.Duration

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Entry is a lock record with the node publishing it.
type Entry struct {
	domain.Lock
	Node string `json:"node"`
}

// Manager acquires and releases cluster locks.
type Manager struct {
	state       *state.DaemonState
	syncTimeout time.Duration
	minPoll     time.Duration
	maxPoll     time.Duration
	logger      *slog.Logger
	metrics     *metric.Registry

	// mu serializes local claims and releases.
	mu      sync.Mutex
	changed chan struct{}
}

// NewManager creates a lock manager.
func NewManager(cfg Config) *Manager {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	if cfg.MinPoll <= 0 {
		cfg.MinPoll = DefaultMinPoll
	}
	if cfg.MaxPoll < cfg.MinPoll {
		cfg.MaxPoll = DefaultMaxPoll
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		state:       cfg.State,
		syncTimeout: cfg.SyncTimeout,
		minPoll:     cfg.MinPoll,
		maxPoll:     cfg.MaxPoll,
		logger:      cfg.Logger.With("component", "lock"),
		metrics:     cfg.Metrics,
		changed:     make(chan struct{}),
	}
}

// Acquire blocks until the lock name is granted or timeout elapses.
//
// It returns the lock id on success. A lock still held elsewhere when
// timeout elapses yields domain.ErrLockTimeout; any other failure
// yields domain.ErrLockInternal. Cancelling ctx aborts the wait with
// ctx.Err().
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) (string, error) {
	if name == "" {
		return "", domain.ErrMissingArgument.WithDetails("lock name")
	}
	start := time.Now()
	id, err := m.acquire(ctx, name, timeout)
	switch {
	case err == nil:
		m.metrics.LockAcquire("ok", time.Since(start))
	case errors.Is(err, domain.ErrLockTimeout):
		m.metrics.LockAcquire("timeout", time.Since(start))
	default:
		m.metrics.LockAcquire("error", time.Since(start))
	}
	return id, err
}

func (m *Manager) acquire(ctx context.Context, name string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	poll := m.minPoll

	for {
		if holder, held := m.holder(name); !held {
			id, err := m.claim(ctx, name, deadline)
			if err != nil {
				return "", err
			}
			if id != "" {
				m.logger.Info("lock acquired", "name", name, "id", id)
				m.state.Publish(domain.EventLockAcquired, "", map[string]any{"name": name, "id": id})
				return id, nil
			}
		} else {
			m.logger.Debug("lock busy", "name", name, "holder", holder.Node, "id", holder.ID)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", domain.ErrLockTimeout.WithDetailsf("%s after %s", name, timeout)
		}
		wait := min(poll, remaining)
		poll = min(poll*2, m.maxPoll)

		m.mu.Lock()
		changed := m.changed
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-changed:
			timer.Stop()
			poll = m.minPoll
		case <-timer.C:
		}
	}
}

// claim publishes a local claim and keeps it only if no live peer holds
// an older claim once the peers acknowledged it. An empty id means the
// claim lost and was withdrawn.
func (m *Manager) claim(ctx context.Context, name string, deadline time.Time) (string, error) {
	m.mu.Lock()
	if _, held := m.holder(name); held {
		m.mu.Unlock()
		return "", nil
	}
	rec := domain.Lock{
		Name:        name,
		ID:          ulid.Make().String(),
		Requester:   m.state.Nodename(),
		RequestedAt: m.state.Now(),
	}
	gen, err := m.state.Update(state.SubLocks, func(d *state.NodeData) {
		d.Locks[name] = rec
	})
	m.mu.Unlock()
	if err != nil {
		return "", domain.ErrLockInternal.WithCause(fmt.Errorf("publish claim: %w", err))
	}

	peers := m.state.LivePeers()
	if len(peers) == 0 {
		return rec.ID, nil
	}

	syncDeadline := time.Now().Add(m.syncTimeout)
	if deadline.Before(syncDeadline) {
		syncDeadline = deadline
	}
	syncCtx, cancel := context.WithDeadline(ctx, syncDeadline)
	synced := m.state.WaitSynced(syncCtx, gen, peers)
	cancel()

	if synced && !m.olderPeerClaim(rec, peers) {
		return rec.ID, nil
	}

	if _, err := m.release(name, rec.ID); err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	m.logger.Debug("lock claim withdrawn", "name", name, "synced", synced)
	return "", nil
}

func (m *Manager) olderPeerClaim(rec domain.Lock, peers []string) bool {
	for _, peer := range peers {
		d, ok := m.state.Node(peer)
		if !ok {
			continue
		}
		other, ok := d.Locks[rec.Name]
		if !ok {
			continue
		}
		if other.RequestedAt.Before(rec.RequestedAt) ||
			(other.RequestedAt.Equal(rec.RequestedAt) && other.Requester < rec.Requester) {
			return true
		}
	}
	return false
}

// holder returns the current holder of name, looking at the local
// branch and the live peer branches.
func (m *Manager) holder(name string) (Entry, bool) {
	local := m.state.Local()
	if l, ok := local.Locks[name]; ok {
		return Entry{Lock: l, Node: m.state.Nodename()}, true
	}
	for _, peer := range m.state.LivePeers() {
		d, ok := m.state.Node(peer)
		if !ok {
			continue
		}
		if l, ok := d.Locks[name]; ok {
			return Entry{Lock: l, Node: peer}, true
		}
	}
	return Entry{}, false
}

// Release releases the lock name if id matches the local holder.
//
// A mismatched or unknown id is a successful no-op and the result is
// false. Callers must not infer from a nil error that they held the
// lock.
func (m *Manager) Release(name, id string) (bool, error) {
	released, err := m.release(name, id)
	if err != nil {
		return false, err
	}
	if released {
		m.logger.Info("lock released", "name", name, "id", id)
		m.state.Publish(domain.EventLockReleased, "", map[string]any{"name": name, "id": id})
	} else {
		m.logger.Debug("lock release ignored", "name", name, "id", id)
	}
	return released, nil
}

func (m *Manager) release(name, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.state.Local().Locks[name]
	if !ok || cur.ID != id {
		return false, nil
	}
	if _, err := m.state.Update(state.SubLocks, func(d *state.NodeData) {
		delete(d.Locks, name)
	}); err != nil {
		return false, domain.ErrLockInternal.WithCause(fmt.Errorf("publish release: %w", err))
	}
	close(m.changed)
	m.changed = make(chan struct{})
	return true, nil
}

// List returns the lock records of the local node and the live peers,
// sorted by name then node.
func (m *Manager) List() []Entry {
	var out []Entry
	for _, l := range m.state.Local().Locks {
		out = append(out, Entry{Lock: l, Node: m.state.Nodename()})
	}
	for _, peer := range m.state.LivePeers() {
		d, ok := m.state.Node(peer)
		if !ok {
			continue
		}
		for _, l := range d.Locks {
			out = append(out, Entry{Lock: l, Node: peer})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Node < out[j].Node
	})
	return out
}
