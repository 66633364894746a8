package state

import (
	"sort"
	"sync"
	"time"
)

// Blacklist defaults.
const (
	DefaultBlacklistThreshold = 5
	DefaultBlacklistWindow    = time.Minute
	DefaultBlacklistBan       = 10 * time.Minute
)

// BlacklistConfig configures the sender blacklist.
type BlacklistConfig struct {
	// Threshold is the violation count within Window that bans a sender.
	Threshold int

	// Window is the violation counting period.
	Window time.Duration

	// Ban is how long a banned sender stays rejected.
	Ban time.Duration
}

// BlacklistEntry is the record of one sender address.
type BlacklistEntry struct {
	Address     string    `json:"address"`
	Count       int       `json:"count"`
	FirstAt     time.Time `json:"first_at"`
	LastAt      time.Time `json:"last_at"`
	BannedUntil time.Time `json:"banned_until,omitempty"`
}

// Blacklist counts violations per sender address and bans senders that
// exceed the threshold within the window.
type Blacklist struct {
	cfg BlacklistConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*BlacklistEntry
}

// NewBlacklist creates a blacklist. Zero config values take defaults.
func NewBlacklist(cfg BlacklistConfig, now func() time.Time) *Blacklist {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultBlacklistThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBlacklistWindow
	}
	if cfg.Ban <= 0 {
		cfg.Ban = DefaultBlacklistBan
	}
	if now == nil {
		now = time.Now
	}
	return &Blacklist{
		cfg:     cfg,
		now:     now,
		entries: make(map[string]*BlacklistEntry),
	}
}

// IsBanned reports whether addr is currently banned.
func (b *Blacklist) IsBanned(addr string) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[addr]
	if !ok {
		return false
	}
	if b.expiredLocked(e, now) {
		delete(b.entries, addr)
		return false
	}
	return now.Before(e.BannedUntil)
}

// Violation counts one violation for addr and reports whether addr is
// banned afterwards.
func (b *Blacklist) Violation(addr string) bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[addr]
	if !ok || b.expiredLocked(e, now) {
		e = &BlacklistEntry{Address: addr, FirstAt: now}
		b.entries[addr] = e
	}
	if now.Sub(e.FirstAt) > b.cfg.Window && now.After(e.BannedUntil) {
		e.Count = 0
		e.FirstAt = now
	}
	e.Count++
	e.LastAt = now
	if e.Count >= b.cfg.Threshold && now.After(e.BannedUntil) {
		e.BannedUntil = now.Add(b.cfg.Ban)
	}
	return now.Before(e.BannedUntil)
}

// Clear resets addr, or every entry when addr is empty. It returns the
// number of entries removed.
func (b *Blacklist) Clear(addr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr == "" {
		n := len(b.entries)
		b.entries = make(map[string]*BlacklistEntry)
		return n
	}
	if _, ok := b.entries[addr]; ok {
		delete(b.entries, addr)
		return 1
	}
	return 0
}

// Prune evicts entries whose window and ban are both over.
func (b *Blacklist) Prune() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for addr, e := range b.entries {
		if b.expiredLocked(e, now) {
			delete(b.entries, addr)
			n++
		}
	}
	return n
}

// Entries returns a copy of the live entries sorted by address.
func (b *Blacklist) Entries() []BlacklistEntry {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BlacklistEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if !b.expiredLocked(e, now) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (b *Blacklist) expiredLocked(e *BlacklistEntry, now time.Time) bool {
	return now.Sub(e.LastAt) > b.cfg.Window && !now.Before(e.BannedUntil)
}

// BlacklistSize returns the number of tracked sender addresses.
func (s *DaemonState) BlacklistSize() int {
	return len(s.blacklist.Entries())
}
