package state

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBlacklist(t *testing.T) {
	clock := newFakeClock()
	b := NewBlacklist(BlacklistConfig{Threshold: 3, Window: time.Minute, Ban: 5 * time.Minute}, clock.Now)

	addr := "10.0.0.9"
	for i := 0; i < 2; i++ {
		if b.Violation(addr) {
			t.Fatalf("banned after %d violations", i+1)
		}
	}
	if b.IsBanned(addr) {
		t.Fatal("banned below threshold")
	}
	if !b.Violation(addr) {
		t.Fatal("not banned at threshold")
	}
	if !b.IsBanned(addr) {
		t.Fatal("IsBanned() = false after ban")
	}
	if b.IsBanned("10.0.0.10") {
		t.Error("unrelated address banned")
	}

	clock.Advance(4 * time.Minute)
	if !b.IsBanned(addr) {
		t.Error("ban lifted early")
	}
	clock.Advance(2 * time.Minute)
	if b.IsBanned(addr) {
		t.Error("ban not lifted")
	}
	if len(b.Entries()) != 0 {
		t.Errorf("entries = %v, want evicted", b.Entries())
	}
}

func TestBlacklist_WindowResets(t *testing.T) {
	clock := newFakeClock()
	b := NewBlacklist(BlacklistConfig{Threshold: 3, Window: time.Minute}, clock.Now)

	b.Violation("a")
	b.Violation("a")
	clock.Advance(2 * time.Minute)
	if b.Violation("a") {
		t.Error("violations outside the window should not accumulate")
	}
}

func TestBlacklist_Clear(t *testing.T) {
	b := NewBlacklist(BlacklistConfig{Threshold: 1}, nil)
	b.Violation("a")
	b.Violation("b")

	if n := b.Clear("a"); n != 1 {
		t.Errorf("Clear(a) = %d, want 1", n)
	}
	if n := b.Clear("zz"); n != 0 {
		t.Errorf("Clear(zz) = %d, want 0", n)
	}
	if n := b.Clear(""); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if b.IsBanned("b") {
		t.Error("b still banned after clear")
	}
}

func TestBlacklist_Prune(t *testing.T) {
	clock := newFakeClock()
	b := NewBlacklist(BlacklistConfig{Threshold: 10, Window: time.Minute}, clock.Now)
	b.Violation("a")
	clock.Advance(2 * time.Minute)
	if n := b.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

func TestSubscriptionDropsWhenFull(t *testing.T) {
	s := newTestState(t, "a")
	sub := s.Subscribe(1)
	s.Publish("x", "", nil)
	s.Publish("y", "", nil)
	if sub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", sub.Dropped())
	}
	sub.Close()
	sub.Close()
	if s.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after close", s.Subscribers())
	}
	if ev, ok := <-sub.C; !ok || ev.Kind != "x" {
		t.Errorf("buffered event = %v, %v", ev, ok)
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed")
	}
}
