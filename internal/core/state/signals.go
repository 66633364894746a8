package state

import (
	"sync"
	"sync/atomic"
)

// DefaultCollectorQueueSize bounds the collector FIFO.
const DefaultCollectorQueueSize = 1024

// CollectorItem is one entry of the collector FIFO, drained by an
// external collector worker.
type CollectorItem struct {
	Args   []string       `json:"args"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

type signals struct {
	wakeC chan struct{}

	mu      sync.Mutex
	reasons []string

	collector        chan CollectorItem
	collectorDropped atomic.Uint64
}

func newSignals(collectorSize int) *signals {
	if collectorSize <= 0 {
		collectorSize = DefaultCollectorQueueSize
	}
	return &signals{
		wakeC:     make(chan struct{}, 1),
		collector: make(chan CollectorItem, collectorSize),
	}
}

func (s *signals) wake(reason string) {
	s.mu.Lock()
	if len(s.reasons) < 64 {
		s.reasons = append(s.reasons, reason)
	}
	s.mu.Unlock()
	select {
	case s.wakeC <- struct{}{}:
	default:
	}
}

// Wake asks the monitor loop for an immediate evaluation. The reason is
// kept for logging. Wakes received while one is pending coalesce.
func (s *DaemonState) Wake(reason string) {
	s.signals.wake(reason)
}

// RunDone signals that a scheduled task on path completed.
func (s *DaemonState) RunDone(path string) {
	s.signals.wake("run_done " + path)
}

// WakeC is the channel the monitor loop waits on.
func (s *DaemonState) WakeC() <-chan struct{} {
	return s.signals.wakeC
}

// WakeReasons returns and clears the reasons accumulated since the
// last call.
func (s *DaemonState) WakeReasons() []string {
	s.signals.mu.Lock()
	defer s.signals.mu.Unlock()
	out := s.signals.reasons
	s.signals.reasons = nil
	return out
}

// Enqueue appends an item to the collector FIFO. A full queue drops the
// item and the result is false.
func (s *DaemonState) Enqueue(args []string, kwargs map[string]any) bool {
	select {
	case s.signals.collector <- CollectorItem{Args: args, Kwargs: kwargs}:
		return true
	default:
		s.signals.collectorDropped.Add(1)
		return false
	}
}

// Collector is the receive side of the collector FIFO.
func (s *DaemonState) Collector() <-chan CollectorItem {
	return s.signals.collector
}

// CollectorDropped returns the number of items dropped on a full queue.
func (s *DaemonState) CollectorDropped() uint64 {
	return s.signals.collectorDropped.Load()
}
