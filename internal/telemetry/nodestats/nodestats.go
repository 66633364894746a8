// Package nodestats samples host statistics and publishes them in the
// local dataset.
package nodestats

import (
	"context"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/yndnr/hamesh-go/internal/core/state"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 30 * time.Second

// Config configures a Sampler.
type Config struct {
	State    *state.DaemonState
	Interval time.Duration
	Logger   *slog.Logger
}

// Sampler samples host statistics.
type Sampler struct {
	state    *state.DaemonState
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last map[string]any
}

// New creates a sampler.
func New(cfg Config) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sampler{
		state:    cfg.State,
		interval: cfg.Interval,
		logger:   cfg.Logger.With("component", "nodestats"),
		last:     make(map[string]any),
	}
}

// Stats returns the last sample.
func (s *Sampler) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.last)
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	s.Sample(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample takes one sample and publishes it. Statistics the platform
// cannot provide are left out.
func (s *Sampler) Sample(ctx context.Context) map[string]any {
	stats := map[string]any{
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats["load_avg_1"] = avg.Load1
		stats["load_avg_5"] = avg.Load5
		stats["load_avg_15"] = avg.Load15
	} else {
		s.logger.Debug("load average unavailable", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["mem_total_mb"] = vm.Total >> 20
		stats["mem_avail_mb"] = vm.Available >> 20
		stats["mem_avail_pct"] = pct(vm.Available, vm.Total)
	} else {
		s.logger.Debug("memory statistics unavailable", "error", err)
	}
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		stats["swap_total_mb"] = sw.Total >> 20
		stats["swap_avail_mb"] = sw.Free >> 20
		stats["swap_avail_pct"] = pct(sw.Free, sw.Total)
	}

	s.mu.Lock()
	s.last = stats
	s.mu.Unlock()

	if s.state != nil {
		published := maps.Clone(stats)
		if _, err := s.state.Update(state.SubStats, func(d *state.NodeData) {
			d.Stats = published
		}); err != nil {
			s.logger.Warn("publish stats failed", "error", err)
		}
	}
	return stats
}

func pct(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) * 100 / float64(total)
}
