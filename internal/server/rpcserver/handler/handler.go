package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/lock"
	"github.com/yndnr/hamesh-go/internal/core/service"
	"github.com/yndnr/hamesh-go/internal/core/state"
)

// MonitorControl is the part of the monitor loop driven by handlers.
// *monitor.Monitor implements it.
type MonitorControl interface {
	Clear(ctx context.Context, path string) (string, error)
	SetGlobalExpect(ctx context.Context, path string, expect domain.GlobalExpect) error
}

// StatsSource reports host statistics. *nodestats.Sampler implements it.
type StatsSource interface {
	Stats() map[string]any
}

// Deps are the daemon components shared by the handlers.
type Deps struct {
	State   *state.DaemonState
	Keys    *service.KeyService
	Locks   *lock.Manager
	Monitor MonitorControl
	Stats   StatsSource

	// SyncTimeout is the default wait of the sync handler.
	SyncTimeout time.Duration

	Logger *slog.Logger
}

// All returns the handler set.
func All(d Deps) []Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.SyncTimeout <= 0 {
		d.SyncTimeout = 10 * time.Second
	}
	return []Handler{
		&daemonStatus{d},
		&objectStatus{d},
		&daemonStats{d},
		&nodesInfo{d},
		&setKey{d},
		&getKey{d},
		&deleteKey{d},
		&listKeys{d},
		&lockHandler{d},
		&unlockHandler{d},
		&listLocks{d},
		&relayTx{d},
		&relayRx{d},
		&leave{d},
		&join{d},
		&askFull{d},
		&syncHandler{d},
		&clearHandler{d},
		&wake{d},
		&runDone{d},
		&objectMonitor{d},
		&blacklistStatus{d},
		&blacklistClear{d},
		&events{d},
	}
}
