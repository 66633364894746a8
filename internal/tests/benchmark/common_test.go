package benchmark

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
)

const benchCluster = "bench-cluster"

func newState(b *testing.B, nodename string, nodes ...string) *state.DaemonState {
	b.Helper()
	s, err := state.New(state.Config{
		Nodename:  nodename,
		ClusterID: benchCluster,
		Nodes:     nodes,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		b.Fatalf("state.New: %v", err)
	}
	return s
}

// publishServices fills the local branch with n service instances.
func publishServices(b *testing.B, s *state.DaemonState, n int) {
	b.Helper()
	now := time.Now()
	_, err := s.Update(state.SubServices, func(d *state.NodeData) {
		for i := range n {
			p := fmt.Sprintf("ns%d/svc/app%d", i%8, i)
			d.Services[p] = domain.InstanceStatus{
				Path:        p,
				Avail:       domain.StatusUp,
				Topology:    "failover",
				Orchestrate: "ha",
				Updated:     now,
			}
		}
	})
	if err != nil {
		b.Fatalf("Update: %v", err)
	}
}
