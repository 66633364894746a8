package handler

import (
	"context"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

var rootAccess = Access{Roles: []domain.Role{domain.RoleRoot}}

// leave removes a node from the cluster node list. Removing an absent
// node succeeds.
type leave struct{ Deps }

func (h *leave) Spec() Spec {
	return Spec{
		Name:   "leave",
		Routes: post("/leave"),
		Prototype: []Param{
			{Name: "node_name", Required: true, Format: FormatString},
		},
		Access:    rootAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *leave) Action(ctx context.Context, req *Request) (any, error) {
	name := req.Params.String("node_name")
	changed, err := h.State.Leave(name)
	if err != nil {
		return nil, err
	}
	if !changed {
		return Info{Message: name + " is not a cluster member"}, nil
	}
	h.Logger.Info("node left the cluster", "node", name, "by", req.Caller.String())
	h.State.Enqueue([]string{"leave", name}, nil)
	return nil, nil
}

type join struct{ Deps }

func (h *join) Spec() Spec {
	return Spec{
		Name:   "join",
		Routes: post("/join"),
		Prototype: []Param{
			{Name: "node_name", Required: true, Format: FormatString},
		},
		Access:    rootAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *join) Action(ctx context.Context, req *Request) (any, error) {
	name := req.Params.String("node_name")
	if !h.State.Join(name) {
		return Info{Message: name + " is already a cluster member"}, nil
	}
	h.Logger.Info("node joined the cluster", "node", name, "by", req.Caller.String())
	h.State.Enqueue([]string{"join", name}, nil)
	return nil, nil
}

// askFull forgets the generation applied from a peer, so the next
// advertised generation map asks it for a full dataset.
type askFull struct{ Deps }

func (h *askFull) Spec() Spec {
	return Spec{
		Name:   "ask_full",
		Routes: post("/ask_full"),
		Prototype: []Param{
			{Name: "peer", Required: true, Format: FormatString},
		},
		Access:    rootAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *askFull) Action(ctx context.Context, req *Request) (any, error) {
	if err := h.State.ResetRemoteGen(req.Params.String("peer")); err != nil {
		return nil, err
	}
	return nil, nil
}

// syncHandler waits for the live peers to acknowledge the local
// generation. A timeout is a result, not an error.
type syncHandler struct{ Deps }

func (h *syncHandler) Spec() Spec {
	return Spec{
		Name:   "sync",
		Routes: post("/sync"),
		Prototype: []Param{
			{Name: "timeout", Format: FormatDuration},
		},
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexOptional,
	}
}

type syncResult struct {
	Satisfied bool     `json:"satisfied"`
	Gen       uint64   `json:"gen"`
	Peers     []string `json:"peers"`
	Elapsed   string   `json:"elapsed"`
}

func (h *syncHandler) Action(ctx context.Context, req *Request) (any, error) {
	timeout := h.SyncTimeout
	if req.Params.Has("timeout") {
		timeout = req.Params.Duration("timeout")
	}
	start := time.Now()
	gen := h.State.LocalGen()
	peers := h.State.LivePeers()
	if peers == nil {
		peers = []string{}
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ok := h.State.WaitSynced(wctx, gen, peers)
	if !ok && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return syncResult{Satisfied: ok, Gen: gen, Peers: peers, Elapsed: time.Since(start).Round(time.Millisecond).String()}, nil
}
