package handler

import (
	"context"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
)

var relayAccess = Access{Roles: []domain.Role{domain.RoleHeartbeat}}

// relayTx stores the latest payload of a node reaching its peers
// through this daemon.
type relayTx struct{ Deps }

func (h *relayTx) Spec() Spec {
	return Spec{
		Name:   "relay_tx",
		Routes: post("/relay_tx"),
		Prototype: []Param{
			{Name: "cluster_id", Required: true, Format: FormatString},
			{Name: "nodename", Required: true, Format: FormatString},
			{Name: "msg", Required: true, Format: FormatBase64},
			{Name: "updated", Required: true, Format: FormatTime},
		},
		Access: relayAccess,
	}
}

func (h *relayTx) Action(ctx context.Context, req *Request) (any, error) {
	stored := h.State.RelayStore(state.RelaySlot{
		ClusterID: req.Params.String("cluster_id"),
		Nodename:  req.Params.String("nodename"),
		Addr:      req.ClientAddr,
		Msg:       req.Params.Bytes("msg"),
		Updated:   req.Params.Time("updated"),
	})
	if !stored {
		return Info{Message: "older than the stored payload"}, nil
	}
	return nil, nil
}

type relayRx struct{ Deps }

func (h *relayRx) Spec() Spec {
	return Spec{
		Name:   "relay_rx",
		Routes: get("/relay_rx"),
		Prototype: []Param{
			{Name: "cluster_id", Required: true, Format: FormatString},
			{Name: "slot", Required: true, Format: FormatString, Desc: "nodename of the sender"},
		},
		Access: relayAccess,
	}
}

func (h *relayRx) Action(ctx context.Context, req *Request) (any, error) {
	clusterID, slot := req.Params.String("cluster_id"), req.Params.String("slot")
	s, ok := h.State.RelayLoad(clusterID, slot)
	if !ok {
		return nil, domain.ErrRelaySlotNotFound.WithDetails(clusterID + "/" + slot)
	}
	return s, nil
}
