package handler

import (
	"context"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

var blacklistAccess = Access{Roles: []domain.Role{domain.RoleBlacklistAdmin}}

type blacklistStatus struct{ Deps }

func (h *blacklistStatus) Spec() Spec {
	return Spec{
		Name:      "blacklist_status",
		Routes:    get("/blacklist_status"),
		Access:    blacklistAccess,
		Multiplex: MultiplexOptional,
	}
}

func (h *blacklistStatus) Action(ctx context.Context, req *Request) (any, error) {
	return h.State.Blacklist().Entries(), nil
}

type blacklistClear struct{ Deps }

func (h *blacklistClear) Spec() Spec {
	return Spec{
		Name:   "blacklist_clear",
		Routes: post("/blacklist_clear"),
		Prototype: []Param{
			{Name: "addr", Format: FormatString, Desc: "address to clear, all when empty"},
		},
		Access:    blacklistAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *blacklistClear) Action(ctx context.Context, req *Request) (any, error) {
	n := h.State.Blacklist().Clear(req.Params.String("addr"))
	h.Logger.Info("blacklist cleared", "addr", req.Params.String("addr"), "entries", n, "by", req.Caller.String())
	return map[string]int{"cleared": n}, nil
}
