package handler

import (
	"context"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/lock"
)

type lockHandler struct{ Deps }

func (h *lockHandler) Spec() Spec {
	return Spec{
		Name:   "lock",
		Routes: post("/lock"),
		Prototype: []Param{
			{Name: "name", Required: true, Format: FormatString},
			{Name: "timeout", Format: FormatDuration, Default: 10 * time.Second},
		},
		Access:   Access{Roles: []domain.Role{domain.RoleRoot}},
		Mutating: true,
	}
}

func (h *lockHandler) Action(ctx context.Context, req *Request) (any, error) {
	id, err := h.Locks.Acquire(ctx, req.Params.String("name"), req.Params.Duration("timeout"))
	if err != nil {
		return nil, err
	}
	return map[string]string{"id": id}, nil
}

type unlockHandler struct{ Deps }

func (h *unlockHandler) Spec() Spec {
	return Spec{
		Name:   "unlock",
		Routes: post("/unlock"),
		Prototype: []Param{
			{Name: "name", Required: true, Format: FormatString},
			{Name: "id", Required: true, Format: FormatString},
		},
		Access:   Access{Roles: []domain.Role{domain.RoleRoot}},
		Mutating: true,
	}
}

func (h *unlockHandler) Action(ctx context.Context, req *Request) (any, error) {
	released, err := h.Locks.Release(req.Params.String("name"), req.Params.String("id"))
	if err != nil {
		return nil, err
	}
	if !released {
		return Info{Message: "lock not held with this id", Data: map[string]bool{"released": false}}, nil
	}
	return map[string]bool{"released": true}, nil
}

// listLocks returns the locks the caller may see. Lock ids are only
// shown to root, the only role able to release them.
type listLocks struct{ Deps }

func (h *listLocks) Spec() Spec {
	return Spec{
		Name:   "locks",
		Routes: get("/locks"),
		Prototype: []Param{
			{Name: "selector", Format: FormatString, Desc: "object selector of start locks"},
		},
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexNever,
	}
}

func (h *listLocks) Action(ctx context.Context, req *Request) (any, error) {
	sel := req.Params.String("selector")
	root := req.Caller.Grants.IsRoot()
	entries := []lock.Entry{}
	for _, e := range h.Locks.List() {
		if !lockVisible(req.Caller, sel, e.Name) {
			continue
		}
		if !root {
			e.ID = ""
		}
		entries = append(entries, e)
	}
	return entries, nil
}
