package handler

import (
	"context"
	"maps"
	"slices"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// events streams the daemon events the caller may read.
type events struct{ Deps }

func (h *events) Spec() Spec {
	return Spec{
		Name:   "events",
		Routes: get("/events"),
		Prototype: []Param{
			{Name: "kinds", Format: FormatList, Desc: "event kinds to keep"},
			{Name: "selector", Format: FormatString},
		},
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexNever,
	}
}

func (h *events) Action(ctx context.Context, req *Request) (any, error) {
	return nil, domain.ErrBadRequest.WithDetails("events is a streaming action")
}

// Stream emits events until ctx is done or the client is gone.
func (h *events) Stream(ctx context.Context, req *Request, emit func(any) error) error {
	sub := h.State.Subscribe(0)
	defer sub.Close()

	kinds := req.Params.List("kinds")
	sel := req.Params.String("selector")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !h.keep(req, kinds, sel, ev) {
				continue
			}
			if _, ok := ev.Data["id"]; ok && isLockEvent(ev) && !req.Caller.Grants.IsRoot() {
				ev.Data = maps.Clone(ev.Data)
				delete(ev.Data, "id")
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}

func (h *events) keep(req *Request, kinds []string, sel string, ev domain.Event) bool {
	if len(kinds) > 0 && !slices.Contains(kinds, ev.Kind) {
		return false
	}
	if isLockEvent(ev) {
		name, _ := ev.Data["name"].(string)
		return lockVisible(req.Caller, sel, name)
	}
	if ev.Path == "" {
		return sel == ""
	}
	p, err := domain.ParsePath(ev.Path)
	if err != nil {
		return req.Caller.Grants.IsRoot()
	}
	return visible(req.Caller, p.Namespace) && matchSelector(sel, p)
}

func isLockEvent(ev domain.Event) bool {
	return ev.Kind == domain.EventLockAcquired || ev.Kind == domain.EventLockReleased
}
