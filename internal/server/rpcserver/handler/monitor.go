package handler

import (
	"context"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

var operatorAccess = Access{Roles: []domain.Role{domain.RoleOperator}, Namespaces: FromParam("path")}

type clearHandler struct{ Deps }

func (h *clearHandler) Spec() Spec {
	return Spec{
		Name:   "clear",
		Routes: post("/clear"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
		},
		Access:    operatorAccess,
		Multiplex: MultiplexOptional,
		Mutating:  true,
	}
}

func (h *clearHandler) Action(ctx context.Context, req *Request) (any, error) {
	info, err := h.Monitor.Clear(ctx, req.Params.Path("path").String())
	if err != nil {
		return nil, err
	}
	if info != "" {
		return Info{Message: info}, nil
	}
	return nil, nil
}

type objectMonitor struct{ Deps }

func (h *objectMonitor) Spec() Spec {
	return Spec{
		Name:   "object_monitor",
		Routes: post("/object_monitor"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
			{
				Name:       "global_expect",
				Required:   true,
				Format:     FormatString,
				Candidates: []string{string(domain.ExpectStarted), string(domain.ExpectStopped), string(domain.ExpectNone)},
			},
		},
		Access:   operatorAccess,
		Mutating: true,
	}
}

func (h *objectMonitor) Action(ctx context.Context, req *Request) (any, error) {
	p := req.Params.Path("path").String()
	expect := domain.GlobalExpect(req.Params.String("global_expect"))
	if err := h.Monitor.SetGlobalExpect(ctx, p, expect); err != nil {
		return nil, err
	}
	return map[string]string{"path": p, "global_expect": string(expect)}, nil
}

type wake struct{ Deps }

func (h *wake) Spec() Spec {
	return Spec{
		Name:   "wake",
		Routes: post("/wake"),
		Prototype: []Param{
			{Name: "reason", Format: FormatString, Default: "wake request"},
		},
		Access:    rootAccess,
		Multiplex: MultiplexOptional,
	}
}

func (h *wake) Action(ctx context.Context, req *Request) (any, error) {
	h.State.Wake(req.Params.String("reason"))
	return nil, nil
}

// runDone signals the completion of a scheduled task run.
type runDone struct{ Deps }

func (h *runDone) Spec() Spec {
	return Spec{
		Name:   "run_done",
		Routes: internal(),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
		},
		Access: rootAccess,
	}
}

func (h *runDone) Action(ctx context.Context, req *Request) (any, error) {
	h.State.RunDone(req.Params.Path("path").String())
	return nil, nil
}
