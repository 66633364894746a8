package handler

import (
	"context"
	"runtime"
	"strings"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
)

// daemonStatus returns the status tree, pruned of the objects the
// caller may not read.
type daemonStatus struct{ Deps }

func (h *daemonStatus) Spec() Spec {
	return Spec{
		Name:   "daemon_status",
		Routes: get("/daemon_status"),
		Prototype: []Param{
			{Name: "selector", Format: FormatString, Desc: "object selector, comma separated globs"},
		},
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexNever,
	}
}

func (h *daemonStatus) Action(ctx context.Context, req *Request) (any, error) {
	snap := h.State.Snapshot()
	sel := req.Params.String("selector")
	for name, n := range snap.Nodes {
		n.NodeData = filterNode(req.Caller, sel, n.NodeData)
		snap.Nodes[name] = n
	}
	return snap, nil
}

// filterNode drops the services, keys and object locks outside the
// caller grants or the selector. d is a snapshot copy.
func filterNode(caller domain.Identity, sel string, d state.NodeData) state.NodeData {
	keep := func(s string) bool {
		p, err := domain.ParsePath(s)
		if err != nil {
			return caller.Grants.IsRoot()
		}
		return visible(caller, p.Namespace) && matchSelector(sel, p)
	}
	for path := range d.Services {
		if !keep(path) {
			delete(d.Services, path)
		}
	}
	for path := range d.Keys {
		if !keep(path) {
			delete(d.Keys, path)
		}
	}
	for name := range d.Locks {
		if !lockVisible(caller, sel, name) {
			delete(d.Locks, name)
		}
	}
	return d
}

// lockVisible reports whether caller may see the lock name. Object
// locks ("<action>:<path>") follow the object grants and the selector;
// other locks are visible to root only.
func lockVisible(caller domain.Identity, sel, name string) bool {
	_, s, ok := strings.Cut(name, ":")
	if !ok {
		return caller.Grants.IsRoot()
	}
	p, err := domain.ParsePath(s)
	if err != nil {
		return caller.Grants.IsRoot()
	}
	return visible(caller, p.Namespace) && matchSelector(sel, p)
}

// objectStatus returns the instance statuses of one object on every
// node publishing it.
type objectStatus struct{ Deps }

func (h *objectStatus) Spec() Spec {
	return Spec{
		Name:   "object_status",
		Routes: get("/object_status"),
		Prototype: []Param{
			{Name: "path", Required: true, Format: FormatPath},
		},
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: FromParam("path")},
		Multiplex: MultiplexNever,
	}
}

type objectStatusResult struct {
	Path      string                           `json:"path"`
	Avail     domain.Status                    `json:"avail"`
	Instances map[string]domain.InstanceStatus `json:"instances"`
}

func (h *objectStatus) Action(ctx context.Context, req *Request) (any, error) {
	p := req.Params.Path("path").String()
	res := objectStatusResult{Path: p, Instances: make(map[string]domain.InstanceStatus)}
	var avails []domain.Status
	for name, n := range h.State.Snapshot().Nodes {
		inst, ok := n.Services[p]
		if !ok {
			continue
		}
		res.Instances[name] = inst
		avails = append(avails, inst.Avail)
	}
	if len(res.Instances) == 0 {
		return nil, domain.ErrObjectNotFound.WithDetails(p)
	}
	res.Avail = aggregateInstances(avails)
	return res, nil
}

// aggregateInstances is up when any instance is up.
func aggregateInstances(avails []domain.Status) domain.Status {
	out := domain.StatusNA
	for _, a := range avails {
		switch {
		case a == domain.StatusUp:
			return domain.StatusUp
		case a == domain.StatusWarn:
			out = domain.StatusWarn
		case a == domain.StatusDown && out == domain.StatusNA:
			out = domain.StatusDown
		}
	}
	return out
}

// daemonStats reports host statistics and thread counters.
type daemonStats struct{ Deps }

func (h *daemonStats) Spec() Spec {
	return Spec{
		Name:      "daemon_stats",
		Routes:    get("/daemon_stats"),
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexOptional,
	}
}

type threadStats struct {
	Type    string `json:"type,omitempty"`
	State   string `json:"state"`
	TxCount uint64 `json:"tx_count"`
	RxCount uint64 `json:"rx_count"`
	Errors  uint64 `json:"errors"`
}

func (h *daemonStats) Action(ctx context.Context, req *Request) (any, error) {
	threads := make(map[string]threadStats)
	for id, t := range h.State.Threads() {
		threads[id] = threadStats{Type: t.Type, State: t.State, TxCount: t.TxCount, RxCount: t.RxCount, Errors: t.Errors}
	}
	var host map[string]any
	if h.Stats != nil {
		host = h.Stats.Stats()
	}
	return map[string]any{
		"node":              h.State.Nodename(),
		"gen":               h.State.LocalGen(),
		"host":              host,
		"threads":           threads,
		"goroutines":        runtime.NumGoroutine(),
		"subscribers":       h.State.Subscribers(),
		"blacklist":         h.State.BlacklistSize(),
		"collector_dropped": h.State.CollectorDropped(),
	}, nil
}

// nodesInfo lists the cluster nodes with their link status and labels.
type nodesInfo struct{ Deps }

func (h *nodesInfo) Spec() Spec {
	return Spec{
		Name:      "nodes_info",
		Routes:    get("/nodes_info"),
		Access:    Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: NamespacesAny},
		Multiplex: MultiplexNever,
	}
}

type nodeInfo struct {
	Name   string            `json:"name"`
	Alive  bool              `json:"alive"`
	Self   bool              `json:"self"`
	Gen    uint64            `json:"gen"`
	Labels map[string]string `json:"labels,omitempty"`
}

func (h *nodesInfo) Action(ctx context.Context, req *Request) (any, error) {
	gens := h.State.Generations()
	self := h.State.Nodename()
	var out []nodeInfo
	for _, name := range h.State.Members() {
		info := nodeInfo{Name: name, Alive: h.State.IsAlive(name), Self: name == self, Gen: gens[name]}
		if name == self {
			info.Labels = h.State.Local().Labels
		} else if d, ok := h.State.Node(name); ok {
			info.Labels = d.Labels
		}
		out = append(out, info)
	}
	return out, nil
}
