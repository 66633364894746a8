package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/service"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver/handler"
	"github.com/yndnr/hamesh-go/internal/telemetry/logger"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 4 << 20

// Reserved request parameters, consumed by the dispatcher.
const (
	ParamAction = "action"
	ParamNode   = "node"
)

// Authenticator authenticates TCP callers. *service.AuthService
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, req service.AuthRequest) (domain.Identity, error)
	CheckRateLimit(addr string) error
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Handlers []handler.Handler
	State    *state.DaemonState
	Auth     Authenticator

	// Forwarder runs multiplexed requests on peers. Without it, peers
	// are reported unreachable.
	Forwarder *Forwarder

	MaxBodyBytes int64
	Metrics      *metric.Registry
	Logger       *slog.Logger
}

type prefixRoute struct {
	route handler.Route
	h     handler.Handler
}

// Dispatcher resolves requests to handlers and runs them.
type Dispatcher struct {
	routes    map[handler.Route]handler.Handler
	prefixes  []prefixRoute
	actions   map[string]handler.Handler
	state     *state.DaemonState
	auth      Authenticator
	forwarder *Forwarder
	maxBody   int64
	metrics   *metric.Registry
	logger    *slog.Logger
}

// NewDispatcher builds the route table. Duplicate action names or
// routes are rejected.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.State == nil || cfg.Auth == nil {
		return nil, fmt.Errorf("dispatcher needs a state and an authenticator")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		routes:    make(map[handler.Route]handler.Handler),
		actions:   make(map[string]handler.Handler),
		state:     cfg.State,
		auth:      cfg.Auth,
		forwarder: cfg.Forwarder,
		maxBody:   cfg.MaxBodyBytes,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "listener"),
	}
	for _, h := range cfg.Handlers {
		spec := h.Spec()
		if _, dup := d.actions[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate action %s", spec.Name)
		}
		d.actions[spec.Name] = h
		for _, r := range spec.Routes {
			if _, dup := d.routes[r]; dup {
				return nil, fmt.Errorf("duplicate route %s %s", r.Method, r.Path)
			}
			d.routes[r] = h
			d.prefixes = append(d.prefixes, prefixRoute{route: r, h: h})
		}
	}
	// Longest prefix first.
	slices.SortFunc(d.prefixes, func(a, b prefixRoute) int {
		return len(b.route.Path) - len(a.route.Path)
	})
	return d, nil
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name, status := d.serve(w, r, auditFrom(r.Context()))
	if name == "" {
		name = "unresolved"
	}
	d.metrics.Request(name, status, time.Since(start))
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, rec *auditRecord) (string, int) {
	ctx := r.Context()
	addr := clientIP(r)
	caller, trusted := IdentityFromContext(ctx)

	if !trusted {
		if d.state.Blacklist().IsBanned(addr) {
			d.metrics.Rejected()
			return "", writeError(w, domain.ErrBlacklisted.WithDetails(addr))
		}
		if err := d.auth.CheckRateLimit(addr); err != nil {
			w.Header().Set("Retry-After", "1")
			return "", writeError(w, err)
		}
	}

	raw, err := d.parse(w, r)
	if err != nil {
		return "", writeError(w, err)
	}
	h, err := d.resolve(r.Method, r.URL.Path, raw)
	if err != nil {
		return "", writeError(w, err)
	}
	spec := h.Spec()
	rec.handler = spec.Name
	rec.mutating = spec.Mutating

	if !trusted {
		user, pass, _ := r.BasicAuth()
		caller, err = d.auth.Authenticate(ctx, service.AuthRequest{Username: user, Password: pass, ClientAddr: addr})
		if err != nil {
			return spec.Name, writeError(w, err)
		}
	}
	rec.caller = caller.String()

	if err := checkRoles(spec.Access, caller); err != nil {
		return spec.Name, writeError(w, err)
	}

	if err := checkNamespaces(spec.Access, caller, raw); err != nil {
		return spec.Name, writeError(w, err)
	}
	sel, err := nodeSelector(spec, raw)
	if err != nil {
		return spec.Name, writeError(w, err)
	}
	params, err := handler.Validate(spec.Prototype, raw)
	if err != nil {
		return spec.Name, writeError(w, err)
	}
	rec.params = raw

	req := &handler.Request{
		ID:         logger.RequestIDFromContext(ctx),
		Caller:     caller,
		ClientAddr: addr,
		Params:     params,
	}

	if sel != "" {
		resp, err := d.multiplex(ctx, h, sel, raw, req)
		if err != nil {
			return spec.Name, writeError(w, err)
		}
		writeJSON(w, http.StatusOK, resp)
		return spec.Name, http.StatusOK
	}

	if s, ok := h.(handler.Streamer); ok {
		return spec.Name, d.stream(w, r, s, req)
	}

	v, err := h.Action(ctx, req)
	if err != nil {
		return spec.Name, writeError(w, err)
	}
	writeJSON(w, http.StatusOK, resultResponse(v))
	return spec.Name, http.StatusOK
}

// parse merges the query parameters and the JSON object body.
func (d *Dispatcher) parse(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	raw := make(map[string]any)
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			raw[k] = vs[0]
			continue
		}
		l := make([]any, len(vs))
		for i, v := range vs {
			l[i] = v
		}
		raw[k] = l
	}
	if r.Method != http.MethodPost || r.Body == nil {
		return raw, nil
	}

	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.ErrBadRequest.WithDetailsf("decode body: %v", err)
	}
	maps.Copy(raw, body)
	return raw, nil
}

// resolve finds the handler by exact route, by action name on "/", then
// by route prefix. A prefix match passes the rest of the path as the
// path parameter.
func (d *Dispatcher) resolve(method, urlPath string, raw map[string]any) (handler.Handler, error) {
	if urlPath == "/" {
		action, _ := raw[ParamAction].(string)
		delete(raw, ParamAction)
		if h, ok := d.actions[action]; ok && action != "" {
			return h, nil
		}
		return nil, domain.ErrRouteNotFound.WithDetailsf("action %q", action)
	}

	if h, ok := d.routes[handler.Route{Method: method, Path: urlPath}]; ok {
		return h, nil
	}
	for _, pr := range d.prefixes {
		if pr.route.Method != method {
			continue
		}
		rest, ok := strings.CutPrefix(urlPath, pr.route.Path+"/")
		if !ok || rest == "" {
			continue
		}
		if !slices.ContainsFunc(pr.h.Spec().Prototype, func(p handler.Param) bool { return p.Name == "path" }) {
			continue
		}
		if _, set := raw["path"]; !set {
			raw["path"] = rest
		}
		return pr.h, nil
	}
	return nil, domain.ErrRouteNotFound.WithDetailsf("%s %s", method, urlPath)
}

// nodeSelector consumes the node parameter.
func nodeSelector(spec handler.Spec, raw map[string]any) (string, error) {
	v, ok := raw[ParamNode]
	delete(raw, ParamNode)

	var sel string
	switch x := v.(type) {
	case nil:
	case string:
		sel = strings.TrimSpace(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, fmt.Sprint(e))
		}
		sel = strings.Join(parts, ",")
	default:
		return "", domain.ErrInvalidArgument.WithDetailsf("%s: %T is not a node selector", ParamNode, v)
	}

	switch spec.Multiplex {
	case handler.MultiplexNever:
		if ok && sel != "" {
			return "", domain.ErrInvalidArgument.WithDetailsf("%s does not run on other nodes", spec.Name)
		}
		return "", nil
	case handler.MultiplexAlways:
		if sel == "" {
			sel = "*"
		}
	}
	return sel, nil
}

// targets expands a node selector: "*" is the local node and the live
// peers, otherwise a comma separated list of members.
func (d *Dispatcher) targets(sel string) ([]string, error) {
	if sel == "*" {
		out := append([]string{d.state.Nodename()}, d.state.LivePeers()...)
		slices.Sort(out)
		return slices.Compact(out), nil
	}
	var out []string
	for _, name := range strings.Split(sel, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !d.state.IsMember(name) {
			return nil, domain.ErrNodeNotMember.WithDetails(name)
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("empty node selector")
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// multiplex runs the request on the selected nodes concurrently and
// merges the responses. The status is non-zero when any node failed.
func (d *Dispatcher) multiplex(ctx context.Context, h handler.Handler, sel string, raw map[string]any, req *handler.Request) (Response, error) {
	if _, ok := h.(handler.Streamer); ok {
		return Response{}, domain.ErrInvalidArgument.WithDetails("streams do not run on other nodes")
	}
	nodes, err := d.targets(sel)
	if err != nil {
		return Response{}, err
	}

	name := h.Spec().Name
	results := make(map[string]Response, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, node := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var resp Response
			switch {
			case node == d.state.Nodename():
				resp = d.runLocal(ctx, h, req)
			case d.forwarder == nil:
				resp, _ = errorResponse(domain.ErrNodeUnreachable.WithDetails(node))
			default:
				resp = d.forwarder.Forward(ctx, node, name, raw)
			}
			mu.Lock()
			results[node] = resp
			mu.Unlock()
		}()
	}
	wg.Wait()

	out := Response{Data: map[string]any{"nodes": results}}
	for _, resp := range results {
		if !resp.OK() {
			out.Status = 1
			break
		}
	}
	return out, nil
}

func (d *Dispatcher) runLocal(ctx context.Context, h handler.Handler, req *handler.Request) (resp Response) {
	defer func() {
		if err := recover(); err != nil {
			d.logger.Error("panic in multiplexed action", "action", h.Spec().Name, "error", err)
			resp, _ = errorResponse(domain.ErrInternalServer.WithDetails(fmt.Sprint(err)))
		}
	}()
	v, err := h.Action(ctx, req)
	if err != nil {
		resp, _ = errorResponse(err)
		return resp
	}
	return resultResponse(v)
}

// stream writes one JSON document per line, flushed as produced.
func (d *Dispatcher) stream(w http.ResponseWriter, r *http.Request, s handler.Streamer, req *handler.Request) int {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	err := s.Stream(r.Context(), req, func(v any) error {
		if err := enc.Encode(v); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		d.logger.Debug("stream ended", "request_id", req.ID, "error", err)
	}
	return http.StatusOK
}

// checkRoles checks that caller holds one of the roles, on any
// namespace for scoped roles.
func checkRoles(a handler.Access, caller domain.Identity) error {
	if caller.Grants.IsRoot() || len(a.Roles) == 0 {
		return nil
	}
	for _, role := range a.Roles {
		if caller.Grants.Has(role) {
			return nil
		}
	}
	if caller.Kind == domain.IdentityAnonymous {
		return domain.ErrAuthRequired
	}
	names := make([]string, len(a.Roles))
	for i, r := range a.Roles {
		names[i] = string(r)
	}
	return domain.ErrPermissionDenied.WithDetailsf("requires %s", strings.Join(names, " or "))
}

// scopePath parses the object path a FROM:<param> scope is derived from.
func scopePath(param string, v any) (domain.ObjectPath, error) {
	switch x := v.(type) {
	case nil:
		return domain.ObjectPath{}, domain.ErrMissingArgument.WithDetails(param)
	case string:
		p, err := domain.ParsePath(x)
		if err != nil {
			var de *domain.DomainError
			if errors.As(err, &de) {
				return domain.ObjectPath{}, de.WithDetailsf("%s: %s", param, de.Details)
			}
			return domain.ObjectPath{}, domain.ErrInvalidArgument.WithDetailsf("%s: %v", param, err)
		}
		return p, nil
	default:
		return domain.ObjectPath{}, domain.ErrInvalidArgument.WithDetailsf("%s: %T is not an object path", param, v)
	}
}

// checkNamespaces checks the namespace scope of the access policy:
// "ANY" needs the role on one namespace, a list needs it on every
// listed namespace, FROM:<param> needs it on the namespace of the path
// parameter. It runs on the raw parameters, before the prototype
// validation, so the other arguments never change the outcome.
func checkNamespaces(a handler.Access, caller domain.Identity, raw map[string]any) error {
	g := caller.Grants
	if g.IsRoot() || a.Namespaces == "" || a.Namespaces == handler.NamespacesAny {
		return nil
	}

	var nss []string
	secret := false
	if param, ok := a.ParamFrom(); ok {
		p, err := scopePath(param, raw[param])
		if err != nil {
			return err
		}
		nss = []string{p.Namespace}
		secret = p.Kind.IsSecret()
	} else {
		for _, ns := range strings.Split(a.Namespaces, ",") {
			if ns = strings.TrimSpace(ns); ns != "" {
				nss = append(nss, ns)
			}
		}
	}

	for _, ns := range nss {
		granted := false
		for _, role := range a.Roles {
			if g.HasOn(role, ns) || (!role.IsScoped() && g.Has(role)) {
				granted = true
				break
			}
		}
		if !granted {
			return domain.ErrNamespaceDenied.WithDetails(ns)
		}
		if secret && a.SecretRole != "" && !g.HasOn(a.SecretRole, ns) {
			return domain.ErrPermissionDenied.WithDetailsf("requires %s on %s", a.SecretRole, ns)
		}
	}
	return nil
}
