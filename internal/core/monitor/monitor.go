// Package monitor implements the reconciliation loop of the daemon.
//
// The loop owns the monitor record of every local object instance. It
// wakes on its interval, on DaemonState wake signals and on action
// completions, compares the desired state of each object with the
// cluster view, and runs start or stop actions through the resource
// drivers. Actions run in their own goroutines and report back to the
// loop, which is the only writer of the local instance statuses.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/storage/objconf"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultInterval    = 5 * time.Second
	DefaultLockTimeout = 30 * time.Second
	DefaultMaxParallel = 4
	DefaultRejoinGrace = 90 * time.Second

	maxResourceLog = 20
)

// ObjectSource provides the object configurations. *objconf.Store
// implements it.
type ObjectSource interface {
	List() []objconf.Object
}

// Locker serializes cluster-impacting actions. *lock.Manager
// implements it.
type Locker interface {
	Acquire(ctx context.Context, name string, timeout time.Duration) (string, error)
	Release(name, id string) (bool, error)
}

// Config configures a Monitor.
type Config struct {
	State   *state.DaemonState
	Objects ObjectSource
	Drivers *Registry
	Locks   Locker

	// Interval is the periodic evaluation interval.
	Interval time.Duration

	// ReadyPeriod delays a failover start while other candidates
	// exist. Zero disables the ready state.
	ReadyPeriod time.Duration

	// LockTimeout bounds the wait for the start lock of an object.
	LockTimeout time.Duration

	// RejoinGrace delays starts after boot until every peer was heard
	// from or the grace elapsed. Negative disables it.
	RejoinGrace time.Duration

	// MaxParallel bounds the actions running at once.
	MaxParallel int

	Logger  *slog.Logger
	Metrics *metric.Registry
}

type actionKind string

const (
	actionStart actionKind = "start"
	actionStop  actionKind = "stop"
)

type actionResult struct {
	path     string
	kind     actionKind
	rid      string
	err      error
	deferred string
}

type clearRequest struct {
	path  string
	reply chan clearReply
}

type clearReply struct {
	info string
	err  error
}

type expectRequest struct {
	path   string
	expect domain.GlobalExpect
	reply  chan error
}

// instance is the loop-owned runtime record of one local object.
type instance struct {
	obj      objconf.Object
	drivers  []ResourceDriver
	buildErr error

	mon       domain.InstanceMonitor
	avail     domain.Status
	resources []domain.ResourceStatus
	logs      map[string][]string

	busy       bool
	removed    bool
	attempted  bool
	readySince time.Time
}

// Monitor is the reconciliation loop.
type Monitor struct {
	state       *state.DaemonState
	objects     ObjectSource
	drivers     *Registry
	locks       Locker
	interval    time.Duration
	readyPeriod time.Duration
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *metric.Registry

	// rejoining holds until every peer was seen since boot or the
	// grace ending at rejoinUntil expired.
	rejoining   bool
	rejoinUntil time.Time
	seen        map[string]bool

	instances map[string]*instance
	published map[string]domain.InstanceStatus

	results chan actionResult
	clears  chan clearRequest
	expects chan expectRequest
	sem     chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a monitor. Nothing runs until Run.
func New(cfg Config) (*Monitor, error) {
	if cfg.State == nil {
		return nil, errors.New("monitor: state is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("monitor: object source is required")
	}
	if cfg.Drivers == nil {
		cfg.Drivers = NewRegistry()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	if cfg.RejoinGrace == 0 {
		cfg.RejoinGrace = DefaultRejoinGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		state:       cfg.State,
		objects:     cfg.Objects,
		drivers:     cfg.Drivers,
		locks:       cfg.Locks,
		interval:    cfg.Interval,
		readyPeriod: cfg.ReadyPeriod,
		lockTimeout: cfg.LockTimeout,
		logger:      cfg.Logger.With("component", "monitor"),
		metrics:     cfg.Metrics,
		rejoining:   cfg.RejoinGrace > 0,
		rejoinUntil: cfg.State.Now().Add(cfg.RejoinGrace),
		seen:        make(map[string]bool),
		instances:   make(map[string]*instance),
		published:   make(map[string]domain.InstanceStatus),
		results:     make(chan actionResult),
		clears:      make(chan clearRequest),
		expects:     make(chan expectRequest),
		sem:         make(chan struct{}, cfg.MaxParallel),
		stopped:     make(chan struct{}),
	}, nil
}

// Run runs the loop until ctx is done. In-flight actions are not
// interrupted: Run waits for them before returning.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			close(m.stopped)
			m.logger.Info("monitor stopping", "in_flight", m.busyCount())
			m.wg.Wait()
			return nil
		case <-ticker.C:
			m.tick(ctx, "interval")
		case <-m.state.WakeC():
			m.tick(ctx, strings.Join(m.state.WakeReasons(), ", "))
		case r := <-m.results:
			m.handleResult(r)
		case req := <-m.clears:
			info, err := m.handleClear(req.path)
			req.reply <- clearReply{info: info, err: err}
		case req := <-m.expects:
			req.reply <- m.handleExpect(req.path, req.expect)
		}
	}
}

// Clear resets a failed instance to idle so the monitor retries it.
// Clearing an instance in a transient state does nothing and returns
// an informational message.
func (m *Monitor) Clear(ctx context.Context, path string) (string, error) {
	req := clearRequest{path: path, reply: make(chan clearReply, 1)}
	select {
	case m.clears <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.info, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SetGlobalExpect records an operator target state for an object. The
// most recent expectation published by any node applies cluster-wide.
func (m *Monitor) SetGlobalExpect(ctx context.Context, path string, expect domain.GlobalExpect) error {
	if !expect.IsValid() {
		return domain.ErrInvalidArgument.WithDetailsf("global expect %q", expect)
	}
	req := expectRequest{path: path, expect: expect, reply: make(chan error, 1)}
	select {
	case m.expects <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) busyCount() int {
	n := 0
	for _, inst := range m.instances {
		if inst.busy {
			n++
		}
	}
	return n
}

// tick evaluates every instance once.
func (m *Monitor) tick(ctx context.Context, reason string) {
	m.metrics.Tick()
	m.logger.Debug("monitor tick", "reason", reason)

	m.syncInstances()
	view := m.state.Nodes()
	m.checkRejoin(view)

	paths := make([]string, 0, len(m.instances))
	for path := range m.instances {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		m.evaluate(ctx, path, m.instances[path], view)
	}
	m.publish()
}

// checkRejoin ends the rejoin phase once every peer was seen beating or
// sent its dataset, or once the grace period expired, and publishes the
// node monitor status.
func (m *Monitor) checkRejoin(view map[string]state.NodeData) {
	if m.rejoining {
		var unseen []string
		for _, peer := range m.state.Peers() {
			if !m.seen[peer] {
				_, hasData := view[peer]
				m.seen[peer] = hasData || m.state.IsAlive(peer)
			}
			if !m.seen[peer] {
				unseen = append(unseen, peer)
			}
		}
		switch {
		case len(unseen) == 0:
			m.rejoining = false
			m.logger.Info("rejoin done, every peer seen")
		case !m.state.Now().Before(m.rejoinUntil):
			m.rejoining = false
			m.logger.Warn("rejoin grace expired", "unseen", unseen)
		}
	}

	status := domain.NodeMonitorIdle
	if m.rejoining {
		status = domain.NodeMonitorRejoin
	}
	if m.state.Local().Monitor.Status == status {
		return
	}
	if _, err := m.state.Update(state.SubMonitor, func(d *state.NodeData) {
		d.Monitor = state.NodeMonitor{Status: status, StatusUpdated: m.state.Now()}
	}); err != nil {
		m.logger.Error("publish node monitor", "error", err)
	}
}

// syncInstances creates, rebuilds and drops instances to match the
// configured objects.
func (m *Monitor) syncInstances() {
	seen := make(map[string]bool)
	for _, obj := range m.objects.List() {
		path := obj.Path.String()
		seen[path] = true
		inst, ok := m.instances[path]
		if !ok {
			inst = &instance{
				mon: domain.InstanceMonitor{
					Status:        domain.MonitorIdle,
					GlobalExpect:  domain.ExpectNone,
					StatusUpdated: m.state.Now(),
				},
				avail: domain.StatusUndef,
				logs:  make(map[string][]string),
			}
			m.instances[path] = inst
			m.logger.Info("instance created", "path", path)
		} else if inst.busy || reflect.DeepEqual(inst.obj, obj) {
			continue
		}
		inst.obj = obj
		inst.drivers, inst.buildErr = m.drivers.Build(obj)
		if inst.buildErr != nil {
			m.logger.Warn("instance not actionable", "path", path, "error", inst.buildErr)
		}
	}
	for path, inst := range m.instances {
		if seen[path] {
			inst.removed = false
			continue
		}
		if inst.busy {
			inst.removed = true
			continue
		}
		delete(m.instances, path)
		m.logger.Info("instance removed", "path", path)
	}
}

func (m *Monitor) refresh(ctx context.Context, inst *instance) {
	statuses := make([]domain.Status, 0, len(inst.drivers))
	resources := make([]domain.ResourceStatus, 0, len(inst.drivers))
	for _, d := range inst.drivers {
		s := d.Status(ctx)
		statuses = append(statuses, s)
		resources = append(resources, domain.ResourceStatus{
			RID:    d.RID(),
			Type:   d.Type(),
			Status: s,
			Info:   d.Info(ctx),
			Log:    append([]string(nil), inst.logs[d.RID()]...),
		})
	}
	inst.avail = domain.Aggregate(statuses)
	inst.resources = resources
}

func (m *Monitor) evaluate(ctx context.Context, path string, inst *instance, view map[string]state.NodeData) {
	if inst.busy || inst.removed {
		return
	}
	m.refresh(ctx, inst)

	if inst.buildErr != nil {
		inst.mon.IsActionable = false
		inst.mon.LastError = inst.buildErr.Error()
		return
	}
	kind := inst.obj.Path.Kind
	if kind != domain.KindSvc && kind != domain.KindVol {
		inst.mon.IsActionable = false
		return
	}
	inst.mon.IsActionable = true

	expect, at := m.globalExpect(path, inst, view)
	m.settleExpect(path, inst, expect, at, view)

	if inst.mon.Status == domain.MonitorFailed {
		return
	}
	if isUp(inst.avail) {
		inst.attempted = true
	}

	switch expect {
	case domain.ExpectStopped:
		m.evaluateStop(path, inst, view)
	case domain.ExpectStarted:
		m.evaluateStart(path, inst, view)
	default:
		switch inst.obj.Orchestrate {
		case objconf.OrchestrateHA:
			m.evaluateStart(path, inst, view)
		case objconf.OrchestrateStart:
			if !inst.attempted {
				m.evaluateStart(path, inst, view)
			} else {
				m.rest(path, inst)
			}
		default:
			m.rest(path, inst)
		}
	}
}

// rest returns a waiting instance to idle.
func (m *Monitor) rest(path string, inst *instance) {
	inst.readySince = time.Time{}
	switch inst.mon.Status {
	case domain.MonitorReady, domain.MonitorWaitParents, domain.MonitorWaitChildren:
		m.setStatus(path, inst, domain.MonitorIdle, "")
	}
}

func (m *Monitor) evaluateStart(path string, inst *instance, view map[string]state.NodeData) {
	local := m.state.Nodename()
	if isUp(inst.avail) {
		m.rest(path, inst)
		return
	}
	if m.rejoining {
		// an unseen peer may be running the object
		m.rest(path, inst)
		return
	}
	upNodes := m.upNodes(path, view)
	eligible := m.eligible(path, inst, view)

	switch inst.obj.Topology {
	case objconf.TopologyFlex:
		needed := inst.obj.Target(local) - len(upNodes)
		var waiting []string
		for _, n := range eligible {
			if !upNodes[n] {
				waiting = append(waiting, n)
			}
		}
		if needed <= 0 || !within(waiting, local, needed) {
			m.rest(path, inst)
			return
		}
	default:
		// A peer holding the object up, even a stale one, blocks the
		// takeover.
		if len(upNodes) > 0 || len(eligible) == 0 || eligible[0] != local {
			m.rest(path, inst)
			return
		}
	}

	if missing := m.parentsDown(inst, view); len(missing) > 0 {
		m.setStatus(path, inst, domain.MonitorWaitParents, "waiting for "+strings.Join(missing, ","))
		return
	}

	if m.readyPeriod > 0 && inst.obj.Topology == objconf.TopologyFailover && len(eligible) > 1 {
		now := m.state.Now()
		if inst.mon.Status != domain.MonitorReady {
			inst.readySince = now
			m.setStatus(path, inst, domain.MonitorReady, "")
			return
		}
		if now.Sub(inst.readySince) < m.readyPeriod {
			return
		}
	}
	m.launch(path, inst, actionStart)
}

func (m *Monitor) evaluateStop(path string, inst *instance, view map[string]state.NodeData) {
	if !isUp(inst.avail) {
		m.rest(path, inst)
		return
	}
	if up := m.childrenUp(inst, view); len(up) > 0 {
		m.setStatus(path, inst, domain.MonitorWaitChildren, "waiting for "+strings.Join(up, ","))
		return
	}
	m.launch(path, inst, actionStop)
}

// globalExpect returns the most recent expectation published for path
// by any node, the local one included.
func (m *Monitor) globalExpect(path string, inst *instance, view map[string]state.NodeData) (domain.GlobalExpect, time.Time) {
	expect, at := inst.mon.GlobalExpect, inst.mon.GlobalExpectAt
	for node, data := range view {
		if node == m.state.Nodename() {
			continue
		}
		svc, ok := data.Services[path]
		if !ok {
			continue
		}
		if svc.Monitor.GlobalExpectAt.After(at) {
			expect, at = svc.Monitor.GlobalExpect, svc.Monitor.GlobalExpectAt
		}
	}
	if expect == "" {
		expect = domain.ExpectNone
	}
	return expect, at
}

// settleExpect resets a reached "started" expectation when this node
// published it. A "stopped" expectation stays in place so the
// orchestrator does not restart the object.
func (m *Monitor) settleExpect(path string, inst *instance, expect domain.GlobalExpect, at time.Time, view map[string]state.NodeData) {
	if expect != domain.ExpectStarted || inst.mon.GlobalExpect != domain.ExpectStarted || !inst.mon.GlobalExpectAt.Equal(at) {
		return
	}
	if isUp(inst.avail) || len(m.upNodes(path, view)) > 0 {
		inst.mon.GlobalExpect = domain.ExpectNone
		inst.mon.GlobalExpectAt = m.state.Now()
		m.logger.Info("global expect reached", "path", path, "expect", expect)
	}
}

// upNodes returns the peers whose last known status of path is up,
// including stale peers.
func (m *Monitor) upNodes(path string, view map[string]state.NodeData) map[string]bool {
	out := make(map[string]bool)
	for node, data := range view {
		if node == m.state.Nodename() {
			continue
		}
		if svc, ok := data.Services[path]; ok && isUp(svc.Avail) {
			out[node] = true
		}
	}
	return out
}

// eligible returns the candidates able to run path, in placement order:
// alive, configured for path and not failed.
func (m *Monitor) eligible(path string, inst *instance, view map[string]state.NodeData) []string {
	local := m.state.Nodename()
	var out []string
	for _, node := range inst.obj.Candidates(local) {
		if node == local {
			out = append(out, node)
			continue
		}
		if !m.state.IsAlive(node) {
			continue
		}
		svc, ok := view[node].Services[path]
		if !ok || svc.Monitor.Status == domain.MonitorFailed {
			continue
		}
		out = append(out, node)
	}
	return out
}

func (m *Monitor) parentsDown(inst *instance, view map[string]state.NodeData) []string {
	var missing []string
	for _, ref := range inst.obj.Parents {
		p := relativePath(inst.obj.Path, ref)
		if !m.upAnywhere(p, view) {
			missing = append(missing, p)
		}
	}
	return missing
}

func (m *Monitor) childrenUp(inst *instance, view map[string]state.NodeData) []string {
	var up []string
	for _, ref := range inst.obj.Children {
		p := relativePath(inst.obj.Path, ref)
		if m.upAnywhere(p, view) {
			up = append(up, p)
		}
	}
	return up
}

func (m *Monitor) upAnywhere(path string, view map[string]state.NodeData) bool {
	if inst, ok := m.instances[path]; ok && isUp(inst.avail) {
		return true
	}
	return len(m.upNodes(path, view)) > 0
}

func (m *Monitor) launch(path string, inst *instance, kind actionKind) {
	status := domain.MonitorStarting
	if kind == actionStop {
		status = domain.MonitorStopping
	}
	inst.busy = true
	inst.readySince = time.Time{}
	if kind == actionStart {
		inst.attempted = true
	}
	m.setStatus(path, inst, status, "")

	drivers := inst.drivers
	needLock := kind == actionStart && inst.obj.Topology == objconf.TopologyFailover && m.locks != nil
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r := m.runAction(path, kind, drivers, needLock)
		select {
		case m.results <- r:
		case <-m.stopped:
		}
	}()
}

// runAction executes the drivers of one action. It runs outside the
// loop and only reads DaemonState.
func (m *Monitor) runAction(path string, kind actionKind, drivers []ResourceDriver, needLock bool) actionResult {
	r := actionResult{path: path, kind: kind}
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	ctx := context.Background()
	if needLock {
		name := "start:" + path
		id, err := m.locks.Acquire(ctx, name, m.lockTimeout)
		if errors.Is(err, domain.ErrLockTimeout) {
			r.deferred = "lock " + name + " busy"
			return r
		}
		if err != nil {
			r.err = err
			return r
		}
		defer func() { _, _ = m.locks.Release(name, id) }()

		// the lock holder before us may have started the object
		for node, data := range m.state.Nodes() {
			if node == m.state.Nodename() {
				continue
			}
			if svc, ok := data.Services[path]; ok && isUp(svc.Avail) {
				r.deferred = "started on " + node
				return r
			}
		}
	}

	switch kind {
	case actionStart:
		for _, d := range drivers {
			if err := d.Start(ctx); err != nil {
				r.rid, r.err = d.RID(), err
				return r
			}
		}
	case actionStop:
		for i := len(drivers) - 1; i >= 0; i-- {
			if err := drivers[i].Stop(ctx); err != nil {
				r.rid, r.err = drivers[i].RID(), err
				return r
			}
		}
	}
	return r
}

func (m *Monitor) handleResult(r actionResult) {
	inst, ok := m.instances[r.path]
	if !ok {
		return
	}
	inst.busy = false

	switch {
	case r.deferred != "":
		m.metrics.Action(string(r.kind), "deferred")
		m.logger.Info("action deferred", "path", r.path, "action", r.kind, "reason", r.deferred)
		m.setStatus(r.path, inst, domain.MonitorIdle, r.deferred)
	case r.err == nil:
		m.metrics.Action(string(r.kind), "ok")
		m.logger.Info("action succeeded", "path", r.path, "action", r.kind)
		inst.mon.Retries = 0
		inst.mon.LastError = ""
		m.setStatus(r.path, inst, domain.MonitorIdle, "")
	default:
		m.metrics.Action(string(r.kind), "error")
		inst.mon.Retries++
		inst.mon.LastError = fmt.Sprintf("%s failed: %v", r.kind, r.err)
		if r.rid != "" {
			line := m.state.Now().Format(time.RFC3339) + " " + inst.mon.LastError
			logs := append(inst.logs[r.rid], line)
			if len(logs) > maxResourceLog {
				logs = logs[len(logs)-maxResourceLog:]
			}
			inst.logs[r.rid] = logs
		}
		next := domain.MonitorIdle
		if inst.mon.Retries > inst.obj.Restart {
			next = domain.MonitorFailed
		}
		m.logger.Error("action failed", "path", r.path, "action", r.kind, "rid", r.rid,
			"retries", inst.mon.Retries, "restart", inst.obj.Restart, "error", r.err)
		m.setStatus(r.path, inst, next, "")
	}

	if inst.removed {
		delete(m.instances, r.path)
	} else {
		m.refresh(context.Background(), inst)
	}
	m.publish()
}

func (m *Monitor) handleClear(path string) (string, error) {
	inst, ok := m.instances[path]
	if !ok || inst.removed {
		return "", domain.ErrObjectNotFound.WithDetails(path)
	}
	if inst.mon.Status.IsTransient() {
		return fmt.Sprintf("%s is %s, not clearable", path, inst.mon.Status), nil
	}
	prev := inst.mon.Status
	inst.mon.Retries = 0
	inst.mon.LastError = ""
	inst.readySince = time.Time{}
	m.setStatus(path, inst, domain.MonitorIdle, "")
	m.publish()
	m.state.Publish(domain.EventClear, path, map[string]any{"previous": string(prev)})
	m.state.Wake("clear " + path)
	if prev == domain.MonitorIdle {
		return path + " already idle", nil
	}
	return "", nil
}

func (m *Monitor) handleExpect(path string, expect domain.GlobalExpect) error {
	inst, ok := m.instances[path]
	if !ok || inst.removed {
		return domain.ErrObjectNotFound.WithDetails(path)
	}
	inst.mon.GlobalExpect = expect
	inst.mon.GlobalExpectAt = m.state.Now()
	m.logger.Info("global expect set", "path", path, "expect", expect)
	m.publish()
	m.state.Wake("global expect " + path)
	return nil
}

func (m *Monitor) setStatus(path string, inst *instance, status domain.MonitorStatus, info string) {
	inst.mon.Info = info
	if inst.mon.Status == status {
		return
	}
	prev := inst.mon.Status
	inst.mon.Status = status
	inst.mon.StatusUpdated = m.state.Now()
	m.logger.Info("instance monitor transition", "path", path, "from", prev, "to", status)
	m.state.Publish(domain.EventInstanceMonitor, path, map[string]any{
		"status":   string(status),
		"previous": string(prev),
		"retries":  inst.mon.Retries,
	})
}

// publish writes the instance statuses to the local branch when they
// changed since the last write.
func (m *Monitor) publish() {
	next := make(map[string]domain.InstanceStatus, len(m.instances))
	for path, inst := range m.instances {
		next[path] = domain.InstanceStatus{
			Path:        path,
			Avail:       inst.avail,
			Topology:    inst.obj.Topology,
			Orchestrate: inst.obj.Orchestrate,
			Monitor:     inst.mon,
			Resources:   inst.resources,
		}
	}
	if reflect.DeepEqual(next, m.published) {
		return
	}
	now := m.state.Now()
	_, err := m.state.Update(state.SubServices, func(d *state.NodeData) {
		services := make(map[string]domain.InstanceStatus, len(next))
		for path, st := range next {
			st.Updated = now
			if old, ok := d.Services[path]; ok && reflect.DeepEqual(m.published[path], next[path]) {
				st.Updated = old.Updated
			}
			services[path] = st
		}
		d.Services = services
	})
	if err != nil {
		m.logger.Error("publish instance statuses", "error", err)
		return
	}
	m.published = next
}

func isUp(s domain.Status) bool {
	return s == domain.StatusUp || s == domain.StatusWarn
}

func within(nodes []string, node string, n int) bool {
	for i, x := range nodes {
		if i >= n {
			return false
		}
		if x == node {
			return true
		}
	}
	return false
}

// relativePath resolves a parent or child reference. References
// without a namespace are relative to the namespace of from.
func relativePath(from domain.ObjectPath, ref string) string {
	p, err := domain.ParsePath(ref)
	if err != nil {
		return ref
	}
	if strings.Count(ref, "/") < 2 {
		p.Namespace = from.Namespace
	}
	return p.String()
}
