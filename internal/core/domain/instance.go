package domain

import (
	"strings"
	"time"
)

// MonitorStatus is the state of the monitor state machine for one
// object instance.
type MonitorStatus string

const (
	MonitorIdle         MonitorStatus = "idle"
	MonitorReady        MonitorStatus = "ready"
	MonitorStarting     MonitorStatus = "starting"
	MonitorStopping     MonitorStatus = "stopping"
	MonitorWaitParents  MonitorStatus = "wait_parents"
	MonitorWaitChildren MonitorStatus = "wait_children"
	MonitorFailed       MonitorStatus = "failed"
)

// Node monitor statuses.
const (
	NodeMonitorIdle   = "idle"
	NodeMonitorRejoin = "rejoin"
)

// IsTransient reports whether the status is an in-flight action state.
// Transient states can only be left by completion or timeout, never by
// an explicit clear.
func (s MonitorStatus) IsTransient() bool {
	return strings.HasSuffix(string(s), "ing")
}

// Status is an availability status as reported by resource drivers and
// aggregated per instance.
type Status string

const (
	StatusUp    Status = "up"
	StatusDown  Status = "down"
	StatusWarn  Status = "warn"
	StatusNA    Status = "n/a"
	StatusUndef Status = "undef"
)

// Aggregate combines resource statuses into an instance availability.
// n/a resources are ignored; an empty or all n/a set is n/a.
func Aggregate(statuses []Status) Status {
	var up, down, other int
	for _, s := range statuses {
		switch s {
		case StatusUp:
			up++
		case StatusDown:
			down++
		case StatusNA:
		default:
			other++
		}
	}
	switch {
	case up == 0 && down == 0 && other == 0:
		return StatusNA
	case other > 0:
		return StatusWarn
	case up > 0 && down > 0:
		return StatusWarn
	case up > 0:
		return StatusUp
	default:
		return StatusDown
	}
}

// GlobalExpect is an operator-requested target state for an object.
type GlobalExpect string

const (
	ExpectNone    GlobalExpect = "none"
	ExpectStarted GlobalExpect = "started"
	ExpectStopped GlobalExpect = "stopped"
)

// IsValid reports whether e is a known global expect value.
func (e GlobalExpect) IsValid() bool {
	return e == ExpectNone || e == ExpectStarted || e == ExpectStopped
}

// InstanceMonitor is the monitor record of an object instance.
type InstanceMonitor struct {
	Status         MonitorStatus `json:"status"`
	Retries        int           `json:"retries"`
	IsActionable   bool          `json:"is_actionable"`
	GlobalExpect   GlobalExpect  `json:"global_expect"`
	GlobalExpectAt time.Time     `json:"global_expect_updated"`
	StatusUpdated  time.Time     `json:"status_updated"`
	LastError      string        `json:"last_error,omitempty"`
	Info           string        `json:"info,omitempty"`
}

// ResourceStatus is the last observed status of one resource.
type ResourceStatus struct {
	RID    string            `json:"rid"`
	Type   string            `json:"type"`
	Status Status            `json:"status"`
	Info   map[string]string `json:"info,omitempty"`
	Log    []string          `json:"log,omitempty"`
}

// InstanceStatus is the per-node status of an object, published in the
// owning node's dataset under the "services" subsystem.
type InstanceStatus struct {
	Path        string           `json:"path"`
	Avail       Status           `json:"avail"`
	Topology    string           `json:"topology"`
	Orchestrate string           `json:"orchestrate"`
	Monitor     InstanceMonitor  `json:"monitor"`
	Resources   []ResourceStatus `json:"resources,omitempty"`
	Updated     time.Time        `json:"updated"`
}
