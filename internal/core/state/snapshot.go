package state

import (
	"time"
)

// ClusterInfo is the cluster section of a snapshot.
type ClusterInfo struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Nodes []string `json:"nodes"`
}

// NodeSnapshot is one node entry of a snapshot.
type NodeSnapshot struct {
	NodeData
	Gen     map[string]uint64 `json:"gen,omitempty"`
	Alive   bool              `json:"alive"`
	Updated time.Time         `json:"updated,omitempty"`
}

// Snapshot is a point-in-time copy of the daemon status tree.
//
// Containers are copied one after the other, so the node branches and
// the thread statuses may reflect slightly different instants.
type Snapshot struct {
	Nodename string                  `json:"nodename"`
	Cluster  ClusterInfo             `json:"cluster"`
	Nodes    map[string]NodeSnapshot `json:"nodes"`
	Threads  map[string]ThreadStatus `json:"threads"`
}

// Snapshot copies the status tree under the container locks and
// releases them before returning, so callers serialize the copy without
// blocking writers.
func (s *DaemonState) Snapshot() Snapshot {
	snap := Snapshot{
		Nodename: s.nodename,
		Cluster: ClusterInfo{
			ID:    s.clusterID,
			Name:  s.clusterName,
			Nodes: s.Members(),
		},
		Nodes: make(map[string]NodeSnapshot),
	}

	s.dataMu.RLock()
	snap.Nodes[s.nodename] = NodeSnapshot{
		NodeData: s.local.Clone(),
		Gen:      s.generationsLocked(),
		Alive:    true,
		Updated:  s.now(),
	}
	for name, p := range s.peers {
		if !p.hasData {
			continue
		}
		snap.Nodes[name] = NodeSnapshot{
			NodeData: p.data.Clone(),
			Updated:  p.updated,
		}
	}
	s.dataMu.RUnlock()

	for name, n := range snap.Nodes {
		if name == s.nodename {
			continue
		}
		n.Alive = s.IsAlive(name)
		snap.Nodes[name] = n
	}
	snap.Threads = s.Threads()
	return snap
}
