package state

import (
	"slices"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// Members returns the ordered cluster node list.
func (s *DaemonState) Members() []string {
	s.memberMu.RLock()
	defer s.memberMu.RUnlock()
	return slices.Clone(s.members)
}

// Peers returns the cluster node list without the local node.
func (s *DaemonState) Peers() []string {
	s.memberMu.RLock()
	defer s.memberMu.RUnlock()
	out := make([]string, 0, len(s.members))
	for _, name := range s.members {
		if name != s.nodename {
			out = append(out, name)
		}
	}
	return out
}

// IsMember reports whether nodename is in the cluster node list.
func (s *DaemonState) IsMember(nodename string) bool {
	s.memberMu.RLock()
	defer s.memberMu.RUnlock()
	return slices.Contains(s.members, nodename)
}

// Join adds a node to the cluster node list. It reports whether the
// list changed.
func (s *DaemonState) Join(nodename string) bool {
	s.memberMu.Lock()
	if slices.Contains(s.members, nodename) {
		s.memberMu.Unlock()
		return false
	}
	s.members = append(s.members, nodename)
	s.memberMu.Unlock()

	s.Publish(domain.EventNodeJoin, "", map[string]any{"joined": nodename})
	s.signals.wake("node join " + nodename)
	return true
}

// Leave removes a node from the cluster node list and forgets its
// dataset. Removing an absent node is not an error; the result reports
// whether the list changed.
func (s *DaemonState) Leave(nodename string) (bool, error) {
	if nodename == s.nodename {
		return false, domain.ErrNodeIsSelf.WithDetails("use a peer to remove " + nodename)
	}
	s.memberMu.Lock()
	i := slices.Index(s.members, nodename)
	if i < 0 {
		s.memberMu.Unlock()
		return false, nil
	}
	s.members = slices.Delete(s.members, i, i+1)
	s.memberMu.Unlock()

	s.dropPeer(nodename)
	s.forgetPeerThreads(nodename)
	s.Publish(domain.EventNodeLeave, "", map[string]any{"left": nodename})
	s.signals.wake("node leave " + nodename)
	return true, nil
}
