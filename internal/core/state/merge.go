package state

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// ErrMalformedMessage is returned by Apply for payloads that cannot be
// merged. The message is dropped and the peer data is left untouched.
var ErrMalformedMessage = errors.New("malformed dataset message")

// ErrForeignCluster is returned by Apply for payloads of another cluster.
var ErrForeignCluster = errors.New("message from another cluster")

// Apply merges a peer message into the status tree.
//
// Data carrying a sender generation at or below the last generation
// applied from that sender is dropped, so applying the same message
// twice leaves the tree as applying it once. A new sender boot id
// resets the applied generation first.
func (s *DaemonState) Apply(msg *Message) (ApplyResult, error) {
	if msg == nil || msg.Nodename == "" || msg.Gen == nil {
		return "", ErrMalformedMessage
	}
	if msg.Nodename == s.nodename {
		return ApplySelf, nil
	}
	if msg.ClusterID != s.clusterID {
		return "", fmt.Errorf("%w: %s", ErrForeignCluster, msg.ClusterID)
	}
	if !s.IsMember(msg.Nodename) {
		return "", domain.ErrNodeNotMember.WithDetails(msg.Nodename)
	}

	result, err := s.apply(msg)
	if err != nil {
		return "", err
	}
	switch result {
	case ApplyFull, ApplyPatched:
		s.signals.wake("dataset change from " + msg.Nodename)
	case ApplyGap:
		s.logger.Debug("dataset gap, full resync requested", "peer", msg.Nodename)
	}
	return result, nil
}

func (s *DaemonState) apply(msg *Message) (ApplyResult, error) {
	switch msg.Kind {
	case MessageFull:
		if msg.Full == nil {
			return "", fmt.Errorf("%w: full message without data", ErrMalformedMessage)
		}
	case MessagePatch, MessagePing:
	default:
		return "", fmt.Errorf("%w: kind %q", ErrMalformedMessage, msg.Kind)
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	p, ok := s.peers[msg.Nodename]
	if !ok {
		p = &peerData{}
		s.peers[msg.Nodename] = p
	}
	// Boot ids are ULIDs, ordered by creation time: a payload from an
	// older boot is a late duplicate from before the peer restarted.
	if msg.Boot < p.boot {
		return ApplyStale, nil
	}
	if p.boot != msg.Boot {
		if p.boot != "" {
			s.logger.Info("peer restarted", "peer", msg.Nodename, "boot", msg.Boot)
		}
		p.boot = msg.Boot
		p.remoteGen = 0
		p.highGen = 0
		p.ackGen = 0
		p.ackAt = time.Time{}
	}

	// Acknowledgements are ordered by the sender clock, independently
	// of data staleness: a payload whose data is already applied still
	// carries the sender's current view of our generation.
	if ack, ok := msg.Gen[s.nodename]; ok && !msg.Updated.Before(p.ackAt) {
		p.ackAt = msg.Updated
		if ack != p.ackGen {
			p.ackGen = ack
			s.notifySyncedLocked()
		}
	}
	p.updated = s.now()

	senderGen := msg.SenderGen()
	var result ApplyResult

	switch msg.Kind {
	case MessageFull:
		// A full dataset at the high-water generation is accepted
		// again after a resync request: same origin, boot and
		// generation means same data.
		if senderGen <= p.remoteGen || senderGen < p.highGen {
			return ApplyStale, nil
		}
		p.data = msg.Full.Clone()
		p.remoteGen = senderGen
		p.highGen = senderGen
		p.hasData = true
		result = ApplyFull
		s.notifyChangedLocked()

	case MessagePatch:
		r, err := s.applyPatchesLocked(p, msg.Patches)
		if err != nil {
			return "", err
		}
		if r == ApplyStale {
			return ApplyStale, nil
		}
		result = r

	case MessagePing:
		if senderGen < p.remoteGen {
			return ApplyStale, nil
		}
		result = ApplyPing
	}

	return result, nil
}

func (s *DaemonState) applyPatchesLocked(p *peerData, patches []Patch) (ApplyResult, error) {
	pending := make([]Patch, 0, len(patches))
	for _, patch := range patches {
		if patch.Gen > p.remoteGen {
			pending = append(pending, patch)
		}
	}
	if len(pending) == 0 {
		return ApplyStale, nil
	}
	slices.SortFunc(pending, func(a, b Patch) int {
		switch {
		case a.Gen < b.Gen:
			return -1
		case a.Gen > b.Gen:
			return 1
		}
		return 0
	})

	if !p.hasData || pending[0].Gen != p.remoteGen+1 {
		p.remoteGen = 0
		s.notifyChangedLocked()
		return ApplyGap, nil
	}

	next := p.data.Clone()
	expect := p.remoteGen + 1
	for _, patch := range pending {
		if patch.Gen != expect {
			p.remoteGen = 0
			s.notifyChangedLocked()
			return ApplyGap, nil
		}
		if err := next.replaceSubsystem(patch.Subsystem, patch.Data); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		expect++
	}
	p.data = next
	p.remoteGen = expect - 1
	p.highGen = p.remoteGen
	s.notifyChangedLocked()
	return ApplyPatched, nil
}

// MessageFor builds the payload to send to one peer: a ping when the
// peer acknowledged the current generation, the patches since its
// acknowledged generation when the history still holds them, and a
// full dataset otherwise.
func (s *DaemonState) MessageFor(peer string) *Message {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var ack uint64
	if p, ok := s.peers[peer]; ok {
		ack = p.ackGen
	}
	return s.messageSinceLocked(ack)
}

// BroadcastMessage builds one payload suitable for every listed peer,
// based on the lowest acknowledged generation among them.
func (s *DaemonState) BroadcastMessage(peers []string) *Message {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()

	var ack uint64
	first := true
	for _, name := range peers {
		if name == s.nodename {
			continue
		}
		var g uint64
		if p, ok := s.peers[name]; ok {
			g = p.ackGen
		}
		if first || g < ack {
			ack = g
			first = false
		}
	}
	if first {
		ack = s.localGen
	}
	return s.messageSinceLocked(ack)
}

// FullMessage builds a full dataset payload.
func (s *DaemonState) FullMessage() *Message {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.fullLocked()
}

func (s *DaemonState) messageSinceLocked(ack uint64) *Message {
	switch {
	case ack >= s.localGen:
		return s.headerLocked(MessagePing)
	case ack == 0 || len(s.patches) == 0 || s.patches[0].Gen > ack+1:
		return s.fullLocked()
	}
	msg := s.headerLocked(MessagePatch)
	for _, patch := range s.patches {
		if patch.Gen > ack {
			msg.Patches = append(msg.Patches, patch)
		}
	}
	return msg
}

func (s *DaemonState) fullLocked() *Message {
	msg := s.headerLocked(MessageFull)
	full := s.local.Clone()
	msg.Full = &full
	return msg
}

func (s *DaemonState) headerLocked(kind MessageKind) *Message {
	return &Message{
		Kind:      kind,
		ClusterID: s.clusterID,
		Nodename:  s.nodename,
		Boot:      s.boot,
		Gen:       s.generationsLocked(),
		Updated:   s.now(),
	}
}
