package heartbeat

import (
	"context"
	"errors"
)

// ErrClosed is returned by Backend.Recv once the backend is closed.
var ErrClosed = errors.New("heartbeat: backend closed")

// TxMode selects which dataset a thread hands to its backend.
type TxMode int

const (
	// TxPerPeer sends each peer the payload built for its acknowledged
	// generation.
	TxPerPeer TxMode = iota

	// TxBroadcast sends one payload built for the least advanced peer.
	TxBroadcast

	// TxFull always sends the full dataset. Used by backends where a
	// reader only sees the latest payload.
	TxFull
)

// Packet is a payload received by a backend.
type Packet struct {
	Payload []byte

	// Addr identifies the sender endpoint for blacklisting. Empty when
	// the backend authenticates its peers itself.
	Addr string
}

// Backend is a heartbeat transport.
type Backend interface {
	Type() string
	Mode() TxMode

	// Open acquires the transport resources.
	Open(ctx context.Context) error

	// Send transmits payload to peer. Backends not in TxPerPeer mode
	// receive an empty peer and address every node.
	Send(ctx context.Context, peer string, payload []byte) error

	// Recv blocks until a payload arrives, ctx is done or the backend is
	// closed.
	Recv(ctx context.Context) (Packet, error)

	Close() error
}

// StateSharer is implemented by backends able to pull a full dataset
// from the local node on their own, such as memberlist push/pull.
type StateSharer interface {
	SetLocalState(fn func() []byte)
}
