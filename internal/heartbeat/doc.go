// Package heartbeat runs the heartbeat threads exchanging datasets
// between cluster nodes.
//
// A Thread pairs a transmit loop and a receive loop over one Backend.
// The transmit loop sends the local dataset (full, patches or ping, see
// state.DaemonState.MessageFor) on every interval and whenever the
// generation map changes. The receive loop decodes peer payloads,
// merges them into the daemon state and tracks which peers are beating.
//
// Backends:
//
//   - unicast: memberlist reliable messages between configured nodes
//   - multicast: UDP datagrams to a multicast group, fragmented
//   - disk: one slot per node on a shared file or block device
//   - relay: a third-party daemon storing the last payload of each node
//
// Payloads are JSON, zstd compressed and sealed with AES-256-GCM under
// a key derived from the cluster secret.
package heartbeat
