// Package main provides the entry point for hamesh-server.
//
// The server is the cluster daemon of one node:
//
//   - heartbeat threads exchanging the cluster dataset
//   - the monitor loop starting and stopping object instances
//   - the cluster lock manager
//   - the TCP and unix socket request listeners
//
// Usage:
//
//	hamesh-server --config /etc/hamesh/hamesh.yaml
//	hamesh-server --config /etc/hamesh/hamesh.yaml --check-config
package main
