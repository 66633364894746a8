// Package rpcserver provides the daemon listener.
//
// Requests are resolved to a handler by route, then checked in order:
// sender blacklist, authentication, prototype validation, access policy.
// Handlers allowing it may be multiplexed to other cluster nodes with the
// node parameter, and the per-node responses are merged.
//
// Every response body is a Response: status 0 on success, 1 on a
// handler or request failure.
package rpcserver
