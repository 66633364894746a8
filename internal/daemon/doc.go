// Package daemon assembles hamesh-server: it builds the DaemonState and
// hands it to every heartbeat thread, the monitor loop, the lock
// manager and the listeners.
package daemon
