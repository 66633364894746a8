// Package connection provides the hamesh-cli client of the daemon
// listener.
//
// A Client talks to one daemon, either over the local unix socket
// (no credentials, root access) or over HTTP(S) with basic
// authentication. Every call returns the listener envelope; failed
// envelopes are turned back into domain errors.
package connection
