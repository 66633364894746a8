// Package localserver provides the unix socket listener.
//
// It serves the same router as the TCP listener. Callers on the socket
// run as root: access is controlled by the socket file permissions, and
// no credentials, blacklist or rate limit apply.
package localserver
