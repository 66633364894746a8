// Package main provides the entry point for hamesh-cli.
//
// hamesh-cli is the command-line tool of the cluster daemon. It talks
// to the local daemon over the unix socket by default, or to a remote
// listener with --server.
//
// Usage:
//
//	hamesh-cli daemon status
//	hamesh-cli --server n1:1215 --user admin key get ns1/cfg/app port
//	hamesh-cli shell
package main
