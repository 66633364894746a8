// Package command defines the hamesh-cli command tree.
//
// Every command maps to one listener action. Global flags select the
// daemon (local socket by default, --server for a remote listener),
// the credentials and the output format; a saved context from the CLI
// configuration file fills the connection flags left unset.
package command
