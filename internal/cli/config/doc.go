// Package config holds the hamesh-cli configuration file: named
// connection contexts and the current one.
//
// Passwords are never stored; they come from the --password flag or
// the HAMESH_PASSWORD environment variable.
package config
