// Package tests holds multi-component tests of hamesh: several
// daemons running in one process and talking through real heartbeat
// backends and listeners.
package tests
