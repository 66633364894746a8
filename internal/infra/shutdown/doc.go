// Package shutdown runs ordered shutdown hooks when the daemon is asked
// to stop, by SIGINT, SIGTERM or a cancelled context.
//
// Hooks run in reverse registration order, so components registered
// last (the listeners) stop before the ones they depend on (the state
// store).
package shutdown
