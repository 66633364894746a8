// Package handler implements the daemon listener handlers.
//
// Each handler declares its routes, a parameter prototype, an access
// policy and a multiplexing policy in a Spec. The listener validates
// the request against the Spec before Action runs, so handlers only
// see coerced parameters from authorized callers.
package handler
