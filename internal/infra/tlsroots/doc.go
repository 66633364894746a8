// Package tlsroots loads the TLS material of the listener and of the
// daemon HTTP clients.
//
// The listener certificate is reloaded when its files change, so a
// renewed certificate is served without a restart. Clients trust the
// system roots plus an optional cluster CA file.
package tlsroots
