// Package service provides the daemon domain services.
//
//   - AuthService: caller authentication (node secret, argon2id user
//     passwords), credential caching and per-address rate limiting.
//     Failures are reported to the listener blacklist.
//   - KeyService: cfg/sec/usr key data, persisted by the storage engine
//     and published in the local dataset.
package service
