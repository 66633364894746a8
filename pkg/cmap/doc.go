// Package cmap provides a string-keyed concurrent map split into
// independently locked shards.
//
// Keys are spread over the shards with murmur3, so unrelated keys
// rarely contend for the same lock. Range visits shards one at a time
// and does not observe a single consistent snapshot.
package cmap
