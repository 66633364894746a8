// Package storage persists the key/value data of cfg, sec and usr
// objects.
//
// The Engine keeps one badger database per daemon. Values of secret
// kinds (sec, usr) are sealed with a key derived from the cluster
// secret before they reach the disk; only their digest and size are
// published in the node dataset.
//
// Key layout in the KV engine:
//
//	k/<object path>\x00<key name>  ->  JSON record
package storage
