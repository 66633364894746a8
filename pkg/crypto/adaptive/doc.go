// Package adaptive provides authenticated encryption for hamesh.
//
// A Cipher wraps AES-256-GCM or ChaCha20-Poly1305. New picks AES-GCM
// on architectures where Go uses hardware AES and ChaCha20-Poly1305
// elsewhere. Keys are derived from the cluster secret with DeriveKey.
//
// Sealed messages carry their random nonce as a prefix:
//
//	nonce | ciphertext | tag
package adaptive
