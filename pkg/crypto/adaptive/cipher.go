package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// KeySize is the key length required by every supported cipher.
const KeySize = 32

var (
	ErrKeySize         = errors.New("adaptive: key must be 32 bytes")
	ErrUnknownCipher   = errors.New("adaptive: unknown cipher type")
	ErrShortCiphertext = errors.New("adaptive: ciphertext too short")
)

// Cipher seals and opens messages. It is safe for concurrent use.
type Cipher struct {
	typ  CipherType
	aead cipher.AEAD
}

// Preferred returns the cipher type New selects on this platform.
func Preferred() CipherType {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return CipherAESGCM
	default:
		return CipherChaCha20
	}
}

// New creates a cipher of the preferred type.
func New(key []byte) (*Cipher, error) {
	return NewWithType(key, Preferred())
}

// NewWithType creates a cipher of the given type.
func NewWithType(key []byte, typ CipherType) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	var (
		aead cipher.AEAD
		err  error
	)
	switch typ {
	case CipherAESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case CipherChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, typ)
	}
	if err != nil {
		return nil, err
	}
	return &Cipher{typ: typ, aead: aead}, nil
}

// Type returns the cipher type.
func (c *Cipher) Type() CipherType {
	return c.typ
}

// Overhead returns the bytes Seal adds to a plaintext.
func (c *Cipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Seal encrypts plaintext bound to additionalData.
func (c *Cipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a message produced by Seal with the same additionalData.
func (c *Cipher) Open(sealed, additionalData []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n+c.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	return c.aead.Open(nil, sealed[:n], sealed[n:], additionalData)
}

// DeriveKey derives a KeySize key from secret with HKDF-SHA256. Distinct
// info strings yield independent keys from the same secret.
func DeriveKey(secret []byte, salt, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("adaptive: empty secret")
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, []byte(salt), []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("adaptive: derive key: %w", err)
	}
	return key, nil
}
