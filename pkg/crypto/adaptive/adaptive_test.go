package adaptive

import (
	"bytes"
	"errors"
	"testing"
)

var testKey = func() []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}()

var cipherTypes = []CipherType{CipherAESGCM, CipherChaCha20}

func TestNew(t *testing.T) {
	c, err := New(testKey)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Type() != Preferred() {
		t.Errorf("Type() = %s, want %s", c.Type(), Preferred())
	}
}

func TestNewWithType_Errors(t *testing.T) {
	if _, err := NewWithType(testKey, "rot13"); !errors.Is(err, ErrUnknownCipher) {
		t.Errorf("unknown type error = %v, want ErrUnknownCipher", err)
	}
	for _, typ := range cipherTypes {
		if _, err := NewWithType(testKey[:16], typ); !errors.Is(err, ErrKeySize) {
			t.Errorf("%s short key error = %v, want ErrKeySize", typ, err)
		}
	}
}

func TestSealOpen(t *testing.T) {
	for _, typ := range cipherTypes {
		t.Run(string(typ), func(t *testing.T) {
			c, err := NewWithType(testKey, typ)
			if err != nil {
				t.Fatalf("NewWithType() error = %v", err)
			}
			for _, plain := range [][]byte{nil, []byte("x"), bytes.Repeat([]byte("dataset"), 1000)} {
				sealed, err := c.Seal(plain, []byte("cluster-1"))
				if err != nil {
					t.Fatalf("Seal() error = %v", err)
				}
				if len(sealed) != len(plain)+c.Overhead() {
					t.Errorf("len(sealed) = %d, want %d", len(sealed), len(plain)+c.Overhead())
				}
				got, err := c.Open(sealed, []byte("cluster-1"))
				if err != nil {
					t.Fatalf("Open() error = %v", err)
				}
				if !bytes.Equal(got, plain) {
					t.Errorf("Open() = %q, want %q", got, plain)
				}
			}
		})
	}
}

func TestOpen_Rejects(t *testing.T) {
	for _, typ := range cipherTypes {
		t.Run(string(typ), func(t *testing.T) {
			c, _ := NewWithType(testKey, typ)
			sealed, _ := c.Seal([]byte("payload"), []byte("ad"))

			tampered := append([]byte(nil), sealed...)
			tampered[len(tampered)-1] ^= 0xff
			if _, err := c.Open(tampered, []byte("ad")); err == nil {
				t.Error("Open(tampered) succeeded")
			}
			if _, err := c.Open(sealed, []byte("other")); err == nil {
				t.Error("Open() with other additional data succeeded")
			}
			if _, err := c.Open(sealed[:4], []byte("ad")); !errors.Is(err, ErrShortCiphertext) {
				t.Errorf("Open(short) error = %v, want ErrShortCiphertext", err)
			}

			otherKey := bytes.Repeat([]byte{7}, KeySize)
			other, _ := NewWithType(otherKey, typ)
			if _, err := other.Open(sealed, []byte("ad")); err == nil {
				t.Error("Open() with another key succeeded")
			}
		})
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	c, _ := New(testKey)
	a, _ := c.Seal([]byte("same"), nil)
	b, _ := c.Seal([]byte("same"), nil)
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("s3cret"), "cluster-1", "heartbeat")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	if len(k1) != KeySize {
		t.Fatalf("len = %d, want %d", len(k1), KeySize)
	}
	k2, _ := DeriveKey([]byte("s3cret"), "cluster-1", "heartbeat")
	if !bytes.Equal(k1, k2) {
		t.Error("DeriveKey is not deterministic")
	}
	k3, _ := DeriveKey([]byte("s3cret"), "cluster-1", "keystore")
	if bytes.Equal(k1, k3) {
		t.Error("different info produced the same key")
	}
	k4, _ := DeriveKey([]byte("s3cret"), "cluster-2", "heartbeat")
	if bytes.Equal(k1, k4) {
		t.Error("different salt produced the same key")
	}
	if _, err := DeriveKey(nil, "x", "y"); err == nil {
		t.Error("DeriveKey(nil) succeeded")
	}
}

func BenchmarkSeal_1KB(b *testing.B) {
	for _, typ := range cipherTypes {
		b.Run(string(typ), func(b *testing.B) {
			c, _ := NewWithType(testKey, typ)
			plain := make([]byte, 1024)
			b.SetBytes(int64(len(plain)))
			for i := 0; i < b.N; i++ {
				_, _ = c.Seal(plain, nil)
			}
		})
	}
}
