package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

// MaxPayloadSize bounds a decompressed dataset.
const MaxPayloadSize = 16 << 20

const codecVersion byte = 1

// ErrDecrypt is returned by Decode for payloads that fail
// authentication: a wrong cluster secret, another cluster or tampering.
var ErrDecrypt = errors.New("heartbeat: payload authentication failed")

// ErrBadPayload is returned by Decode for authenticated payloads that
// cannot be decoded.
var ErrBadPayload = errors.New("heartbeat: bad payload")

// Codec turns dataset messages into sealed heartbeat payloads.
type Codec struct {
	clusterID []byte
	cipher    *adaptive.Cipher
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewCodec derives the payload key from the cluster secret and id.
func NewCodec(clusterID, secret string) (*Codec, error) {
	key, err := adaptive.DeriveKey([]byte(secret), clusterID, "hamesh heartbeat")
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	c, err := adaptive.NewWithType(key, adaptive.CipherAESGCM)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize), zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("heartbeat: zstd decoder: %w", err)
	}
	return &Codec{
		clusterID: []byte(clusterID),
		cipher:    c,
		enc:       enc,
		dec:       dec,
	}, nil
}

// Encode serializes, compresses and seals msg.
func (c *Codec) Encode(msg *state.Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: encode: %w", err)
	}
	compressed := c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	sealed, err := c.cipher.Seal(compressed, c.clusterID)
	if err != nil {
		return nil, err
	}
	return append([]byte{codecVersion}, sealed...), nil
}

// Decode opens, decompresses and parses a payload.
func (c *Codec) Decode(b []byte) (*state.Message, error) {
	if len(b) < 1 || b[0] != codecVersion {
		return nil, fmt.Errorf("%w: unknown version", ErrBadPayload)
	}
	compressed, err := c.cipher.Open(b[1:], c.clusterID)
	if err != nil {
		return nil, ErrDecrypt
	}
	raw, err := c.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrBadPayload, err)
	}
	var msg state.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &msg, nil
}

// Close releases the compression resources.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
