package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

// MaxValueSize bounds a single key value.
const MaxValueSize = 1 << 20

const keyPrefix = "k/"

// Config configures the storage engine.
type Config struct {
	// KV configures the badger engine. Ignored when Engine is set.
	KV KVConfig

	// Engine overrides the KV engine, mostly for tests.
	Engine KVEngine

	// SecretKey seals sec and usr values, see adaptive.DeriveKey.
	// Secret kinds are unavailable without it.
	SecretKey []byte

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine stores the key/value data of cfg, sec and usr objects.
type Engine struct {
	kv        KVEngine
	secretKey []byte
	cipher    *adaptive.Cipher
	now       func() time.Time
	logger    *slog.Logger
}

type record struct {
	Cipher  adaptive.CipherType `json:"cipher,omitempty"`
	Data    []byte              `json:"data"`
	Digest  string              `json:"digest"`
	Size    int                 `json:"size"`
	Updated time.Time           `json:"updated"`
}

// New opens the storage engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var c *adaptive.Cipher
	if len(cfg.SecretKey) > 0 {
		var err error
		if c, err = adaptive.New(cfg.SecretKey); err != nil {
			return nil, fmt.Errorf("storage: secret cipher: %w", err)
		}
	}
	kv := cfg.Engine
	if kv == nil {
		b, err := NewBadgerEngine(cfg.KV, cfg.Logger)
		if err != nil {
			return nil, err
		}
		kv = b
	}
	return &Engine{
		kv:        kv,
		secretKey: cfg.SecretKey,
		cipher:    c,
		now:       cfg.Now,
		logger:    cfg.Logger.With("component", "storage"),
	}, nil
}

// KV returns the underlying KV engine.
func (e *Engine) KV() KVEngine {
	return e.kv
}

// Close closes the KV engine.
func (e *Engine) Close() error {
	return e.kv.Close()
}

// Digest returns the digest published for a value.
func Digest(value []byte) string {
	return strconv.FormatUint(murmur3.Sum64(value), 16)
}

func objectPrefix(p domain.ObjectPath) []byte {
	return []byte(keyPrefix + p.String() + "\x00")
}

func storageKey(p domain.ObjectPath, name string) []byte {
	return append(objectPrefix(p), name...)
}

func checkTarget(p domain.ObjectPath, name string) error {
	if !p.Kind.HasData() {
		return domain.ErrKindNotSupported.WithDetailsf("%s has no key store", p)
	}
	if name == "" {
		return domain.ErrMissingArgument.WithDetails("key")
	}
	if len(name) > 255 || strings.ContainsRune(name, 0) {
		return domain.ErrInvalidArgument.WithDetailsf("key name %q", name)
	}
	return nil
}

// Set stores value under name in the data store of p and returns the
// metadata to publish.
func (e *Engine) Set(ctx context.Context, p domain.ObjectPath, name string, value []byte) (domain.KeyMeta, error) {
	if err := checkTarget(p, name); err != nil {
		return domain.KeyMeta{}, err
	}
	if len(value) > MaxValueSize {
		return domain.KeyMeta{}, domain.ErrInvalidArgument.WithDetailsf("value exceeds %d bytes", MaxValueSize)
	}

	key := storageKey(p, name)
	rec := record{
		Data:    value,
		Digest:  Digest(value),
		Size:    len(value),
		Updated: e.now().UTC(),
	}
	if p.Kind.IsSecret() {
		if e.cipher == nil {
			return domain.KeyMeta{}, domain.ErrStorageError.WithDetails("no cipher configured for secret values")
		}
		sealed, err := e.cipher.Seal(value, key)
		if err != nil {
			return domain.KeyMeta{}, domain.ErrStorageError.WithCause(err)
		}
		rec.Cipher = e.cipher.Type()
		rec.Data = sealed
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return domain.KeyMeta{}, domain.ErrStorageError.WithCause(fmt.Errorf("encode record: %w", err))
	}
	if err := e.kv.Set(ctx, key, raw); err != nil {
		return domain.KeyMeta{}, domain.ErrStorageError.WithCause(fmt.Errorf("set %s/%s: %w", p, name, err))
	}
	e.logger.Debug("key stored", "path", p.String(), "key", name, "size", rec.Size)
	return rec.meta(p, value), nil
}

// Get returns the plaintext value and metadata of name.
func (e *Engine) Get(ctx context.Context, p domain.ObjectPath, name string) ([]byte, domain.KeyMeta, error) {
	if err := checkTarget(p, name); err != nil {
		return nil, domain.KeyMeta{}, err
	}
	key := storageKey(p, name)
	raw, err := e.kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, domain.KeyMeta{}, domain.ErrKeyNotFound.WithDetailsf("%s: %s", p, name)
	}
	if err != nil {
		return nil, domain.KeyMeta{}, domain.ErrStorageError.WithCause(err)
	}
	rec, value, err := e.decode(key, raw)
	if err != nil {
		return nil, domain.KeyMeta{}, err
	}
	return value, rec.meta(p, value), nil
}

// Delete removes name from the data store of p. A missing key yields
// domain.ErrKeyNotFound.
func (e *Engine) Delete(ctx context.Context, p domain.ObjectPath, name string) error {
	if err := checkTarget(p, name); err != nil {
		return err
	}
	key := storageKey(p, name)
	if _, err := e.kv.Get(ctx, key); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return domain.ErrKeyNotFound.WithDetailsf("%s: %s", p, name)
		}
		return domain.ErrStorageError.WithCause(err)
	}
	if err := e.kv.Delete(ctx, key); err != nil {
		return domain.ErrStorageError.WithCause(fmt.Errorf("delete %s/%s: %w", p, name, err))
	}
	e.logger.Debug("key deleted", "path", p.String(), "key", name)
	return nil
}

// Keys returns the sorted key names of p.
func (e *Engine) Keys(ctx context.Context, p domain.ObjectPath) ([]string, error) {
	if !p.Kind.HasData() {
		return nil, domain.ErrKindNotSupported.WithDetailsf("%s has no key store", p)
	}
	prefix := objectPrefix(p)
	var names []string
	err := e.kv.Scan(ctx, prefix, func(key, _ []byte) bool {
		names = append(names, string(bytes.TrimPrefix(key, prefix)))
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteObject removes every key of p and returns how many were removed.
func (e *Engine) DeleteObject(ctx context.Context, p domain.ObjectPath) (int, error) {
	names, err := e.Keys(ctx, p)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := e.kv.Delete(ctx, storageKey(p, name)); err != nil {
			return 0, domain.ErrStorageError.WithCause(err)
		}
	}
	return len(names), nil
}

// Metas returns the metadata of every stored key, keyed by object path
// then key name. Records that fail to decode are logged and skipped.
func (e *Engine) Metas(ctx context.Context) (map[string]map[string]domain.KeyMeta, error) {
	out := make(map[string]map[string]domain.KeyMeta)
	err := e.kv.Scan(ctx, []byte(keyPrefix), func(key, raw []byte) bool {
		pathStr, name, ok := strings.Cut(strings.TrimPrefix(string(key), keyPrefix), "\x00")
		if !ok {
			return true
		}
		p, err := domain.ParsePath(pathStr)
		if err != nil {
			e.logger.Warn("skip stored key with invalid path", "path", pathStr, "error", err)
			return true
		}
		rec, value, err := e.decode(key, raw)
		if err != nil {
			e.logger.Warn("skip undecodable key", "path", pathStr, "key", name, "error", err)
			return true
		}
		if out[pathStr] == nil {
			out[pathStr] = make(map[string]domain.KeyMeta)
		}
		out[pathStr][name] = rec.meta(p, value)
		return true
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	return out, nil
}

func (e *Engine) decode(key, raw []byte) (record, []byte, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, nil, domain.ErrStorageError.WithCause(fmt.Errorf("decode record: %w", err))
	}
	if rec.Cipher == "" {
		return rec, rec.Data, nil
	}
	if e.cipher == nil {
		return rec, nil, domain.ErrStorageError.WithDetails("no cipher configured for secret values")
	}
	c := e.cipher
	if rec.Cipher != c.Type() {
		// sealed on a platform preferring the other cipher
		var err error
		if c, err = adaptive.NewWithType(e.secretKey, rec.Cipher); err != nil {
			return rec, nil, domain.ErrStorageError.WithCause(err)
		}
	}
	value, err := c.Open(rec.Data, key)
	if err != nil {
		return rec, nil, domain.ErrStorageError.WithCause(fmt.Errorf("open sealed value: %w", err))
	}
	return rec, value, nil
}

func (r record) meta(p domain.ObjectPath, value []byte) domain.KeyMeta {
	m := domain.KeyMeta{
		Digest:  r.Digest,
		Size:    r.Size,
		Updated: r.Updated,
	}
	if !p.Kind.IsSecret() {
		m.Value = string(value)
	}
	return m
}
