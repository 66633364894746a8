package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, kv KVEngine) *Engine {
	t.Helper()
	key, err := adaptive.DeriveKey([]byte("cluster-secret"), "cluster-1", "keystore")
	if err != nil {
		t.Fatal(err)
	}
	if kv == nil {
		b, err := NewBadgerEngine(KVConfig{InMemory: true}, testLogger())
		if err != nil {
			t.Fatal(err)
		}
		kv = b
	}
	e, err := New(Config{
		Engine:    kv,
		SecretKey: key,
		Now:       func() time.Time { return testNow },
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_CfgKey(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	p := domain.MustParsePath("cfg/app1")

	meta, err := e.Set(ctx, p, "port", []byte("8080"))
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}
	want := domain.KeyMeta{Value: "8080", Digest: Digest([]byte("8080")), Size: 4, Updated: testNow}
	if meta != want {
		t.Errorf("meta = %+v, want %+v", meta, want)
	}

	value, got, err := e.Get(ctx, p, "port")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(value) != "8080" || got != want {
		t.Errorf("Get = %q, %+v", value, got)
	}
}

func TestEngine_SecretKeyIsSealed(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	p := domain.MustParsePath("prod/sec/db")

	meta, err := e.Set(ctx, p, "password", []byte("hunter2"))
	if err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if meta.Value != "" {
		t.Errorf("secret meta carries the value: %+v", meta)
	}
	if meta.Digest == "" || meta.Size != 7 {
		t.Errorf("meta = %+v", meta)
	}

	raw, err := e.KV().Get(ctx, storageKey(p, "password"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("hunter2")) {
		t.Error("secret value stored in clear")
	}

	value, _, err := e.Get(ctx, p, "password")
	if err != nil || string(value) != "hunter2" {
		t.Errorf("Get = %q, %v", value, err)
	}
}

func TestEngine_SecretNeedsKey(t *testing.T) {
	kv, _ := NewBadgerEngine(KVConfig{InMemory: true}, testLogger())
	e, err := New(Config{Engine: kv, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	_, err = e.Set(context.Background(), domain.MustParsePath("usr/alice"), "k", []byte("v"))
	if !errors.Is(err, domain.ErrStorageError) {
		t.Errorf("Set error = %v, want ErrStorageError", err)
	}
}

func TestEngine_Errors(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	cfg := domain.MustParsePath("cfg/app1")

	tests := []struct {
		name string
		path domain.ObjectPath
		key  string
		want error
	}{
		{"svc has no data", domain.MustParsePath("svc/web"), "k", domain.ErrKindNotSupported},
		{"empty key", cfg, "", domain.ErrMissingArgument},
		{"nul in key", cfg, "a\x00b", domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Set(ctx, tt.path, tt.key, []byte("v")); !errors.Is(err, tt.want) {
				t.Errorf("Set error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, _, err := e.Get(ctx, cfg, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Get missing error = %v, want ErrKeyNotFound", err)
	}
	if err := e.Delete(ctx, cfg, "missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("Delete missing error = %v, want ErrKeyNotFound", err)
	}
	if _, err := e.Set(ctx, cfg, "big", make([]byte, MaxValueSize+1)); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Set oversized error = %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_KeysAreScopedByPath(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	a := domain.MustParsePath("cfg/app")
	ab := domain.MustParsePath("cfg/appb")

	_, _ = e.Set(ctx, a, "z", []byte("1"))
	_, _ = e.Set(ctx, a, "b", []byte("2"))
	_, _ = e.Set(ctx, ab, "x", []byte("3"))

	names, err := e.Keys(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "z" {
		t.Errorf("Keys(cfg/app) = %v, want [b z]", names)
	}

	n, err := e.DeleteObject(ctx, a)
	if err != nil || n != 2 {
		t.Errorf("DeleteObject = %d, %v", n, err)
	}
	if names, _ := e.Keys(ctx, ab); len(names) != 1 {
		t.Errorf("Keys(cfg/appb) after deleting cfg/app = %v", names)
	}
}

func TestEngine_DeleteAndMetas(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	cfg := domain.MustParsePath("cfg/app1")
	sec := domain.MustParsePath("ns1/sec/tls")

	_, _ = e.Set(ctx, cfg, "a", []byte("1"))
	_, _ = e.Set(ctx, cfg, "b", []byte("2"))
	_, _ = e.Set(ctx, sec, "key", []byte("pem"))
	if err := e.Delete(ctx, cfg, "b"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	metas, err := e.Metas(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 {
		t.Fatalf("Metas paths = %v", metas)
	}
	if m := metas["cfg/app1"]; len(m) != 1 || m["a"].Value != "1" {
		t.Errorf("cfg/app1 metas = %+v", m)
	}
	if m := metas["ns1/sec/tls"]["key"]; m.Value != "" || m.Size != 3 {
		t.Errorf("ns1/sec/tls metas = %+v", m)
	}
}

func TestEngine_ReadsOtherCipher(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	p := domain.MustParsePath("sec/db")

	other := adaptive.CipherChaCha20
	if e.cipher.Type() == other {
		other = adaptive.CipherAESGCM
	}
	c, err := adaptive.NewWithType(e.secretKey, other)
	if err != nil {
		t.Fatal(err)
	}
	// write a record as a node preferring the other cipher would
	e.cipher = c
	if _, err := e.Set(ctx, p, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	e.cipher, _ = adaptive.New(e.secretKey)

	value, _, err := e.Get(ctx, p, "k")
	if err != nil || string(value) != "v" {
		t.Errorf("Get = %q, %v", value, err)
	}
}
