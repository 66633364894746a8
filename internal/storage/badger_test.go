package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	cfg := DefaultKVConfig(t.TempDir())
	cfg.Badger.GCInterval = 0
	engine, err := NewBadgerEngine(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewBadgerEngine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_BasicOperations(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		if err := engine.Set(ctx, []byte("k1"), []byte("v1")); err != nil {
			t.Fatal(err)
		}
		got, err := engine.Get(ctx, []byte("k1"))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v1" {
			t.Errorf("Get = %s, want v1", got)
		}
	})

	t.Run("Get non-existent key", func(t *testing.T) {
		if _, err := engine.Get(ctx, []byte("missing")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get error = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = engine.Set(ctx, []byte("gone"), []byte("x"))
		if err := engine.Delete(ctx, []byte("gone")); err != nil {
			t.Fatal(err)
		}
		if _, err := engine.Get(ctx, []byte("gone")); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Get after delete error = %v, want ErrKeyNotFound", err)
		}
	})
}

func TestBadgerEngine_Scan(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = engine.Set(ctx, []byte(fmt.Sprintf("a/%d", i)), []byte("x"))
	}
	_ = engine.Set(ctx, []byte("b/0"), []byte("y"))

	var keys []string
	err := engine.Scan(ctx, []byte("a/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 5 || keys[0] != "a/0" || keys[4] != "a/4" {
		t.Errorf("Scan keys = %v", keys)
	}

	n := 0
	_ = engine.Scan(ctx, []byte("a/"), func(_, _ []byte) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Errorf("early stop visited %d keys, want 2", n)
	}
}

func TestBadgerEngine_Reopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultKVConfig(dir)
	cfg.Badger.GCInterval = 0
	ctx := context.Background()

	e1, err := NewBadgerEngine(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := e1.Set(ctx, []byte("persist"), []byte("me")); err != nil {
		t.Fatal(err)
	}
	if err := e1.Close(); err != nil {
		t.Fatal(err)
	}
	if err := e1.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if _, err := e1.Get(ctx, []byte("persist")); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close error = %v, want ErrClosed", err)
	}

	e2, err := NewBadgerEngine(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	got, err := e2.Get(ctx, []byte("persist"))
	if err != nil || string(got) != "me" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

func TestBadgerEngine_GCAndStats(t *testing.T) {
	engine := newTestBadger(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_ = engine.Set(ctx, []byte(fmt.Sprintf("k%d", i)), make([]byte, 512))
	}
	if _, err := engine.GC(ctx); err != nil {
		t.Fatalf("GC error: %v", err)
	}
	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.LastGCTime == 0 {
		t.Error("LastGCTime not recorded")
	}
	if stats.TotalSize != stats.LSMSize+stats.ValueLogSize {
		t.Errorf("TotalSize = %d, want LSM+vlog", stats.TotalSize)
	}
}

func TestBadgerEngine_InMemory(t *testing.T) {
	engine, err := NewBadgerEngine(KVConfig{InMemory: true}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	ctx := context.Background()
	if err := engine.Set(ctx, []byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if n, err := engine.GC(ctx); err != nil || n != 0 {
		t.Errorf("GC in memory = %d, %v", n, err)
	}
}

func TestBadgerEngine_RequiresDir(t *testing.T) {
	if _, err := NewBadgerEngine(KVConfig{}, testLogger()); err == nil {
		t.Error("NewBadgerEngine without dir succeeded")
	}
}

func TestBadgerEngine_Collector(t *testing.T) {
	engine := newTestBadger(t)
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(engine.Collector()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if n := testutil.CollectAndCount(engine.Collector()); n != 4 {
		t.Errorf("collected %d metrics, want 4", n)
	}
}
