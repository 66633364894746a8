package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/storage"
	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

var _ KeyStore = (*storage.Engine)(nil)

func newKeyFixture(t *testing.T) (*KeyService, *state.DaemonState, *storage.Engine) {
	t.Helper()
	st, err := state.New(state.Config{Nodename: "n1", ClusterID: "c1", Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	kv, err := storage.NewBadgerEngine(storage.KVConfig{InMemory: true}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	key, _ := adaptive.DeriveKey([]byte("secret"), "c1", "keystore")
	eng, err := storage.New(storage.Config{Engine: kv, SecretKey: key, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	return NewKeyService(eng, st, testLogger()), st, eng
}

func TestKeyService_SetPublishes(t *testing.T) {
	svc, st, _ := newKeyFixture(t)
	ctx := context.Background()
	sub := st.Subscribe(4)
	defer sub.Close()

	p := domain.MustParsePath("cfg/app1")
	gen := st.LocalGen()
	if _, err := svc.Set(ctx, p, "port", []byte("80")); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if st.LocalGen() != gen+1 {
		t.Errorf("LocalGen = %d, want %d", st.LocalGen(), gen+1)
	}
	if m := st.Local().Keys["cfg/app1"]["port"]; m.Value != "80" {
		t.Errorf("published meta = %+v", m)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != domain.EventKeySet || ev.Path != "cfg/app1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no key_set event")
	}

	select {
	case item := <-st.Collector():
		if len(item.Args) != 3 || item.Args[0] != "set_key" {
			t.Errorf("collector item = %+v", item)
		}
	default:
		t.Error("nothing enqueued for the collector")
	}

	value, err := svc.Get(ctx, p, "port")
	if err != nil || string(value) != "80" {
		t.Errorf("Get = %q, %v", value, err)
	}
}

func TestKeyService_SecretNotPublished(t *testing.T) {
	svc, st, _ := newKeyFixture(t)
	p := domain.MustParsePath("prod/sec/db")
	if _, err := svc.Set(context.Background(), p, "password", []byte("hunter2")); err != nil {
		t.Fatal(err)
	}
	m := st.Local().Keys["prod/sec/db"]["password"]
	if m.Value != "" || m.Size != 7 || m.Digest == "" {
		t.Errorf("published secret meta = %+v", m)
	}
}

func TestKeyService_Delete(t *testing.T) {
	svc, st, _ := newKeyFixture(t)
	ctx := context.Background()
	p := domain.MustParsePath("cfg/app1")
	_, _ = svc.Set(ctx, p, "a", []byte("1"))
	_, _ = svc.Set(ctx, p, "b", []byte("2"))

	if err := svc.Delete(ctx, p, "a"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, ok := st.Local().Keys["cfg/app1"]["a"]; ok {
		t.Error("deleted key still published")
	}
	if err := svc.Delete(ctx, p, "b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := st.Local().Keys["cfg/app1"]; ok {
		t.Error("empty object still published")
	}

	gen := st.LocalGen()
	if err := svc.Delete(ctx, p, "b"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Errorf("second Delete error = %v, want ErrKeyNotFound", err)
	}
	if st.LocalGen() != gen {
		t.Error("failed delete bumped the generation")
	}
}

func TestKeyService_Load(t *testing.T) {
	svc, st, eng := newKeyFixture(t)
	ctx := context.Background()
	_, _ = eng.Set(ctx, domain.MustParsePath("cfg/a"), "k", []byte("v"))
	_, _ = eng.Set(ctx, domain.MustParsePath("usr/alice"), "token", []byte("t"))

	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	keys := st.Local().Keys
	if keys["cfg/a"]["k"].Value != "v" {
		t.Errorf("cfg/a = %+v", keys["cfg/a"])
	}
	if m, ok := keys["usr/alice"]["token"]; !ok || m.Value != "" {
		t.Errorf("usr/alice = %+v", keys["usr/alice"])
	}

	names, err := svc.Keys(ctx, domain.MustParsePath("cfg/a"))
	if err != nil || len(names) != 1 || names[0] != "k" {
		t.Errorf("Keys = %v, %v", names, err)
	}
}
