package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHandler_Defaults(t *testing.T) {
	h := NewHandler(0, nil)
	if h.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", h.timeout, DefaultTimeout)
	}
	select {
	case <-h.Done():
		t.Error("Done channel should not be closed initially")
	default:
	}
}

func TestHandler_ReverseOrderAndErrors(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	var mu sync.Mutex
	var order []string
	record := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	errStore := errors.New("flush failed")
	h.OnShutdown("store", record("store", errStore))
	h.OnShutdown("monitor", record("monitor", nil))
	h.OnShutdown("listener", record("listener", nil))

	h.Trigger()
	err := h.Wait(context.Background())
	if !errors.Is(err, errStore) {
		t.Errorf("Wait error = %v, want %v", err, errStore)
	}
	want := []string{"listener", "monitor", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done not closed after Wait")
	}
}

func TestHandler_ContextCancel(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	ran := false
	h.OnShutdown("hook", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("hook context has no deadline")
		}
		ran = true
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Wait(ctx); err != nil {
		t.Errorf("Wait error = %v", err)
	}
	if !ran {
		t.Error("hook did not run")
	}
}

func TestHandler_Signal(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	done := make(chan error, 1)
	go func() { done <- h.Wait(context.Background()) }()

	// Give Wait time to install its signal handler.
	time.Sleep(50 * time.Millisecond)
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after SIGTERM")
	}
}

func TestHandler_TriggerTwice(t *testing.T) {
	h := NewHandler(time.Second, testLogger())
	h.Trigger()
	h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("Wait error = %v", err)
	}
}
