package confloader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewWatcher(t *testing.T) {
	w, err := NewWatcher(WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if w.watcher == nil {
		t.Error("NewWatcher() watcher is nil")
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v, want %v", w.debounce, DefaultDebounce)
	}
}

func TestWatcher_Watch_NonexistentDir(t *testing.T) {
	w, err := NewWatcher(WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	if err := w.Watch("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Watch() expected error for nonexistent directory")
	}
}

func TestWatcher_OnChange_MultipleCallbacks(t *testing.T) {
	w, err := NewWatcher(WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Stop()

	var count int
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		w.OnChange(func(string) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	w.notifyCallbacks("/test/path")

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("callbacks called %d times, want 3", count)
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher(WithWatcherLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func waitChange(t *testing.T, changed <-chan string) string {
	t.Helper()
	select {
	case path := <-changed:
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange() callback was not triggered within timeout")
	}
	return ""
}

func TestWatcher_FileChange(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configFile, []byte("key: value1"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w, err := NewWatcher(WithWatcherLogger(quietLogger()), WithDebounce(0))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Watch(configFile); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	changed := make(chan string, 10)
	w.OnChange(func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	w.StartAsync()
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("key: value2"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if path := waitChange(t, changed); path == "" {
		t.Error("callback received empty path")
	}
}

func TestWatcher_TreeNewSubdirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "etc")

	w, err := NewWatcher(WithWatcherLogger(quietLogger()), WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.WatchTree(root); err != nil {
		t.Fatalf("WatchTree() error = %v", err)
	}
	changed := make(chan string, 10)
	w.OnChange(func(path string) {
		select {
		case changed <- path:
		default:
		}
	})
	w.StartAsync()
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	sub := filepath.Join(root, "prod", "svc")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	waitChange(t, changed)

	// let the watcher register the new directories
	time.Sleep(100 * time.Millisecond)
	for len(changed) > 0 {
		<-changed
	}

	if err := os.WriteFile(filepath.Join(sub, "web.yaml"), []byte("orchestrate: ha"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	waitChange(t, changed)
}

func TestWatcher_Debounce(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	w, err := NewWatcher(WithWatcherLogger(quietLogger()), WithDebounce(100*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Watch(configFile); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	var mu sync.Mutex
	calls := 0
	w.OnChange(func(string) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	w.StartAsync()
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(configFile, []byte("k: v"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	time.Sleep(400 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callbacks = %d, want 1 after a burst", calls)
	}
}
