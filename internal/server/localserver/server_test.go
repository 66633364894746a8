package localserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/server/rpcserver"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func unixClient(path string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
		Timeout: 5 * time.Second,
	}
}

func TestServer_RootIdentity(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "hamesh.sock")
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := rpcserver.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusUnauthorized)
			return
		}
		io.WriteString(w, id.String())
	})

	s := New(sock, h, testLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	fi, err := os.Stat(sock)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != SocketMode {
		t.Errorf("socket mode = %v, want %v", fi.Mode().Perm(), SocketMode)
	}

	resp, err := unixClient(sock).Get("http://local/daemon_status")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "root" {
		t.Errorf("identity = %q, want root", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe error = %v, want nil", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket still present after shutdown: %v", err)
	}
}

func TestRemoveStale(t *testing.T) {
	dir := t.TempDir()

	regular := filepath.Join(dir, "file")
	if err := os.WriteFile(regular, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := removeStale(regular); err == nil {
		t.Error("removeStale on a regular file: want error")
	}

	stale := filepath.Join(dir, "stale.sock")
	l, err := net.Listen("unix", stale)
	if err != nil {
		t.Fatal(err)
	}
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()
	if err := removeStale(stale); err != nil {
		t.Errorf("removeStale on a dead socket error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("dead socket not removed")
	}

	if err := removeStale(filepath.Join(dir, "absent")); err != nil {
		t.Errorf("removeStale on a missing path error = %v", err)
	}
}
