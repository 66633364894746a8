package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/server/config"
)

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Node.Name = "n1"
	cfg.Node.Labels = map[string]string{"az": "fr1"}
	cfg.Cluster.ID = "c1"
	cfg.Cluster.Secret = "hmsec_test_secret"
	cfg.Listener.Addr = "127.0.0.1"
	cfg.Listener.Port = 0
	cfg.Listener.Socket = filepath.Join(dir, "lsnr.sock")
	cfg.Storage.InMemory = true
	cfg.Storage.EtcDir = filepath.Join(dir, "etc")
	if err := config.Verify(cfg); err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDaemon_StartShutdown(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.Shutdown(sctx); err != nil {
			t.Errorf("Shutdown error: %v", err)
		}
	}()

	if got := d.State().Local().Labels["az"]; got != "fr1" {
		t.Errorf("label az = %q, want fr1", got)
	}

	unix := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "unix", d.cfg.Listener.Socket)
		},
	}}
	resp, err := unix.Get("http://local/daemon_status")
	if err != nil {
		t.Fatalf("GET over socket: %v", err)
	}
	var body struct {
		Status int            `json:"status"`
		Data   map[string]any `json:"data"`
	}
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != 0 {
		t.Errorf("daemon_status = %d/%d, want 200/0", resp.StatusCode, body.Status)
	}

	base := "http://" + d.Addr().String()
	resp, err = http.Get(base + "/daemon_status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous daemon_status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp, err = http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", resp.StatusCode)
	}
}

func TestDaemon_ObjectsChangedWakesMonitor(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.storage.Close()

	d.objectsChanged([]string{"ns1/svc/web"})
	select {
	case <-d.State().WakeC():
	case <-time.After(time.Second):
		t.Fatal("monitor not woken")
	}
	if reasons := d.State().WakeReasons(); !slices.Contains(reasons, "config change") {
		t.Errorf("WakeReasons() = %v, want config change", reasons)
	}
}

func TestDaemon_Prune(t *testing.T) {
	d, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.storage.Close()

	d.State().Blacklist().Violation("192.0.2.1")
	if d.State().BlacklistSize() != 1 {
		t.Fatalf("BlacklistSize() = %d, want 1", d.State().BlacklistSize())
	}
	d.State().RelayStore(state.RelaySlot{ClusterID: "c9", Nodename: "n1", Updated: time.Now()})
	d.prune(time.Now())
	if d.State().BlacklistSize() != 1 {
		t.Errorf("fresh entry pruned")
	}
	if n := len(d.State().RelaySlots()); n != 1 {
		t.Errorf("relay slots = %d after fresh prune, want 1", n)
	}

	d.prune(time.Now().Add(RelayTTL + time.Minute))
	if n := len(d.State().RelaySlots()); n != 0 {
		t.Errorf("relay slots = %d after TTL, want 0", n)
	}
}

func TestNew_HeartbeatBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cluster.Nodes = []config.NodeEntry{{Name: "n1"}}
	cfg.Heartbeats = []config.HeartbeatSection{{Type: config.HeartbeatDisk, Dev: filepath.Join(t.TempDir(), "hb.img")}}
	d, err := New(cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer d.storage.Close()
	if len(d.threads) != 1 || d.threads[0].ID() != "hb#1" {
		t.Errorf("threads = %d, want hb#1", len(d.threads))
	}
}
