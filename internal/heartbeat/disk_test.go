package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newDisk(t *testing.T, path, nodename string, slotSize int) *Disk {
	t.Helper()
	d, err := NewDisk(DiskConfig{
		Path:         path,
		Nodename:     nodename,
		Nodes:        []string{"a", "b", "c"},
		SlotSize:     slotSize,
		PollInterval: 10 * time.Millisecond,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewDisk(%s): %v", nodename, err)
	}
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open(%s): %v", nodename, err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func recvWithin(t *testing.T, b Backend, d time.Duration) (Packet, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.Recv(ctx)
}

func TestDisk_Exchange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.dev")
	a := newDisk(t, path, "a", 4096)
	b := newDisk(t, path, "b", 4096)

	if err := a.Send(context.Background(), "", []byte("dataset-1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	p, err := recvWithin(t, b, time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(p.Payload) != "dataset-1" {
		t.Errorf("Recv() = %q, want dataset-1", p.Payload)
	}

	// Unchanged slots are not delivered twice.
	if p, err := recvWithin(t, b, 50*time.Millisecond); err == nil {
		t.Errorf("Recv() = %q, want no payload", p.Payload)
	}

	if err := a.Send(context.Background(), "", []byte("dataset-2")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if p, err := recvWithin(t, b, time.Second); err != nil || string(p.Payload) != "dataset-2" {
		t.Errorf("Recv() = %q, %v, want dataset-2", p.Payload, err)
	}

	// a never reads its own slot.
	if p, err := recvWithin(t, a, 50*time.Millisecond); err == nil {
		t.Errorf("a received %q", p.Payload)
	}
}

func TestDisk_SlotOverflow(t *testing.T) {
	d := newDisk(t, filepath.Join(t.TempDir(), "hb.dev"), "a", 64)
	err := d.Send(context.Background(), "", bytes.Repeat([]byte("x"), 64))
	if !errors.Is(err, ErrSlotOverflow) {
		t.Errorf("Send() error = %v, want ErrSlotOverflow", err)
	}
}

func TestDisk_Layout(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "hb.dev")
	newDisk(t, path, "a", 4096).Close()

	d, err := NewDisk(DiskConfig{Path: path, Nodename: "b", Nodes: []string{"a", "b"}, SlotSize: 8192, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if err := d.Open(context.Background()); err == nil {
		d.Close()
		t.Error("Open() with another slot size succeeded")
	}

	foreign := filepath.Join(dir, "foreign")
	if err := os.WriteFile(foreign, []byte("not a heartbeat device"), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err = NewDisk(DiskConfig{Path: foreign, Nodename: "a", Nodes: []string{"a"}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	if err := d.Open(context.Background()); err == nil {
		d.Close()
		t.Error("Open() on foreign data succeeded")
	}

	if _, err := NewDisk(DiskConfig{Path: path, Nodename: "z", Nodes: []string{"a"}}); err == nil {
		t.Error("NewDisk() for a node outside the list succeeded")
	}
}

func TestDisk_CorruptSlotSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hb.dev")
	a := newDisk(t, path, "a", 4096)
	if err := a.Send(context.Background(), "", []byte("dataset")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte("X"), int64(4096+slotHeaderSize)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	b := newDisk(t, path, "b", 4096)
	if p, err := recvWithin(t, b, 50*time.Millisecond); err == nil {
		t.Errorf("corrupt slot delivered: %q", p.Payload)
	}
}
