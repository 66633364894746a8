package heartbeat

import (
	"context"
	"testing"
	"time"
)

func newUnicast(t *testing.T, nodename string, peers map[string]string, secret string) *Unicast {
	t.Helper()
	u, err := NewUnicast(UnicastConfig{
		Nodename:  nodename,
		BindAddr:  "127.0.0.1",
		BindPort:  0,
		Peers:     peers,
		ClusterID: "cluster-1",
		Secret:    secret,
		Profile:   ProfileLocal,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewUnicast(%s): %v", nodename, err)
	}
	return u
}

func TestUnicast_Exchange(t *testing.T) {
	a := newUnicast(t, "a", nil, "s3cret")
	a.SetLocalState(func() []byte { return []byte("full-a") })
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("a.Open: %v", err)
	}
	defer a.Close()

	b := newUnicast(t, "b", map[string]string{"a": a.Addr()}, "s3cret")
	b.SetLocalState(func() []byte { return []byte("full-b") })
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("b.Open: %v", err)
	}
	defer b.Close()

	// The join push/pull hands each side the other's full dataset.
	p, err := recvWithin(t, b, 2*time.Second)
	if err != nil {
		t.Fatalf("b.Recv: %v", err)
	}
	if string(p.Payload) != "full-a" {
		t.Errorf("b.Recv() = %q, want full-a", p.Payload)
	}

	if !eventually(t, 2*time.Second, func() bool {
		return a.Send(context.Background(), "b", []byte("delta")) == nil
	}) {
		t.Fatal("a never reached b")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		p, err := recvWithin(t, b, time.Until(deadline))
		if err != nil {
			t.Fatalf("b.Recv: %v", err)
		}
		if string(p.Payload) == "delta" {
			break
		}
	}
}

func TestUnicast_SendUnknownPeer(t *testing.T) {
	u := newUnicast(t, "a", nil, "s3cret")
	if err := u.Send(context.Background(), "b", []byte("x")); err != ErrClosed {
		t.Errorf("Send() before Open error = %v, want ErrClosed", err)
	}
	if err := u.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer u.Close()
	if err := u.Send(context.Background(), "b", []byte("x")); err == nil {
		t.Error("Send() to a peer without address succeeded")
	}
}

func TestNewUnicast_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  UnicastConfig
	}{
		{"no nodename", UnicastConfig{Secret: "s"}},
		{"no secret", UnicastConfig{Nodename: "a"}},
		{"bad profile", UnicastConfig{Nodename: "a", Secret: "s", Profile: "mars"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewUnicast(tt.cfg); err == nil {
				t.Error("NewUnicast() error = nil")
			}
		})
	}
}
