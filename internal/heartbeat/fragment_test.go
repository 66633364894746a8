package heartbeat

import (
	"bytes"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestFragment_Reassemble(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 5000).Draw(rt, "payload")
		size := rapid.IntRange(fragmentHeaderSize+1, 600).Draw(rt, "size")

		datagrams, err := fragment(payload, size, 1)
		if err != nil {
			rt.Fatalf("fragment: %v", err)
		}
		for _, d := range datagrams {
			if len(d) > size {
				rt.Fatalf("datagram of %d bytes, limit %d", len(d), size)
			}
		}

		perm := rapid.Permutation(datagrams).Draw(rt, "order")
		a := newAssembler(4, 1<<20, time.Minute)
		var got []byte
		for i, d := range perm {
			out, err := a.add("10.0.0.1:10000", d)
			if err != nil {
				rt.Fatalf("add: %v", err)
			}
			if out != nil {
				if i != len(perm)-1 {
					rt.Fatalf("payload complete after %d of %d fragments", i+1, len(perm))
				}
				got = out
			}
		}
		if got == nil && len(payload) > 0 {
			rt.Fatal("payload never completed")
		}
		if !bytes.Equal(got, payload) {
			rt.Fatalf("reassembled %d bytes, want %d", len(got), len(payload))
		}
		if a.len() != 0 {
			rt.Fatalf("%d partial messages left", a.len())
		}
	})
}

func TestFragment_Errors(t *testing.T) {
	if _, err := fragment([]byte("x"), fragmentHeaderSize, 1); err == nil {
		t.Error("fragment() with no room for data succeeded")
	}

	good, err := fragment([]byte("hello"), 100, 1)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	badIndex := append([]byte(nil), good[0]...)
	badIndex[13] = 5

	a := newAssembler(4, 1<<20, time.Minute)
	for _, d := range [][]byte{nil, []byte("short"), []byte("XXXX0123456789ab"), badIndex} {
		if _, err := a.add("s", d); err == nil {
			t.Errorf("add(%q) error = nil", d)
		}
	}
}

func TestAssembler_Bounds(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 100)
	a := newAssembler(2, 1<<20, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	// Three incomplete messages from distinct senders: the oldest is evicted.
	var firsts [][]byte
	for i := 0; i < 3; i++ {
		ds, err := fragment(payload, 100, uint64(i))
		if err != nil {
			t.Fatalf("fragment: %v", err)
		}
		firsts = append(firsts, ds[0])
		if _, err := a.add(string(rune('a'+i)), ds[0]); err != nil {
			t.Fatalf("add: %v", err)
		}
		now = now.Add(time.Second)
	}
	if a.len() != 2 {
		t.Errorf("pending = %d, want 2", a.len())
	}

	now = now.Add(2 * time.Minute)
	if _, err := a.add("z", firsts[0]); err != nil {
		t.Fatalf("add: %v", err)
	}
	if a.len() != 1 {
		t.Errorf("pending after expiry = %d, want 1", a.len())
	}

	small := newAssembler(2, 150, time.Minute)
	ds, _ := fragment(payload, 100, 9)
	var sawErr bool
	for _, d := range ds {
		if _, err := small.add("s", d); err != nil {
			sawErr = true
			break
		}
	}
	if !sawErr {
		t.Error("oversized payload reassembled")
	}
}

func TestNewMulticast_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  MulticastConfig
		ok   bool
	}{
		{"defaults", MulticastConfig{}, true},
		{"unicast group", MulticastConfig{Group: "10.0.0.1"}, false},
		{"ipv6 group", MulticastConfig{Group: "ff02::1"}, false},
		{"tiny datagram", MulticastConfig{DatagramSize: 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMulticast(tt.cfg)
			if (err == nil) != tt.ok {
				t.Fatalf("NewMulticast() error = %v, want ok=%v", err, tt.ok)
			}
			if m != nil && (m.Mode() != TxBroadcast || m.Type() != "multicast") {
				t.Errorf("Mode/Type = %v/%s", m.Mode(), m.Type())
			}
		})
	}
}
