package heartbeat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Fragment header: magic(4) | msgid(8) | index(2) | total(2).
const (
	fragmentHeaderSize = 16
	maxFragments       = 1 << 15
)

var fragmentMagic = [4]byte{'H', 'M', 'F', '1'}

var errBadFragment = errors.New("heartbeat: bad fragment")

// fragment splits payload into datagrams of at most size bytes.
func fragment(payload []byte, size int, seq uint64) ([][]byte, error) {
	chunk := size - fragmentHeaderSize
	if chunk <= 0 {
		return nil, fmt.Errorf("heartbeat: datagram size %d too small", size)
	}
	total := (len(payload) + chunk - 1) / chunk
	if total == 0 {
		total = 1
	}
	if total > maxFragments {
		return nil, fmt.Errorf("heartbeat: payload of %d bytes needs too many fragments", len(payload))
	}

	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], seq)
	h := murmur3.New64()
	_, _ = h.Write(seed[:])
	_, _ = h.Write(payload)
	msgid := h.Sum64()

	out := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunk
		end := min(start+chunk, len(payload))
		d := make([]byte, fragmentHeaderSize+end-start)
		copy(d, fragmentMagic[:])
		binary.BigEndian.PutUint64(d[4:], msgid)
		binary.BigEndian.PutUint16(d[12:], uint16(i))
		binary.BigEndian.PutUint16(d[14:], uint16(total))
		copy(d[fragmentHeaderSize:], payload[start:end])
		out = append(out, d)
	}
	return out, nil
}

type fragmentHeader struct {
	msgid uint64
	index int
	total int
}

func parseFragment(d []byte) (fragmentHeader, []byte, error) {
	if len(d) < fragmentHeaderSize || [4]byte(d[:4]) != fragmentMagic {
		return fragmentHeader{}, nil, errBadFragment
	}
	h := fragmentHeader{
		msgid: binary.BigEndian.Uint64(d[4:]),
		index: int(binary.BigEndian.Uint16(d[12:])),
		total: int(binary.BigEndian.Uint16(d[14:])),
	}
	if h.total == 0 || h.index >= h.total {
		return fragmentHeader{}, nil, errBadFragment
	}
	return h, d[fragmentHeaderSize:], nil
}

type partial struct {
	parts   [][]byte
	got     int
	size    int
	created time.Time
}

// assembler reassembles fragments per sender. It keeps at most
// maxPending incomplete messages and forgets those older than ttl.
type assembler struct {
	mu         sync.Mutex
	pending    map[string]*partial
	maxPending int
	maxSize    int
	ttl        time.Duration
	now        func() time.Time
}

func newAssembler(maxPending, maxSize int, ttl time.Duration) *assembler {
	return &assembler{
		pending:    make(map[string]*partial),
		maxPending: maxPending,
		maxSize:    maxSize,
		ttl:        ttl,
		now:        time.Now,
	}
}

// add stores one datagram from sender and returns the payload once all
// its fragments arrived.
func (a *assembler) add(sender string, d []byte) ([]byte, error) {
	h, data, err := parseFragment(d)
	if err != nil {
		return nil, err
	}
	if h.total == 1 {
		return append([]byte(nil), data...), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.expireLocked(now)

	key := fmt.Sprintf("%s/%016x", sender, h.msgid)
	p, ok := a.pending[key]
	if !ok {
		if len(a.pending) >= a.maxPending {
			a.evictOldestLocked()
		}
		p = &partial{parts: make([][]byte, h.total), created: now}
		a.pending[key] = p
	}
	if len(p.parts) != h.total {
		delete(a.pending, key)
		return nil, errBadFragment
	}
	if p.parts[h.index] != nil {
		return nil, nil
	}
	p.size += len(data)
	if p.size > a.maxSize {
		delete(a.pending, key)
		return nil, fmt.Errorf("heartbeat: reassembled payload exceeds %d bytes", a.maxSize)
	}
	p.parts[h.index] = append([]byte(nil), data...)
	p.got++
	if p.got < h.total {
		return nil, nil
	}

	delete(a.pending, key)
	out := make([]byte, 0, p.size)
	for _, part := range p.parts {
		out = append(out, part...)
	}
	return out, nil
}

func (a *assembler) expireLocked(now time.Time) {
	for k, p := range a.pending {
		if now.Sub(p.created) > a.ttl {
			delete(a.pending, k)
		}
	}
}

func (a *assembler) evictOldestLocked() {
	var oldest string
	var at time.Time
	for k, p := range a.pending {
		if oldest == "" || p.created.Before(at) {
			oldest, at = k, p.created
		}
	}
	delete(a.pending, oldest)
}

func (a *assembler) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
