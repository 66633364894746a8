package heartbeat

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Disk defaults.
const (
	DefaultSlotSize     = 1 << 20
	DefaultPollInterval = time.Second
)

// Slot header: magic(4) | length(4) | checksum(4).
const slotHeaderSize = 12

var (
	diskMetaMagic = [4]byte{'H', 'M', 'D', 'M'}
	diskSlotMagic = [4]byte{'H', 'M', 'D', 'S'}
)

// ErrSlotOverflow is returned by Send when a payload does not fit a slot.
var ErrSlotOverflow = errors.New("heartbeat: payload exceeds disk slot")

// DiskConfig configures the disk backend.
type DiskConfig struct {
	// Path is a file or block device shared by every node.
	Path string

	Nodename string

	// Nodes is the ordered cluster node list. Nodes[i] owns slot i+1.
	Nodes []string

	SlotSize     int
	PollInterval time.Duration

	// Sync fsyncs after each write.
	Sync bool

	Logger *slog.Logger
}

// Disk exchanges full datasets through per-node slots of a shared
// device. Slot 0 holds the layout metadata.
type Disk struct {
	cfg    DiskConfig
	index  int
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File

	seen      map[int]uint32
	recv      chan Packet
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDisk creates a disk backend.
func NewDisk(cfg DiskConfig) (*Disk, error) {
	if cfg.Path == "" {
		return nil, errors.New("heartbeat: disk: path is required")
	}
	index := slices.Index(cfg.Nodes, cfg.Nodename)
	if index < 0 {
		return nil, fmt.Errorf("heartbeat: disk: %s is not in the node list", cfg.Nodename)
	}
	if cfg.SlotSize <= 0 {
		cfg.SlotSize = DefaultSlotSize
	}
	if cfg.SlotSize <= slotHeaderSize {
		return nil, fmt.Errorf("heartbeat: disk: slot size %d too small", cfg.SlotSize)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Disk{
		cfg:    cfg,
		index:  index,
		logger: cfg.Logger.With("backend", "disk", "dev", cfg.Path),
		seen:   make(map[int]uint32),
		recv:   make(chan Packet, len(cfg.Nodes)),
		done:   make(chan struct{}),
	}, nil
}

func (d *Disk) Type() string { return "disk" }
func (d *Disk) Mode() TxMode { return TxFull }

func (d *Disk) slotOffset(i int) int64 {
	return int64(i+1) * int64(d.cfg.SlotSize)
}

// Open opens the device and checks or writes the layout metadata.
func (d *Disk) Open(ctx context.Context) error {
	f, err := os.OpenFile(d.cfg.Path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("disk: open: %w", err)
	}
	if err := d.checkMeta(f); err != nil {
		f.Close()
		return err
	}
	d.mu.Lock()
	d.file = f
	d.mu.Unlock()

	d.wg.Add(1)
	go d.pollLoop()
	d.logger.Info("disk started", "slot", d.index+1, "slot_size", d.cfg.SlotSize)
	return nil
}

func (d *Disk) checkMeta(f *os.File) error {
	meta := make([]byte, 12)
	_, err := f.ReadAt(meta, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("disk: read metadata: %w", err)
	}
	if [4]byte(meta[:4]) == diskMetaMagic {
		size := int(binary.BigEndian.Uint32(meta[4:]))
		if size != d.cfg.SlotSize {
			return fmt.Errorf("disk: device slot size %d, configured %d", size, d.cfg.SlotSize)
		}
		return nil
	}
	for _, b := range meta {
		if b != 0 {
			return errors.New("disk: device holds foreign data")
		}
	}
	copy(meta, diskMetaMagic[:])
	binary.BigEndian.PutUint32(meta[4:], uint32(d.cfg.SlotSize))
	binary.BigEndian.PutUint32(meta[8:], uint32(len(d.cfg.Nodes)))
	if _, err := f.WriteAt(meta, 0); err != nil {
		return fmt.Errorf("disk: write metadata: %w", err)
	}
	return nil
}

// Send writes payload into the local slot.
func (d *Disk) Send(ctx context.Context, _ string, payload []byte) error {
	if len(payload)+slotHeaderSize > d.cfg.SlotSize {
		return fmt.Errorf("%w: %d bytes", ErrSlotOverflow, len(payload))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrClosed
	}
	buf := make([]byte, slotHeaderSize+len(payload))
	copy(buf, diskSlotMagic[:])
	binary.BigEndian.PutUint32(buf[4:], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[8:], murmur3.Sum32(payload))
	copy(buf[slotHeaderSize:], payload)
	if _, err := d.file.WriteAt(buf, d.slotOffset(d.index)); err != nil {
		return fmt.Errorf("disk: write slot: %w", err)
	}
	if d.cfg.Sync {
		if err := d.file.Sync(); err != nil {
			return fmt.Errorf("disk: sync: %w", err)
		}
	}
	return nil
}

func (d *Disk) pollLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		d.poll()
		select {
		case <-d.done:
			return
		case <-ticker.C:
		}
	}
}

func (d *Disk) poll() {
	for i := range d.cfg.Nodes {
		if i == d.index {
			continue
		}
		payload, sum, err := d.readSlot(i)
		if err != nil {
			d.logger.Debug("read slot", "slot", i+1, "peer", d.cfg.Nodes[i], "error", err)
			continue
		}
		if payload == nil || d.seen[i] == sum {
			continue
		}
		select {
		case d.recv <- Packet{Payload: payload}:
			d.seen[i] = sum
		case <-d.done:
			return
		}
	}
}

// readSlot returns the payload of slot i, nil when the slot was never
// written.
func (d *Disk) readSlot(i int) ([]byte, uint32, error) {
	d.mu.Lock()
	f := d.file
	d.mu.Unlock()
	if f == nil {
		return nil, 0, ErrClosed
	}
	hdr := make([]byte, slotHeaderSize)
	if _, err := f.ReadAt(hdr, d.slotOffset(i)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if [4]byte(hdr[:4]) != diskSlotMagic {
		return nil, 0, nil
	}
	n := int(binary.BigEndian.Uint32(hdr[4:]))
	sum := binary.BigEndian.Uint32(hdr[8:])
	if n+slotHeaderSize > d.cfg.SlotSize {
		return nil, 0, fmt.Errorf("slot length %d out of range", n)
	}
	payload := make([]byte, n)
	if _, err := f.ReadAt(payload, d.slotOffset(i)+slotHeaderSize); err != nil {
		return nil, 0, err
	}
	if murmur3.Sum32(payload) != sum {
		return nil, 0, errors.New("slot checksum mismatch")
	}
	return payload, sum, nil
}

func (d *Disk) Recv(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-d.done:
		return Packet{}, ErrClosed
	case p := <-d.recv:
		return p, nil
	}
}

// Close stops polling and closes the device.
func (d *Disk) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		d.mu.Lock()
		f := d.file
		d.file = nil
		d.mu.Unlock()
		if f != nil {
			err = f.Close()
		}
	})
	return err
}
