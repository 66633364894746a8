package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// Multicast defaults.
const (
	DefaultMulticastGroup = "224.3.29.71"
	DefaultMulticastPort  = 10000
	DefaultDatagramSize   = 1400
)

// MulticastConfig configures the multicast backend.
type MulticastConfig struct {
	Group string
	Port  int

	// Interface names the network interface to join the group on. Empty
	// lets the kernel choose.
	Interface string

	TTL          int
	DatagramSize int

	Logger *slog.Logger
}

// Multicast sends datasets to a UDP multicast group. Every node of the
// cluster listens on the same group, the local node included; its own
// datasets are discarded by the merge.
type Multicast struct {
	cfg    MulticastConfig
	group  *net.UDPAddr
	logger *slog.Logger

	mu   sync.Mutex
	conn net.PacketConn
	pc   *ipv4.PacketConn
	ifi  *net.Interface

	seq       atomic.Uint64
	asm       *assembler
	recv      chan Packet
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMulticast creates a multicast backend.
func NewMulticast(cfg MulticastConfig) (*Multicast, error) {
	if cfg.Group == "" {
		cfg.Group = DefaultMulticastGroup
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultMulticastPort
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 1
	}
	if cfg.DatagramSize <= 0 {
		cfg.DatagramSize = DefaultDatagramSize
	}
	if cfg.DatagramSize <= fragmentHeaderSize || cfg.DatagramSize > 65507 {
		return nil, fmt.Errorf("heartbeat: multicast: datagram size %d out of range", cfg.DatagramSize)
	}
	ip := net.ParseIP(cfg.Group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("heartbeat: multicast: %q is not an ipv4 multicast group", cfg.Group)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Multicast{
		cfg:    cfg,
		group:  &net.UDPAddr{IP: ip, Port: cfg.Port},
		logger: cfg.Logger.With("backend", "multicast"),
		asm:    newAssembler(64, MaxPayloadSize, 10*time.Second),
		recv:   make(chan Packet, 64),
		done:   make(chan struct{}),
	}, nil
}

func (m *Multicast) Type() string { return "multicast" }
func (m *Multicast) Mode() TxMode { return TxBroadcast }

// Open binds the group port and joins the group.
func (m *Multicast) Open(ctx context.Context) error {
	var ifi *net.Interface
	if m.cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(m.cfg.Interface); err != nil {
			return fmt.Errorf("multicast: interface: %w", err)
		}
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(m.cfg.Port)))
	if err != nil {
		return fmt.Errorf("multicast: listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, m.group); err != nil {
		conn.Close()
		return fmt.Errorf("multicast: join %s: %w", m.group, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return fmt.Errorf("multicast: set interface: %w", err)
		}
	}
	if err := pc.SetMulticastTTL(m.cfg.TTL); err != nil {
		conn.Close()
		return fmt.Errorf("multicast: set ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		m.logger.Debug("enable loopback", "error", err)
	}

	m.mu.Lock()
	m.conn, m.pc, m.ifi = conn, pc, ifi
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(conn)
	m.logger.Info("multicast started", "group", m.group.String())
	return nil
}

func (m *Multicast) readLoop(conn net.PacketConn) {
	defer m.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.logger.Debug("read datagram", "error", err)
			continue
		}
		sender := from.String()
		if udp, ok := from.(*net.UDPAddr); ok {
			sender = udp.IP.String()
		}
		payload, err := m.asm.add(from.String(), buf[:n])
		if err != nil {
			m.logger.Debug("drop datagram", "from", sender, "error", err)
			continue
		}
		if payload == nil {
			continue
		}
		select {
		case m.recv <- Packet{Payload: payload, Addr: sender}:
		case <-m.done:
			return
		default:
			m.logger.Debug("receive queue full, payload dropped", "from", sender)
		}
	}
}

// Send fragments payload and writes every datagram to the group.
func (m *Multicast) Send(ctx context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return ErrClosed
	}
	datagrams, err := fragment(payload, m.cfg.DatagramSize, m.seq.Add(1))
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if _, err := pc.WriteTo(d, nil, m.group); err != nil {
			return fmt.Errorf("multicast: write: %w", err)
		}
	}
	return nil
}

func (m *Multicast) Recv(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-m.done:
		return Packet{}, ErrClosed
	case p := <-m.recv:
		return p, nil
	}
}

// Close leaves the group and closes the socket.
func (m *Multicast) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		conn, pc, ifi := m.conn, m.pc, m.ifi
		m.conn, m.pc = nil, nil
		m.mu.Unlock()
		if conn == nil {
			return
		}
		_ = pc.LeaveGroup(ifi, m.group)
		err = conn.Close()
		m.wg.Wait()
	})
	return err
}
