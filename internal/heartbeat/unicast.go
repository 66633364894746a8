package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

// Memberlist timing profiles.
const (
	ProfileLAN   = "lan"
	ProfileWAN   = "wan"
	ProfileLocal = "local"
)

// UnicastConfig configures the unicast backend.
type UnicastConfig struct {
	Nodename string

	// BindAddr and BindPort are the gossip listener. Port 0 picks a free
	// port, see Addr.
	BindAddr string
	BindPort int

	// Peers maps peer nodenames to their gossip address (host:port).
	Peers map[string]string

	// ClusterID and Secret derive the memberlist keyring.
	ClusterID string
	Secret    string

	// Profile selects the memberlist timing profile, lan by default.
	Profile string

	Logger *slog.Logger
}

// Unicast exchanges datasets over memberlist reliable messages. The
// push/pull of memberlist also carries the local full dataset, so a
// node joining gets everyone's branch without waiting a tx period.
type Unicast struct {
	cfg    UnicastConfig
	logger *slog.Logger

	mu         sync.Mutex
	ml         *memberlist.Memberlist
	localState func() []byte

	recv      chan Packet
	done      chan struct{}
	closeOnce sync.Once
}

// NewUnicast creates a unicast backend. The listener opens in Open.
func NewUnicast(cfg UnicastConfig) (*Unicast, error) {
	if cfg.Nodename == "" {
		return nil, errors.New("heartbeat: unicast: nodename is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("heartbeat: unicast: secret is required")
	}
	switch cfg.Profile {
	case "":
		cfg.Profile = ProfileLAN
	case ProfileLAN, ProfileWAN, ProfileLocal:
	default:
		return nil, fmt.Errorf("heartbeat: unicast: unknown profile %q", cfg.Profile)
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Unicast{
		cfg:    cfg,
		logger: cfg.Logger.With("backend", "unicast"),
		recv:   make(chan Packet, 64),
		done:   make(chan struct{}),
	}, nil
}

func (u *Unicast) Type() string { return "unicast" }
func (u *Unicast) Mode() TxMode { return TxPerPeer }

// SetLocalState implements StateSharer.
func (u *Unicast) SetLocalState(fn func() []byte) {
	u.mu.Lock()
	u.localState = fn
	u.mu.Unlock()
}

func (u *Unicast) localPayload() []byte {
	u.mu.Lock()
	fn := u.localState
	u.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (u *Unicast) memberlistConfig() (*memberlist.Config, error) {
	var mlc *memberlist.Config
	switch u.cfg.Profile {
	case ProfileWAN:
		mlc = memberlist.DefaultWANConfig()
	case ProfileLocal:
		mlc = memberlist.DefaultLocalConfig()
	default:
		mlc = memberlist.DefaultLANConfig()
	}
	mlc.Name = u.cfg.Nodename
	mlc.BindAddr = u.cfg.BindAddr
	mlc.BindPort = u.cfg.BindPort
	mlc.AdvertisePort = u.cfg.BindPort

	key, err := adaptive.DeriveKey([]byte(u.cfg.Secret), u.cfg.ClusterID, "hamesh memberlist")
	if err != nil {
		return nil, err
	}
	mlc.SecretKey = key
	mlc.GossipVerifyIncoming = true
	mlc.GossipVerifyOutgoing = true

	mlc.LogOutput = &slogWriter{logger: u.logger}
	mlc.Delegate = &unicastDelegate{u: u}
	mlc.Events = &unicastEvents{logger: u.logger}
	return mlc, nil
}

// Open creates the memberlist and joins the known peers. Unreachable
// peers are joined lazily on the first send.
func (u *Unicast) Open(ctx context.Context) error {
	mlc, err := u.memberlistConfig()
	if err != nil {
		return fmt.Errorf("unicast: %w", err)
	}
	ml, err := memberlist.Create(mlc)
	if err != nil {
		return fmt.Errorf("create memberlist: %w", err)
	}
	u.mu.Lock()
	u.ml = ml
	u.mu.Unlock()

	var seeds []string
	for name, addr := range u.cfg.Peers {
		if name != u.cfg.Nodename && addr != "" {
			seeds = append(seeds, addr)
		}
	}
	if len(seeds) == 0 {
		u.logger.Info("unicast started (no seeds)", "addr", u.Addr())
		return nil
	}
	n, err := ml.Join(seeds)
	if err != nil {
		u.logger.Warn("join peers", "seeds", seeds, "joined", n, "error", err)
	} else {
		u.logger.Info("joined cluster", "seeds", seeds, "joined", n)
	}
	return nil
}

// Addr returns the gossip address actually bound.
func (u *Unicast) Addr() string {
	u.mu.Lock()
	ml := u.ml
	u.mu.Unlock()
	if ml == nil {
		return ""
	}
	node := ml.LocalNode()
	return net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
}

func (u *Unicast) member(ml *memberlist.Memberlist, peer string) *memberlist.Node {
	for _, n := range ml.Members() {
		if n.Name == peer {
			return n
		}
	}
	return nil
}

// Send delivers payload to peer over the memberlist stream transport.
func (u *Unicast) Send(ctx context.Context, peer string, payload []byte) error {
	u.mu.Lock()
	ml := u.ml
	u.mu.Unlock()
	if ml == nil {
		return ErrClosed
	}
	node := u.member(ml, peer)
	if node == nil {
		addr, ok := u.cfg.Peers[peer]
		if !ok || addr == "" {
			return fmt.Errorf("unicast: no address for %s", peer)
		}
		if _, err := ml.Join([]string{addr}); err != nil {
			return fmt.Errorf("unicast: join %s: %w", peer, err)
		}
		if node = u.member(ml, peer); node == nil {
			return fmt.Errorf("unicast: %s joined under another name", addr)
		}
	}
	return ml.SendReliable(node, payload)
}

// Recv returns the next payload from a peer message or push/pull.
func (u *Unicast) Recv(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-u.done:
		return Packet{}, ErrClosed
	case p := <-u.recv:
		return p, nil
	}
}

func (u *Unicast) deliver(buf []byte) {
	if len(buf) == 0 {
		return
	}
	p := Packet{Payload: append([]byte(nil), buf...)}
	select {
	case u.recv <- p:
	case <-u.done:
	default:
		u.logger.Debug("receive queue full, payload dropped")
	}
}

// Close leaves the gossip pool and shuts the listener down.
func (u *Unicast) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		u.mu.Lock()
		ml := u.ml
		u.ml = nil
		u.mu.Unlock()
		if ml == nil {
			return
		}
		if lerr := ml.Leave(time.Second); lerr != nil {
			u.logger.Debug("leave", "error", lerr)
		}
		if serr := ml.Shutdown(); serr != nil {
			err = fmt.Errorf("shutdown memberlist: %w", serr)
		}
	})
	return err
}

// unicastDelegate implements memberlist.Delegate.
type unicastDelegate struct {
	u *Unicast
}

func (d *unicastDelegate) NodeMeta(limit int) []byte { return nil }

func (d *unicastDelegate) NotifyMsg(buf []byte) { d.u.deliver(buf) }

func (d *unicastDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *unicastDelegate) LocalState(join bool) []byte { return d.u.localPayload() }

func (d *unicastDelegate) MergeRemoteState(buf []byte, join bool) { d.u.deliver(buf) }

// unicastEvents logs gossip membership changes.
type unicastEvents struct {
	logger *slog.Logger
}

func (e *unicastEvents) NotifyJoin(node *memberlist.Node) {
	e.logger.Info("gossip peer joined", "peer", node.Name, "addr", node.Address())
}

func (e *unicastEvents) NotifyLeave(node *memberlist.Node) {
	e.logger.Info("gossip peer left", "peer", node.Name, "addr", node.Address())
}

func (e *unicastEvents) NotifyUpdate(node *memberlist.Node) {
	e.logger.Debug("gossip peer updated", "peer", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
