package config

import (
	"time"

	"github.com/yndnr/hamesh-go/internal/core/service"
)

// ServerConfig is the root configuration of hamesh-server.
type ServerConfig struct {
	Node       NodeSection        `koanf:"node"`
	Cluster    ClusterSection     `koanf:"cluster"`
	Listener   ListenerSection    `koanf:"listener"`
	Heartbeats []HeartbeatSection `koanf:"heartbeats"`
	Monitor    MonitorSection     `koanf:"monitor"`
	Storage    StorageSection     `koanf:"storage"`
	Security   SecuritySection    `koanf:"security"`
	Log        LogSection         `koanf:"log"`
	Metrics    MetricsSection     `koanf:"metrics"`
}

// NodeSection describes the local node.
type NodeSection struct {
	// Name defaults to the hostname.
	Name string `koanf:"name"`

	Labels map[string]string `koanf:"labels"`
}

// ClusterSection describes the cluster membership.
type ClusterSection struct {
	ID     string `koanf:"id"`
	Name   string `koanf:"name"`
	Secret string `koanf:"secret"`

	// Nodes is the ordered node list, the local node included.
	Nodes []NodeEntry `koanf:"nodes"`

	// SyncTimeout is the default wait of the sync handler and the peer
	// acknowledgement wait of lock claims.
	SyncTimeout time.Duration `koanf:"sync_timeout"`

	// PatchHistory bounds the generations kept for delta payloads.
	PatchHistory int `koanf:"patch_history"`
}

// NodeEntry is one cluster node.
type NodeEntry struct {
	Name string `koanf:"name"`

	// Addr is the listener host:port of the node, used to forward
	// multiplexed requests. Its host also serves unicast heartbeats.
	Addr string `koanf:"addr"`
}

// ListenerSection configures the request listeners.
type ListenerSection struct {
	Addr string `koanf:"addr"`
	Port int    `koanf:"port"`

	// Socket is the unix socket path. Its callers are root.
	Socket string `koanf:"socket"`

	TLS TLSSection `koanf:"tls"`

	Blacklist BlacklistSection `koanf:"blacklist"`

	// RateLimit is the per-address request rate, zero disables it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// ForwardTimeout bounds one multiplexed peer request.
	ForwardTimeout time.Duration `koanf:"forward_timeout"`
}

// TLSSection configures listener and client TLS.
type TLSSection struct {
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`

	// CAFile is trusted by the daemon clients: forwarding and relay.
	CAFile string `koanf:"ca_file"`

	InsecureSkipVerify bool `koanf:"insecure_skip_verify"`
}

// Enabled reports whether the TCP listener serves TLS.
func (t TLSSection) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// BlacklistSection configures the sender blacklist.
type BlacklistSection struct {
	Threshold int           `koanf:"threshold"`
	Window    time.Duration `koanf:"window"`
	Ban       time.Duration `koanf:"ban"`
}

// Heartbeat backend types.
const (
	HeartbeatUnicast   = "unicast"
	HeartbeatMulticast = "multicast"
	HeartbeatDisk      = "disk"
	HeartbeatRelay     = "relay"
)

// HeartbeatSection configures one heartbeat backend. Only the options of
// its type are read.
type HeartbeatSection struct {
	// ID names the thread, hb#<index> by default.
	ID   string `koanf:"id"`
	Type string `koanf:"type"`

	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`

	// unicast
	Port    int    `koanf:"port"`
	Addr    string `koanf:"addr"`
	Profile string `koanf:"profile"`

	// multicast
	Group     string `koanf:"group"`
	Interface string `koanf:"interface"`
	TTL       int    `koanf:"ttl"`

	// disk
	Dev      string `koanf:"dev"`
	SlotSize int    `koanf:"slot_size"`
	Sync     bool   `koanf:"sync"`

	// relay
	Relay    string `koanf:"relay"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// PollInterval paces disk and relay reads.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// MonitorSection configures the monitor loop.
type MonitorSection struct {
	Interval    time.Duration `koanf:"interval"`
	ReadyPeriod time.Duration `koanf:"ready_period"`
	LockTimeout time.Duration `koanf:"lock_timeout"`
	MaxParallel int           `koanf:"max_parallel"`

	// RejoinGrace delays orchestration after boot until every peer
	// was heard from. Negative disables it.
	RejoinGrace time.Duration `koanf:"rejoin_grace"`
}

// StorageSection configures on-disk data.
type StorageSection struct {
	// DataDir holds the key store.
	DataDir string `koanf:"data_dir"`

	// EtcDir holds the object configuration files.
	EtcDir string `koanf:"etc_dir"`

	// InMemory keeps the key store in memory.
	InMemory bool `koanf:"in_memory"`

	GCInterval time.Duration `koanf:"gc_interval"`

	CollectorQueueSize int `koanf:"collector_queue_size"`
}

// SecuritySection configures listener users.
type SecuritySection struct {
	Users []service.UserConfig `koanf:"users"`

	// CacheTTL bounds the verified credential cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	Output    string `koanf:"output"`
	AddSource bool   `koanf:"add_source"`
}

// MetricsSection configures the prometheus endpoint.
type MetricsSection struct {
	Enabled bool `koanf:"enabled"`

	// StatsInterval paces host statistics sampling.
	StatsInterval time.Duration `koanf:"stats_interval"`
}

// NodeNames returns the cluster node names in configuration order.
func (c *ServerConfig) NodeNames() []string {
	names := make([]string, 0, len(c.Cluster.Nodes))
	for _, n := range c.Cluster.Nodes {
		names = append(names, n.Name)
	}
	return names
}

// Peer returns the entry of a node.
func (c *ServerConfig) Peer(name string) (NodeEntry, bool) {
	for _, n := range c.Cluster.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeEntry{}, false
}
