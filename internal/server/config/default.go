package config

import (
	"os"
	"strconv"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/monitor"
	"github.com/yndnr/hamesh-go/internal/heartbeat"
)

// Default configuration values.
const (
	DefaultListenerAddr = "0.0.0.0"
	DefaultListenerPort = 1215
	DefaultSocket       = "/var/run/hamesh/lsnr.sock"

	DefaultBlacklistThreshold = 5
	DefaultBlacklistWindow    = time.Minute
	DefaultBlacklistBan       = 10 * time.Minute
	DefaultMaxBodyBytes       = 4 << 20
	DefaultForwardTimeout     = 10 * time.Second

	DefaultHeartbeatPort = 10001

	DefaultReadyPeriod = 5 * time.Second
	DefaultSyncTimeout = 10 * time.Second

	DefaultDataDir = "/var/lib/hamesh"
	DefaultEtcDir  = "/etc/hamesh"

	DefaultCacheTTL      = 5 * time.Minute
	DefaultStatsInterval = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration. The node name is the
// hostname.
func Default() *ServerConfig {
	name, _ := os.Hostname()
	return &ServerConfig{
		Node: NodeSection{Name: name},
		Cluster: ClusterSection{
			Name:        "default",
			SyncTimeout: DefaultSyncTimeout,
		},
		Listener: ListenerSection{
			Addr:   DefaultListenerAddr,
			Port:   DefaultListenerPort,
			Socket: DefaultSocket,
			Blacklist: BlacklistSection{
				Threshold: DefaultBlacklistThreshold,
				Window:    DefaultBlacklistWindow,
				Ban:       DefaultBlacklistBan,
			},
			MaxBodyBytes:   DefaultMaxBodyBytes,
			ForwardTimeout: DefaultForwardTimeout,
		},
		Monitor: MonitorSection{
			Interval:    monitor.DefaultInterval,
			ReadyPeriod: DefaultReadyPeriod,
			LockTimeout: monitor.DefaultLockTimeout,
			MaxParallel: monitor.DefaultMaxParallel,
			RejoinGrace: monitor.DefaultRejoinGrace,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			EtcDir:  DefaultEtcDir,
		},
		Security: SecuritySection{
			CacheTTL: DefaultCacheTTL,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Enabled:       true,
			StatsInterval: DefaultStatsInterval,
		},
	}
}

// defaultHeartbeat fills the unset options of one heartbeat section.
func defaultHeartbeat(hb HeartbeatSection, index int) HeartbeatSection {
	if hb.ID == "" {
		hb.ID = "hb#" + strconv.Itoa(index+1)
	}
	if hb.Interval <= 0 {
		hb.Interval = heartbeat.DefaultInterval
	}
	if hb.Timeout <= 0 {
		hb.Timeout = heartbeat.DefaultTimeout
	}
	switch hb.Type {
	case HeartbeatUnicast:
		if hb.Port == 0 {
			hb.Port = DefaultHeartbeatPort + index
		}
	case HeartbeatMulticast:
		if hb.Group == "" {
			hb.Group = heartbeat.DefaultMulticastGroup
		}
		if hb.Port == 0 {
			hb.Port = heartbeat.DefaultMulticastPort
		}
	case HeartbeatDisk:
		if hb.SlotSize == 0 {
			hb.SlotSize = heartbeat.DefaultSlotSize
		}
	}
	return hb
}
