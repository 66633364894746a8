package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/telemetry/logger"
)

// Verify validates the configuration. It reports every problem found.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyCluster(cfg),
		verifyListener(&cfg.Listener),
		verifyHeartbeats(cfg),
		verifyMonitor(&cfg.Monitor),
		verifyStorage(&cfg.Storage),
		verifySecurity(&cfg.Security),
		verifyLog(&cfg.Log),
	)
}

func verifyCluster(cfg *ServerConfig) error {
	var errs []error
	if cfg.Node.Name == "" {
		errs = append(errs, errors.New("node.name is required"))
	} else if strings.ContainsAny(cfg.Node.Name, ",* /") {
		errs = append(errs, fmt.Errorf("node.name %q contains a reserved character", cfg.Node.Name))
	}

	seen := make(map[string]bool)
	for i, n := range cfg.Cluster.Nodes {
		switch {
		case n.Name == "":
			errs = append(errs, fmt.Errorf("cluster.nodes[%d].name is required", i))
		case seen[n.Name]:
			errs = append(errs, fmt.Errorf("cluster.nodes: duplicate node %q", n.Name))
		}
		seen[n.Name] = true
		if n.Name != cfg.Node.Name && n.Addr != "" {
			if _, _, err := net.SplitHostPort(n.Addr); err != nil {
				errs = append(errs, fmt.Errorf("cluster.nodes[%d].addr: %w", i, err))
			}
		}
	}
	if len(cfg.Cluster.Nodes) > 0 && !seen[cfg.Node.Name] {
		errs = append(errs, fmt.Errorf("cluster.nodes does not list the local node %q", cfg.Node.Name))
	}
	if len(cfg.Cluster.Nodes) > 1 {
		if cfg.Cluster.Secret == "" {
			errs = append(errs, errors.New("cluster.secret is required for a multi-node cluster"))
		}
		if cfg.Cluster.ID == "" {
			errs = append(errs, errors.New("cluster.id is required for a multi-node cluster"))
		}
	}
	if cfg.Cluster.PatchHistory < 0 {
		errs = append(errs, errors.New("cluster.patch_history must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyListener(cfg *ListenerSection) error {
	var errs []error
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("listener.port %d out of range", cfg.Port))
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		errs = append(errs, errors.New("listener.tls.cert_file and listener.tls.key_file must be set together"))
	}
	for _, f := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("listener.tls: %w", err))
		}
	}
	if cfg.Blacklist.Threshold < 1 {
		errs = append(errs, errors.New("listener.blacklist.threshold must be at least 1"))
	}
	if cfg.Blacklist.Window <= 0 || cfg.Blacklist.Ban <= 0 {
		errs = append(errs, errors.New("listener.blacklist.window and listener.blacklist.ban must be positive"))
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		errs = append(errs, errors.New("listener.rate_limit and listener.rate_burst must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyHeartbeats(cfg *ServerConfig) error {
	var errs []error
	specs := cfg.HeartbeatSpecs()
	if len(specs) > 0 && cfg.Cluster.Secret == "" {
		errs = append(errs, errors.New("heartbeats need cluster.secret"))
	}
	ids := make(map[string]bool)
	for _, hb := range specs {
		if ids[hb.ID] {
			errs = append(errs, fmt.Errorf("heartbeats: duplicate id %q", hb.ID))
		}
		ids[hb.ID] = true
		if hb.Timeout <= hb.Interval {
			errs = append(errs, fmt.Errorf("%s: timeout %s must exceed interval %s", hb.ID, hb.Timeout, hb.Interval))
		}
		switch hb.Type {
		case HeartbeatUnicast:
			for _, n := range cfg.Cluster.Nodes {
				if n.Name != cfg.Node.Name && n.Addr == "" {
					errs = append(errs, fmt.Errorf("%s: node %s has no addr", hb.ID, n.Name))
				}
			}
		case HeartbeatMulticast:
			if ip := net.ParseIP(hb.Group); ip == nil || !ip.IsMulticast() {
				errs = append(errs, fmt.Errorf("%s: %q is not a multicast group", hb.ID, hb.Group))
			}
		case HeartbeatDisk:
			if hb.Dev == "" {
				errs = append(errs, fmt.Errorf("%s: disk needs dev", hb.ID))
			}
		case HeartbeatRelay:
			if u, err := url.Parse(hb.Relay); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s: invalid relay url %q", hb.ID, hb.Relay))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown heartbeat type %q", hb.ID, hb.Type))
		}
	}
	return errors.Join(errs...)
}

func verifyMonitor(cfg *MonitorSection) error {
	if cfg.MaxParallel < 1 {
		return errors.New("monitor.max_parallel must be at least 1")
	}
	if cfg.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	var errs []error
	if cfg.DataDir == "" && !cfg.InMemory {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}
	if cfg.EtcDir == "" {
		errs = append(errs, errors.New("storage.etc_dir is required"))
	}
	return errors.Join(errs...)
}

func verifySecurity(cfg *SecuritySection) error {
	var errs []error
	seen := make(map[string]bool)
	for i, u := range cfg.Users {
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("security.users[%d].name is required", i))
			continue
		}
		if seen[u.Name] {
			errs = append(errs, fmt.Errorf("security.users: duplicate user %q", u.Name))
		}
		seen[u.Name] = true
		if u.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("security.users[%s].password_hash is required", u.Name))
		}
		if _, err := domain.ParseGrants(u.Grants); err != nil {
			errs = append(errs, fmt.Errorf("security.users[%s].grants: %w", u.Name, err))
		}
	}
	return errors.Join(errs...)
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(cfg.Format) {
	case "", logger.FormatJSON, logger.FormatText, "console":
		return nil
	}
	return fmt.Errorf("log.format: unknown format %q", cfg.Format)
}
