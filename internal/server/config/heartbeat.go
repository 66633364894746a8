package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/yndnr/hamesh-go/internal/heartbeat"
)

// HeartbeatSpecs returns the heartbeat sections with defaults applied.
func (c *ServerConfig) HeartbeatSpecs() []HeartbeatSection {
	out := make([]HeartbeatSection, 0, len(c.Heartbeats))
	for i, hb := range c.Heartbeats {
		out = append(out, defaultHeartbeat(hb, i))
	}
	return out
}

// NewBackend builds the backend of one heartbeat section. client is
// used by the relay backend.
func (c *ServerConfig) NewBackend(hb HeartbeatSection, client *http.Client, logger *slog.Logger) (heartbeat.Backend, error) {
	self := c.Node.Name
	switch hb.Type {
	case HeartbeatUnicast:
		peers := make(map[string]string)
		for _, n := range c.Cluster.Nodes {
			if n.Name == self {
				continue
			}
			host, _, err := net.SplitHostPort(n.Addr)
			if err != nil {
				return nil, fmt.Errorf("%s: node %s: %w", hb.ID, n.Name, err)
			}
			peers[n.Name] = net.JoinHostPort(host, strconv.Itoa(hb.Port))
		}
		return heartbeat.NewUnicast(heartbeat.UnicastConfig{
			Nodename:  self,
			BindAddr:  hb.Addr,
			BindPort:  hb.Port,
			Peers:     peers,
			ClusterID: c.Cluster.ID,
			Secret:    c.Cluster.Secret,
			Profile:   hb.Profile,
			Logger:    logger,
		})
	case HeartbeatMulticast:
		return heartbeat.NewMulticast(heartbeat.MulticastConfig{
			Group:     hb.Group,
			Port:      hb.Port,
			Interface: hb.Interface,
			TTL:       hb.TTL,
			Logger:    logger,
		})
	case HeartbeatDisk:
		return heartbeat.NewDisk(heartbeat.DiskConfig{
			Path:         hb.Dev,
			Nodename:     self,
			Nodes:        c.NodeNames(),
			SlotSize:     hb.SlotSize,
			PollInterval: hb.PollInterval,
			Sync:         hb.Sync,
			Logger:       logger,
		})
	case HeartbeatRelay:
		var peers []string
		for _, n := range c.NodeNames() {
			if n != self {
				peers = append(peers, n)
			}
		}
		return heartbeat.NewRelay(heartbeat.RelayConfig{
			URL:          hb.Relay,
			Username:     hb.Username,
			Password:     hb.Password,
			ClusterID:    c.Cluster.ID,
			Nodename:     self,
			Peers:        peers,
			PollInterval: hb.PollInterval,
			Timeout:      hb.Timeout,
			Client:       client,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("%s: unknown heartbeat type %q", hb.ID, hb.Type)
	}
}
