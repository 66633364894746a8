package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateSource is the daemon state read at scrape time.
type StateSource interface {
	LocalGen() uint64
	Peers() []string
	LivePeers() []string
	Subscribers() int
	CollectorDropped() uint64
	BlacklistSize() int
}

// Collector exposes daemon state gauges.
type Collector struct {
	src StateSource

	localGen    *prometheus.Desc
	peers       *prometheus.Desc
	livePeers   *prometheus.Desc
	subscribers *prometheus.Desc
	dropped     *prometheus.Desc
	blacklisted *prometheus.Desc
}

// NewCollector creates a collector reading src.
func NewCollector(src StateSource) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "state", name), help, nil, nil)
	}
	return &Collector{
		src:         src,
		localGen:    desc("local_generation", "Generation of the local dataset."),
		peers:       desc("peers", "Configured peer nodes."),
		livePeers:   desc("live_peers", "Peer nodes seen beating."),
		subscribers: desc("event_subscribers", "Open event subscriptions."),
		dropped:     desc("collector_dropped_total", "Collector queue items dropped on overflow."),
		blacklisted: desc("blacklist_entries", "Tracked listener sender addresses."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.localGen
	ch <- c.peers
	ch <- c.livePeers
	ch <- c.subscribers
	ch <- c.dropped
	ch <- c.blacklisted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.localGen, prometheus.GaugeValue, float64(c.src.LocalGen()))
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(len(c.src.Peers())))
	ch <- prometheus.MustNewConstMetric(c.livePeers, prometheus.GaugeValue, float64(len(c.src.LivePeers())))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(c.src.Subscribers()))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.src.CollectorDropped()))
	ch <- prometheus.MustNewConstMetric(c.blacklisted, prometheus.GaugeValue, float64(c.src.BlacklistSize()))
}
