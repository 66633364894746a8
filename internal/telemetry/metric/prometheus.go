package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hamesh"

// Registry holds all daemon metrics.
type Registry struct {
	reg *prometheus.Registry

	// Heartbeat metrics
	HeartbeatTx     *prometheus.CounterVec
	HeartbeatRx     *prometheus.CounterVec
	HeartbeatErrors *prometheus.CounterVec
	HeartbeatBytes  *prometheus.CounterVec
	PeerBeating     *prometheus.GaugeVec
	DatasetApplied  *prometheus.CounterVec

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	BlacklistRejects prometheus.Counter

	// Monitor metrics
	MonitorTicks   prometheus.Counter
	MonitorActions *prometheus.CounterVec

	// Lock metrics
	LockWait *prometheus.HistogramVec
}

// NewRegistry creates the daemon metrics on a dedicated registry,
// along with the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HeartbeatTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heartbeat", Name: "tx_total",
			Help: "Heartbeat payloads sent.",
		}, []string{"hb"}),
		HeartbeatRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heartbeat", Name: "rx_total",
			Help: "Heartbeat payloads received.",
		}, []string{"hb"}),
		HeartbeatErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heartbeat", Name: "errors_total",
			Help: "Heartbeat transport and decode errors.",
		}, []string{"hb", "op"}),
		HeartbeatBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "heartbeat", Name: "bytes_total",
			Help: "Heartbeat payload bytes on the wire.",
		}, []string{"hb", "dir"}),
		PeerBeating: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "heartbeat", Name: "peer_beating",
			Help: "1 when the peer is beating on the heartbeat.",
		}, []string{"hb", "peer"}),
		DatasetApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dataset", Name: "applied_total",
			Help: "Peer dataset messages by merge result.",
		}, []string{"result"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listener", Name: "requests_total",
			Help: "Listener requests by handler and HTTP status.",
		}, []string{"handler", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "listener", Name: "request_duration_seconds",
			Help:    "Listener request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"handler"}),
		BlacklistRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "listener", Name: "blacklist_rejects_total",
			Help: "Requests rejected because the sender is blacklisted.",
		}),
		MonitorTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "ticks_total",
			Help: "Monitor evaluations.",
		}),
		MonitorActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "monitor", Name: "actions_total",
			Help: "Monitor actions by kind and result.",
		}, []string{"action", "result"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "lock", Name: "acquire_seconds",
			Help:    "Time spent acquiring cluster locks.",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"result"}),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HeartbeatTx, r.HeartbeatRx, r.HeartbeatErrors, r.HeartbeatBytes, r.PeerBeating,
		r.DatasetApplied,
		r.RequestsTotal, r.RequestDuration, r.BlacklistRejects,
		r.MonitorTicks, r.MonitorActions,
		r.LockWait,
	)
	return r
}

// Register adds extra collectors to the registry.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	if r == nil {
		return nil
	}
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Gatherer returns the underlying gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns the HTTP handler of the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// HeartbeatSent counts one sent payload of n bytes.
func (r *Registry) HeartbeatSent(hb string, n int) {
	if r == nil {
		return
	}
	r.HeartbeatTx.WithLabelValues(hb).Inc()
	r.HeartbeatBytes.WithLabelValues(hb, "tx").Add(float64(n))
}

// HeartbeatReceived counts one received payload of n bytes.
func (r *Registry) HeartbeatReceived(hb string, n int) {
	if r == nil {
		return
	}
	r.HeartbeatRx.WithLabelValues(hb).Inc()
	r.HeartbeatBytes.WithLabelValues(hb, "rx").Add(float64(n))
}

// HeartbeatError counts one heartbeat error of operation op.
func (r *Registry) HeartbeatError(hb, op string) {
	if r == nil {
		return
	}
	r.HeartbeatErrors.WithLabelValues(hb, op).Inc()
}

// SetBeating records the beating status of peer on hb.
func (r *Registry) SetBeating(hb, peer string, beating bool) {
	if r == nil {
		return
	}
	v := 0.0
	if beating {
		v = 1
	}
	r.PeerBeating.WithLabelValues(hb, peer).Set(v)
}

// Applied counts one merged peer message by result.
func (r *Registry) Applied(result string) {
	if r == nil {
		return
	}
	r.DatasetApplied.WithLabelValues(result).Inc()
}

// Request records one served request.
func (r *Registry) Request(handler string, code int, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(handler, statusLabel(code)).Inc()
	r.RequestDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// Rejected counts one blacklisted request.
func (r *Registry) Rejected() {
	if r == nil {
		return
	}
	r.BlacklistRejects.Inc()
}

// Tick counts one monitor evaluation.
func (r *Registry) Tick() {
	if r == nil {
		return
	}
	r.MonitorTicks.Inc()
}

// Action counts one monitor action by result.
func (r *Registry) Action(action, result string) {
	if r == nil {
		return
	}
	r.MonitorActions.WithLabelValues(action, result).Inc()
}

// LockAcquire records the time spent in one lock acquisition.
func (r *Registry) LockAcquire(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.LockWait.WithLabelValues(result).Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
