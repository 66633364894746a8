package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/lock"
	"github.com/yndnr/hamesh-go/internal/core/monitor"
	"github.com/yndnr/hamesh-go/internal/core/service"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/heartbeat"
	"github.com/yndnr/hamesh-go/internal/infra/tlsroots"
	"github.com/yndnr/hamesh-go/internal/server/config"
	"github.com/yndnr/hamesh-go/internal/server/localserver"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver/handler"
	"github.com/yndnr/hamesh-go/internal/storage"
	"github.com/yndnr/hamesh-go/internal/storage/objconf"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
	"github.com/yndnr/hamesh-go/internal/telemetry/nodestats"
	"github.com/yndnr/hamesh-go/pkg/crypto/adaptive"
)

const (
	// PruneInterval paces blacklist, rate limiter and relay cleanup.
	PruneInterval = time.Minute

	// RelayTTL expires relay slots no sender has written to.
	RelayTTL = 15 * time.Minute
)

// Daemon is one hamesh-server instance.
type Daemon struct {
	cfg    *config.ServerConfig
	logger *slog.Logger

	state   *state.DaemonState
	storage *storage.Engine
	keys    *service.KeyService
	auth    *service.AuthService
	locks   *lock.Manager
	monitor *monitor.Monitor
	objects *objconf.Store
	stats   *nodestats.Sampler
	metrics *metric.Registry
	codec   *heartbeat.Codec
	threads []*heartbeat.Thread

	router http.Handler
	server *rpcserver.Server
	local  *localserver.Server
	certs  *tlsroots.CertReloader

	mu       sync.Mutex
	addr     net.Addr
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New builds a daemon from a verified configuration. Nothing runs
// until Start.
func New(cfg *config.ServerConfig, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		cfg:    cfg,
		logger: logger.With("component", "daemon"),
	}
	if cfg.Metrics.Enabled {
		d.metrics = metric.NewRegistry()
	}

	st, err := state.New(state.Config{
		Nodename:     cfg.Node.Name,
		ClusterID:    cfg.Cluster.ID,
		ClusterName:  cfg.Cluster.Name,
		Nodes:        cfg.NodeNames(),
		PatchHistory: cfg.Cluster.PatchHistory,
		Blacklist: state.BlacklistConfig{
			Threshold: cfg.Listener.Blacklist.Threshold,
			Window:    cfg.Listener.Blacklist.Window,
			Ban:       cfg.Listener.Blacklist.Ban,
		},
		CollectorQueueSize: cfg.Storage.CollectorQueueSize,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init state: %w", err)
	}
	d.state = st

	if err := d.initStorage(); err != nil {
		return nil, err
	}
	if err := d.initServices(); err != nil {
		d.storage.Close()
		return nil, err
	}
	if err := d.initHeartbeats(); err != nil {
		d.storage.Close()
		return nil, err
	}
	if err := d.initListeners(); err != nil {
		d.storage.Close()
		return nil, err
	}
	if err := d.metrics.Register(metric.NewCollector(st)); err != nil {
		d.storage.Close()
		return nil, fmt.Errorf("register state metrics: %w", err)
	}
	return d, nil
}

func (d *Daemon) initStorage() error {
	kv := storage.DefaultKVConfig(filepath.Join(d.cfg.Storage.DataDir, "keys"))
	kv.InMemory = d.cfg.Storage.InMemory
	if d.cfg.Storage.GCInterval > 0 {
		kv.Badger.GCInterval = d.cfg.Storage.GCInterval
	}
	var secretKey []byte
	if d.cfg.Cluster.Secret != "" {
		k, err := adaptive.DeriveKey([]byte(d.cfg.Cluster.Secret), d.cfg.Cluster.ID, "keystore")
		if err != nil {
			return fmt.Errorf("derive key store key: %w", err)
		}
		secretKey = k
	}
	engine, err := storage.New(storage.Config{KV: kv, SecretKey: secretKey, Logger: d.logger})
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	d.storage = engine
	if b, ok := engine.KV().(*storage.BadgerEngine); ok {
		if err := d.metrics.Register(b.Collector()); err != nil {
			return fmt.Errorf("register storage metrics: %w", err)
		}
	}
	return nil
}

func (d *Daemon) initServices() error {
	cfg := d.cfg
	d.keys = service.NewKeyService(d.storage, d.state, d.logger)

	auth, err := service.NewAuthService(service.AuthServiceConfig{
		ClusterSecret: cfg.Cluster.Secret,
		Members:       d.state,
		Users:         cfg.Security.Users,
		CacheTTL:      cfg.Security.CacheTTL,
		RateLimit:     cfg.Listener.RateLimit,
		RateBurst:     cfg.Listener.RateBurst,
		Violations:    d.state.Blacklist(),
		Logger:        d.logger,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	d.auth = auth

	d.locks = lock.NewManager(lock.Config{
		State:   d.state,
		Logger:  d.logger,
		Metrics: d.metrics,
	})

	d.objects = objconf.NewStore(cfg.Storage.EtcDir, d.logger)
	mon, err := monitor.New(monitor.Config{
		State:       d.state,
		Objects:     d.objects,
		Drivers:     monitor.NewRegistry(),
		Locks:       d.locks,
		Interval:    cfg.Monitor.Interval,
		ReadyPeriod: cfg.Monitor.ReadyPeriod,
		LockTimeout: cfg.Monitor.LockTimeout,
		MaxParallel: cfg.Monitor.MaxParallel,
		RejoinGrace: cfg.Monitor.RejoinGrace,
		Logger:      d.logger,
		Metrics:     d.metrics,
	})
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}
	d.monitor = mon

	d.stats = nodestats.New(nodestats.Config{
		State:    d.state,
		Interval: cfg.Metrics.StatsInterval,
		Logger:   d.logger,
	})
	return nil
}

func (d *Daemon) initHeartbeats() error {
	specs := d.cfg.HeartbeatSpecs()
	if len(specs) == 0 {
		return nil
	}
	codec, err := heartbeat.NewCodec(d.cfg.Cluster.ID, d.cfg.Cluster.Secret)
	if err != nil {
		return fmt.Errorf("init heartbeat codec: %w", err)
	}
	d.codec = codec

	client, err := d.httpClient(0)
	if err != nil {
		return err
	}
	for _, hb := range specs {
		backend, err := d.cfg.NewBackend(hb, client, d.logger)
		if err != nil {
			return fmt.Errorf("init heartbeat: %w", err)
		}
		t, err := heartbeat.NewThread(heartbeat.ThreadConfig{
			ID:       hb.ID,
			Backend:  backend,
			State:    d.state,
			Codec:    codec,
			Interval: hb.Interval,
			Timeout:  hb.Timeout,
			Metrics:  d.metrics,
			Logger:   d.logger,
		})
		if err != nil {
			return fmt.Errorf("init heartbeat %s: %w", hb.ID, err)
		}
		d.threads = append(d.threads, t)
	}
	return nil
}

func (d *Daemon) httpClient(timeout time.Duration) (*http.Client, error) {
	tc := d.cfg.Listener.TLS
	client, err := tlsroots.HTTPClient(tc.CAFile, tc.InsecureSkipVerify, timeout)
	if err != nil {
		return nil, fmt.Errorf("init http client: %w", err)
	}
	return client, nil
}

func (d *Daemon) initListeners() error {
	cfg := d.cfg
	client, err := d.httpClient(cfg.Listener.ForwardTimeout)
	if err != nil {
		return err
	}
	scheme := "http"
	if cfg.Listener.TLS.Enabled() {
		scheme = "https"
	}
	peers := make(map[string]string)
	for _, n := range cfg.Cluster.Nodes {
		if n.Name != cfg.Node.Name && n.Addr != "" {
			peers[n.Name] = scheme + "://" + n.Addr
		}
	}
	forwarder := rpcserver.NewForwarder(rpcserver.ForwarderConfig{
		Nodename: cfg.Node.Name,
		Secret:   cfg.Cluster.Secret,
		Peers:    peers,
		Client:   client,
		Timeout:  cfg.Listener.ForwardTimeout,
		Logger:   d.logger,
	})

	handlers := handler.All(handler.Deps{
		State:       d.state,
		Keys:        d.keys,
		Locks:       d.locks,
		Monitor:     d.monitor,
		Stats:       d.stats,
		SyncTimeout: cfg.Cluster.SyncTimeout,
		Logger:      d.logger,
	})
	dispatcher, err := rpcserver.NewDispatcher(rpcserver.DispatcherConfig{
		Handlers:     handlers,
		State:        d.state,
		Auth:         d.auth,
		Forwarder:    forwarder,
		MaxBodyBytes: cfg.Listener.MaxBodyBytes,
		Metrics:      d.metrics,
		Logger:       d.logger,
	})
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}
	d.router = rpcserver.NewRouter(rpcserver.RouterConfig{
		Dispatcher: dispatcher,
		Metrics:    d.metrics,
		Logger:     d.logger,
	})

	sc := rpcserver.ServerConfig{
		Addr:    net.JoinHostPort(cfg.Listener.Addr, strconv.Itoa(cfg.Listener.Port)),
		Handler: d.router,
	}
	if cfg.Listener.TLS.Enabled() {
		certs, err := tlsroots.NewCertReloader(cfg.Listener.TLS.CertFile, cfg.Listener.TLS.KeyFile, d.logger)
		if err != nil {
			return fmt.Errorf("init listener tls: %w", err)
		}
		d.certs = certs
		sc.TLSConfig = certs.ServerConfig()
	}
	d.server = rpcserver.NewServer(sc)
	if cfg.Listener.Socket != "" {
		d.local = localserver.New(cfg.Listener.Socket, d.router, d.logger)
	}
	return nil
}

// State returns the shared daemon state.
func (d *Daemon) State() *state.DaemonState {
	return d.state
}

// Handler returns the listener HTTP handler.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// Addr returns the TCP listener address once started.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Start loads the persisted data, opens the listeners and starts every
// loop. Listener errors are returned; the loops run until Shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.keys.Load(ctx); err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	if _, err := d.objects.Load(); err != nil {
		return fmt.Errorf("load object configurations: %w", err)
	}
	if len(d.cfg.Node.Labels) > 0 {
		labels := d.cfg.Node.Labels
		if _, err := d.state.Update(state.SubLabels, func(nd *state.NodeData) {
			for k, v := range labels {
				nd.Labels[k] = v
			}
		}); err != nil {
			return fmt.Errorf("publish labels: %w", err)
		}
	}

	l, err := net.Listen("tcp", net.JoinHostPort(d.cfg.Listener.Addr, strconv.Itoa(d.cfg.Listener.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if d.local != nil {
		if err := d.local.Listen(); err != nil {
			l.Close()
			return fmt.Errorf("listen %s: %w", d.local.Path(), err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.addr = l.Addr()
	d.cancel = cancel
	d.mu.Unlock()

	d.goRun(runCtx, "listener", func(context.Context) error { return d.server.Serve(l) })
	d.logger.Info("listener started", "addr", l.Addr().String(), "tls", d.server.TLS())
	if d.local != nil {
		d.goRun(runCtx, "localserver", func(context.Context) error { return d.local.ListenAndServe() })
	}
	if d.certs != nil {
		d.goRun(runCtx, "tls", d.certs.Run)
	}
	for _, t := range d.threads {
		d.goRun(runCtx, "heartbeat "+t.ID(), t.Run)
	}
	d.goRun(runCtx, "monitor", d.monitor.Run)
	d.goRun(runCtx, "nodestats", d.stats.Run)
	d.goRun(runCtx, "objconf", func(ctx context.Context) error {
		return d.objects.Watch(ctx, d.objectsChanged)
	})
	d.goRun(runCtx, "collector", d.drainCollector)
	d.goRun(runCtx, "prune", d.pruneLoop)

	d.logger.Info("daemon started",
		"node", d.cfg.Node.Name,
		"cluster", d.cfg.Cluster.Name,
		"nodes", d.cfg.NodeNames(),
		"heartbeats", len(d.threads))
	return nil
}

func (d *Daemon) goRun(ctx context.Context, name string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := fn(ctx); err != nil {
			d.logger.Error("loop failed", "loop", name, "error", err)
		}
	}()
}

func (d *Daemon) objectsChanged(paths []string) {
	d.logger.Debug("object configurations changed", "paths", paths)
	d.state.Wake("config change")
}

// drainCollector consumes the collector queue. Items are logged only:
// the collector worker is external.
func (d *Daemon) drainCollector(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-d.state.Collector():
			d.logger.Debug("collector item", "args", item.Args, "kwargs", item.Kwargs)
		}
	}
}

func (d *Daemon) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.prune(now)
		}
	}
}

func (d *Daemon) prune(now time.Time) {
	banned := d.state.Blacklist().Prune()
	limiters := d.auth.Prune(now.Add(-d.cfg.Listener.Blacklist.Window))
	slots := d.state.RelayPrune(now.Add(-RelayTTL))
	if banned > 0 || limiters > 0 || slots > 0 {
		d.logger.Debug("pruned listener state", "blacklist", banned, "rate_limiters", limiters, "relay_slots", slots)
	}
}

// Shutdown stops the listeners, then the loops, then closes the
// storage. It is safe to call more than once.
func (d *Daemon) Shutdown(ctx context.Context) error {
	var errs []error
	d.shutdown.Do(func() {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("listener: %w", err))
		}
		if d.local != nil {
			if err := d.local.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("localserver: %w", err))
			}
		}

		d.mu.Lock()
		cancel := d.cancel
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait loops: %w", ctx.Err()))
		}

		if d.codec != nil {
			d.codec.Close()
		}
		if err := d.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
		d.logger.Info("daemon stopped")
	})
	return errors.Join(errs...)
}
