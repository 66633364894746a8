package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 15 * time.Second
)

// ThreadConfig configures a heartbeat thread.
type ThreadConfig struct {
	// ID names the thread in the daemon status, e.g. "hb#1".
	ID string

	Backend Backend
	State   *state.DaemonState
	Codec   *Codec

	// Interval is the transmit period when nothing changes.
	Interval time.Duration

	// Timeout is the silence after which a peer stops beating.
	Timeout time.Duration

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Thread runs the transmit and receive loops of one backend.
type Thread struct {
	id       string
	backend  Backend
	state    *state.DaemonState
	codec    *Codec
	interval time.Duration
	timeout  time.Duration
	metrics  *metric.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time
	beating  map[string]bool
	txFailed bool
}

// NewThread creates a heartbeat thread.
func NewThread(cfg ThreadConfig) (*Thread, error) {
	switch {
	case cfg.ID == "":
		return nil, errors.New("heartbeat: thread id is required")
	case cfg.Backend == nil:
		return nil, errors.New("heartbeat: backend is required")
	case cfg.State == nil:
		return nil, errors.New("heartbeat: state is required")
	case cfg.Codec == nil:
		return nil, errors.New("heartbeat: codec is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Timeout <= cfg.Interval {
		cfg.Timeout = 3 * cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Thread{
		id:       cfg.ID,
		backend:  cfg.Backend,
		state:    cfg.State,
		codec:    cfg.Codec,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "heartbeat", "hb", cfg.ID, "type", cfg.Backend.Type()),
		lastSeen: make(map[string]time.Time),
		beating:  make(map[string]bool),
	}, nil
}

// ID returns the thread id.
func (t *Thread) ID() string {
	return t.id
}

// Run opens the backend and runs the loops until ctx is done. Transport
// errors after a successful open are counted and retried, never
// returned.
func (t *Thread) Run(ctx context.Context) error {
	t.state.RegisterThread(t.id, t.backend.Type())
	if err := t.backend.Open(ctx); err != nil {
		t.state.ThreadCounters(t.id, 0, 0, 1, err)
		t.state.StopThread(t.id)
		return fmt.Errorf("heartbeat %s: open: %w", t.id, err)
	}
	if sharer, ok := t.backend.(StateSharer); ok {
		sharer.SetLocalState(t.fullPayload)
	}
	t.logger.Info("heartbeat started", "interval", t.interval, "timeout", t.timeout)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		t.txLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		t.rxLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		t.watchdog(ctx)
	}()

	<-ctx.Done()
	if err := t.backend.Close(); err != nil {
		t.logger.Warn("close backend", "error", err)
	}
	wg.Wait()
	t.state.StopThread(t.id)
	t.mu.Lock()
	for peer := range t.beating {
		t.metrics.SetBeating(t.id, peer, false)
	}
	t.mu.Unlock()
	t.logger.Info("heartbeat stopped")
	return nil
}

func (t *Thread) txLoop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		changed := t.state.Changed()
		t.transmit(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-changed:
		}
	}
}

func (t *Thread) transmit(ctx context.Context) {
	peers := t.state.Peers()
	if len(peers) == 0 {
		return
	}
	switch t.backend.Mode() {
	case TxPerPeer:
		for _, peer := range peers {
			t.send(ctx, peer, t.state.MessageFor(peer))
		}
	case TxBroadcast:
		t.send(ctx, "", t.state.BroadcastMessage(peers))
	case TxFull:
		t.send(ctx, "", t.state.FullMessage())
	}
}

func (t *Thread) send(ctx context.Context, peer string, msg *state.Message) {
	payload, err := t.codec.Encode(msg)
	if err == nil {
		err = t.backend.Send(ctx, peer, payload)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.state.ThreadCounters(t.id, 0, 0, 1, err)
		t.metrics.HeartbeatError(t.id, "tx")
		t.mu.Lock()
		first := !t.txFailed
		t.txFailed = true
		t.mu.Unlock()
		if first {
			t.logger.Warn("heartbeat send failed", "peer", peer, "error", err)
		} else {
			t.logger.Debug("heartbeat send failed", "peer", peer, "error", err)
		}
		return
	}
	t.mu.Lock()
	if t.txFailed {
		t.logger.Info("heartbeat send recovered", "peer", peer)
	}
	t.txFailed = false
	t.mu.Unlock()
	t.state.ThreadCounters(t.id, 1, 0, 0, nil)
	t.metrics.HeartbeatSent(t.id, len(payload))
}

func (t *Thread) fullPayload() []byte {
	payload, err := t.codec.Encode(t.state.FullMessage())
	if err != nil {
		t.logger.Error("encode full dataset", "error", err)
		return nil
	}
	return payload
}

func (t *Thread) rxLoop(ctx context.Context) {
	for {
		pkt, err := t.backend.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			t.state.ThreadCounters(t.id, 0, 0, 1, err)
			t.metrics.HeartbeatError(t.id, "rx")
			t.logger.Debug("heartbeat receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		t.receive(pkt)
	}
}

// receive merges one payload. Undecryptable payloads count as a
// blacklist violation of the sender address.
func (t *Thread) receive(pkt Packet) {
	bl := t.state.Blacklist()
	if pkt.Addr != "" && bl.IsBanned(pkt.Addr) {
		return
	}
	msg, err := t.codec.Decode(pkt.Payload)
	if err != nil {
		t.state.ThreadCounters(t.id, 0, 0, 1, err)
		t.metrics.HeartbeatError(t.id, "decode")
		if errors.Is(err, ErrDecrypt) && pkt.Addr != "" {
			if bl.Violation(pkt.Addr) {
				t.logger.Warn("sender blacklisted", "addr", pkt.Addr)
			}
		}
		t.logger.Debug("drop heartbeat payload", "addr", pkt.Addr, "error", err)
		return
	}

	result, err := t.state.Apply(msg)
	if err != nil {
		t.state.ThreadCounters(t.id, 0, 0, 1, err)
		t.metrics.HeartbeatError(t.id, "apply")
		t.logger.Debug("drop dataset", "peer", msg.Nodename, "error", err)
		return
	}
	if result == state.ApplySelf {
		return
	}

	now := time.Now()
	t.mu.Lock()
	t.lastSeen[msg.Nodename] = now
	wasBeating := t.beating[msg.Nodename]
	t.beating[msg.Nodename] = true
	t.mu.Unlock()

	t.state.SetBeating(t.id, msg.Nodename, true, now)
	t.state.ThreadCounters(t.id, 0, 1, 0, nil)
	t.metrics.HeartbeatReceived(t.id, len(pkt.Payload))
	t.metrics.Applied(string(result))
	if !wasBeating {
		t.metrics.SetBeating(t.id, msg.Nodename, true)
		t.logger.Info("peer beating", "peer", msg.Nodename)
	}
}

// watchdog marks peers silent for longer than the timeout as not beating.
func (t *Thread) watchdog(ctx context.Context) {
	period := max(t.timeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.expire(time.Now())
		}
	}
}

func (t *Thread) expire(now time.Time) {
	var lost []string
	t.mu.Lock()
	for peer, at := range t.lastSeen {
		if t.beating[peer] && now.Sub(at) > t.timeout {
			t.beating[peer] = false
			lost = append(lost, peer)
		}
	}
	t.mu.Unlock()

	for _, peer := range lost {
		t.state.SetBeating(t.id, peer, false, time.Time{})
		t.metrics.SetBeating(t.id, peer, false)
		t.logger.Warn("peer stale", "peer", peer, "timeout", t.timeout)
	}
}
