package heartbeat

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// RelayConfig configures the relay backend.
type RelayConfig struct {
	// URL is the relay daemon listener, e.g. https://relay:1215.
	URL string

	// Username and Password authenticate against the relay. The user
	// needs the heartbeat grant there.
	Username string
	Password string

	ClusterID string
	Nodename  string

	// Peers are the nodenames whose slots are polled.
	Peers []string

	PollInterval time.Duration
	Timeout      time.Duration

	// Client overrides the HTTP client, for TLS settings.
	Client *http.Client

	Logger *slog.Logger
}

// Relay exchanges datasets through a relay daemon, for nodes without
// a direct path to their peers. The relay only stores the latest
// payload of each node.
type Relay struct {
	cfg    RelayConfig
	base   string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	updated map[string]time.Time
	last    time.Time

	recv      chan Packet
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// relayResponse is the listener response envelope.
type relayResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

type relaySlot struct {
	ClusterID string    `json:"cluster_id"`
	Nodename  string    `json:"nodename"`
	Msg       []byte    `json:"msg"`
	Updated   time.Time `json:"updated"`
}

// NewRelay creates a relay backend.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("heartbeat: relay: invalid url %q", cfg.URL)
	}
	if cfg.Nodename == "" || cfg.ClusterID == "" {
		return nil, errors.New("heartbeat: relay: nodename and cluster id are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.URL, "/"),
		client:  client,
		logger:  cfg.Logger.With("backend", "relay", "relay", u.Host),
		updated: make(map[string]time.Time),
		recv:    make(chan Packet, len(cfg.Peers)+1),
		done:    make(chan struct{}),
	}, nil
}

func (r *Relay) Type() string { return "relay" }
func (r *Relay) Mode() TxMode { return TxFull }

// Open starts polling the peer slots.
func (r *Relay) Open(ctx context.Context) error {
	r.wg.Add(1)
	go r.pollLoop()
	r.logger.Info("relay started", "peers", r.cfg.Peers)
	return nil
}

func (r *Relay) do(ctx context.Context, method, route string, query url.Values, body any) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	target := r.base + "/" + route
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.cfg.Username != "" {
		req.SetBasicAuth(r.cfg.Username, r.cfg.Password)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env relayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2*MaxPayloadSize)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s: http %d: %w", route, resp.StatusCode, err)
	}
	if env.Status != 0 {
		return nil, fmt.Errorf("%s: http %d: %s", route, resp.StatusCode, env.Error)
	}
	return env.Data, nil
}

// Send stores payload in the local slot of the relay. Updates carry a
// strictly increasing timestamp so the relay never keeps an older one.
func (r *Relay) Send(ctx context.Context, _ string, payload []byte) error {
	r.mu.Lock()
	now := time.Now()
	if !now.After(r.last) {
		now = r.last.Add(time.Nanosecond)
	}
	r.last = now
	r.mu.Unlock()

	_, err := r.do(ctx, http.MethodPost, "relay_tx", nil, map[string]any{
		"cluster_id": r.cfg.ClusterID,
		"nodename":   r.cfg.Nodename,
		"msg":        base64.StdEncoding.EncodeToString(payload),
		"updated":    now.UTC().Format(time.RFC3339Nano),
	})
	return err
}

func (r *Relay) pollLoop() {
	defer r.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.done
		cancel()
	}()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for _, peer := range r.cfg.Peers {
			if peer == r.cfg.Nodename {
				continue
			}
			if err := r.poll(ctx, peer); err != nil && ctx.Err() == nil {
				r.logger.Debug("poll relay slot", "peer", peer, "error", err)
			}
		}
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) poll(ctx context.Context, peer string) error {
	data, err := r.do(ctx, http.MethodGet, "relay_rx", url.Values{
		"cluster_id": {r.cfg.ClusterID},
		"slot":       {peer},
	}, nil)
	if err != nil {
		return err
	}
	var slot relaySlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return fmt.Errorf("decode slot: %w", err)
	}
	if len(slot.Msg) == 0 {
		return nil
	}

	r.mu.Lock()
	unchanged := slot.Updated.Equal(r.updated[peer])
	r.mu.Unlock()
	if unchanged {
		return nil
	}

	select {
	case r.recv <- Packet{Payload: slot.Msg}:
	case <-r.done:
		return nil
	}
	r.mu.Lock()
	r.updated[peer] = slot.Updated
	r.mu.Unlock()
	return nil
}

func (r *Relay) Recv(ctx context.Context) (Packet, error) {
	select {
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	case <-r.done:
		return Packet{}, ErrClosed
	case p := <-r.recv:
		return p, nil
	}
}

// Close stops polling.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
	return nil
}
