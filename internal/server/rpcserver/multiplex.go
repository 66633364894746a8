package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	// Nodename and Secret are the basic auth credentials presented to
	// peers, which map them to a node identity.
	Nodename string
	Secret   string

	// Peers maps node names to listener base URLs, such as
	// "https://n2:1215".
	Peers map[string]string

	// Client defaults to a client with Timeout.
	Client  *http.Client
	Timeout time.Duration

	Logger *slog.Logger
}

// Forwarder runs multiplexed requests on peer listeners.
type Forwarder struct {
	nodename string
	secret   string
	client   *http.Client
	logger   *slog.Logger

	mu    sync.RWMutex
	peers map[string]string
}

// NewForwarder creates a Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Forwarder{
		nodename: cfg.Nodename,
		secret:   cfg.Secret,
		client:   cfg.Client,
		logger:   cfg.Logger.With("component", "forwarder"),
		peers:    maps.Clone(cfg.Peers),
	}
}

// SetPeer sets or replaces the listener URL of a node.
func (f *Forwarder) SetPeer(node, baseURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peers == nil {
		f.peers = make(map[string]string)
	}
	f.peers[node] = baseURL
}

// Forward posts the action to a node listener. Transport failures are
// reported as a node unreachable response.
func (f *Forwarder) Forward(ctx context.Context, node, action string, params map[string]any) Response {
	f.mu.RLock()
	base, ok := f.peers[node]
	f.mu.RUnlock()
	if !ok {
		resp, _ := errorResponse(domain.ErrNodeUnreachable.WithDetailsf("%s: no listener address", node))
		return resp
	}

	resp, err := f.post(ctx, strings.TrimSuffix(base, "/")+"/", action, params)
	if err != nil {
		f.logger.Warn("forward failed", "node", node, "action", action, "error", err)
		resp, _ = errorResponse(domain.ErrNodeUnreachable.WithDetailsf("%s: %v", node, err))
	}
	return resp
}

func (f *Forwarder) post(ctx context.Context, url, action string, params map[string]any) (Response, error) {
	body := make(map[string]any, len(params)+1)
	maps.Copy(body, params)
	body[ParamAction] = action
	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(f.nodename, f.secret)

	httpResp, err := f.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, DefaultMaxBodyBytes)).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response (http %d): %w", httpResp.StatusCode, err)
	}
	return resp, nil
}
