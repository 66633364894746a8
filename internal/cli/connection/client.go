package connection

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/infra/tlsroots"
)

// DefaultTimeout bounds one non-streaming call.
const DefaultTimeout = 30 * time.Second

// DefaultSocket is the daemon local socket path.
const DefaultSocket = "/var/run/hamesh/lsnr.sock"

// socketHost is the placeholder host of requests sent over the socket.
const socketHost = "hamesh.sock"

// Options configures a Client.
type Options struct {
	// Server is the listener address, with or without scheme. When
	// empty the client dials Socket.
	Server string
	Socket string

	Username string
	Password string

	CAFile             string
	InsecureSkipVerify bool

	// Node is the default multiplex selector, sent as the node
	// parameter when the call does not set one.
	Node string

	Timeout time.Duration
}

// Response is the listener response envelope.
type Response struct {
	Status    int             `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Info      string          `json:"info,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
}

// Err rebuilds the error of a failed response.
func (r *Response) Err() error {
	if r.Status == 0 {
		return nil
	}
	if r.Code != "" {
		return domain.NewDomainError(r.Code, r.Error)
	}
	if r.Error == "" {
		return fmt.Errorf("request failed with status %d", r.Status)
	}
	return errors.New(r.Error)
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Client calls one daemon listener.
type Client struct {
	baseURL  string
	username string
	password string
	node     string
	timeout  time.Duration
	http     *http.Client
}

// New creates a client from opts.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{
		username: opts.Username,
		password: opts.Password,
		node:     opts.Node,
		timeout:  opts.Timeout,
	}

	if opts.Server == "" {
		socket := opts.Socket
		if socket == "" {
			socket = DefaultSocket
		}
		c.baseURL = "http://" + socketHost
		c.http = &http.Client{Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		}}
		return c, nil
	}

	base := opts.Server
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", opts.Server)
	}
	c.baseURL = strings.TrimRight(u.String(), "/")

	// Streams must outlive the call timeout, so the timeout is applied
	// per call through the context instead of on the http.Client.
	hc, err := tlsroots.HTTPClient(opts.CAFile, opts.InsecureSkipVerify, 0)
	if err != nil {
		return nil, fmt.Errorf("tls setup: %w", err)
	}
	c.http = hc
	return c, nil
}

// BaseURL returns the listener base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get calls a GET route with params sent as the query string.
func (c *Client) Get(ctx context.Context, route string, params map[string]any) (*Response, error) {
	return c.Call(ctx, http.MethodGet, route, params)
}

// Post calls a POST route with params sent as the JSON body.
func (c *Client) Post(ctx context.Context, route string, params map[string]any) (*Response, error) {
	return c.Call(ctx, http.MethodPost, route, params)
}

// Call sends one request and decodes the envelope. A failed envelope
// is returned together with its error.
func (c *Client) Call(ctx context.Context, method, route string, params map[string]any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, route, params)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, route, err)
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response (http %d): %w", httpResp.StatusCode, err)
	}
	return &resp, resp.Err()
}

// Stream calls a streaming GET route and invokes fn for every JSON
// document of the response, until the server closes the stream, fn
// returns an error or ctx is done.
func (c *Client) Stream(ctx context.Context, route string, params map[string]any, fn func(json.RawMessage) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, route, params)
	if err != nil {
		return err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request GET %s: %w", route, err)
	}
	defer httpResp.Body.Close()

	if !strings.HasPrefix(httpResp.Header.Get("Content-Type"), "application/x-ndjson") {
		var resp Response
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return fmt.Errorf("decode response (http %d): %w", httpResp.StatusCode, err)
		}
		if err := resp.Err(); err != nil {
			return err
		}
		return fmt.Errorf("route %s is not a stream", route)
	}

	sc := bufio.NewScanner(httpResp.Body)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(bytes.Clone(line))); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, route string, params map[string]any) (*http.Request, error) {
	params = c.withNode(params)

	target := c.baseURL + "/" + strings.TrimLeft(route, "/")
	var body io.Reader
	if method == http.MethodGet {
		if q := encodeQuery(params); q != "" {
			target += "?" + q
		}
	} else {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) withNode(params map[string]any) map[string]any {
	if c.node == "" {
		return params
	}
	if _, ok := params["node"]; ok {
		return params
	}
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["node"] = c.node
	return out
}

func encodeQuery(params map[string]any) string {
	q := url.Values{}
	for k, v := range params {
		switch x := v.(type) {
		case nil:
		case string:
			if x != "" {
				q.Set(k, x)
			}
		case []string:
			for _, s := range x {
				q.Add(k, s)
			}
		default:
			q.Set(k, fmt.Sprint(x))
		}
	}
	return q.Encode()
}
