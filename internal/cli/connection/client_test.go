package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/hamesh-go/internal/core/domain"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]any
	user   string
	pass   string
}

func newTestServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.user, rec.pass, _ = r.BasicAuth()
		rec.body = nil
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		reply(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func okReply(data any) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "data": data})
	}
}

func TestNew_ServerAddress(t *testing.T) {
	tests := []struct {
		server  string
		want    string
		wantErr bool
	}{
		{server: "n1:1215", want: "https://n1:1215"},
		{server: "http://n1:1215/", want: "http://n1:1215"},
		{server: "https://10.0.0.1:1215", want: "https://10.0.0.1:1215"},
		{server: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			c, err := New(Options{Server: tt.server})
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.BaseURL() != tt.want {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.want)
			}
		})
	}
}

func TestClient_Get(t *testing.T) {
	srv, rec := newTestServer(t, okReply(map[string]any{"nodes": []string{"n1"}}))
	c, err := New(Options{Server: srv.URL, Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := c.Get(context.Background(), "/daemon_status", map[string]any{"selector": "ns1/*"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.method != http.MethodGet || rec.path != "/daemon_status" {
		t.Errorf("request = %s %s, want GET /daemon_status", rec.method, rec.path)
	}
	if rec.query != "selector=ns1%2F%2A" {
		t.Errorf("query = %q, want selector=ns1%%2F%%2A", rec.query)
	}
	if rec.user != "alice" || rec.pass != "pw" {
		t.Errorf("basic auth = %q/%q, want alice/pw", rec.user, rec.pass)
	}

	var data struct {
		Nodes []string `json:"nodes"`
	}
	if err := resp.Decode(&data); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(data.Nodes) != 1 || data.Nodes[0] != "n1" {
		t.Errorf("nodes = %v, want [n1]", data.Nodes)
	}
}

func TestClient_PostWithNode(t *testing.T) {
	srv, rec := newTestServer(t, okReply(nil))
	c, err := New(Options{Server: srv.URL, Node: "n2"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := c.Post(context.Background(), "wake", map[string]any{"reason": "test"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/wake" {
		t.Errorf("request = %s %s, want POST /wake", rec.method, rec.path)
	}
	if rec.body["reason"] != "test" || rec.body["node"] != "n2" {
		t.Errorf("body = %v, want reason and node", rec.body)
	}
	if rec.user != "" {
		t.Errorf("basic auth user = %q, want none", rec.user)
	}

	// An explicit node parameter wins.
	if _, err := c.Post(context.Background(), "wake", map[string]any{"node": "*"}); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if rec.body["node"] != "*" {
		t.Errorf("node = %v, want *", rec.body["node"])
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": 1,
			"error":  "key not found: ns1/svc/web data",
			"code":   domain.ErrKeyNotFound.Code,
		})
	})
	c, err := New(Options{Server: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := c.Get(context.Background(), "/get_key", map[string]any{"path": "ns1/svc/web", "key": "data"})
	if !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("Get() error = %v, want ErrKeyNotFound", err)
	}
	if resp == nil || resp.Status != 1 {
		t.Errorf("response = %+v, want the failed envelope", resp)
	}
}

func TestClient_Stream(t *testing.T) {
	srv, rec := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, "{\"kind\":\"a\"}\n\n{\"kind\":\"b\"}\n")
	})
	c, err := New(Options{Server: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var kinds []string
	err = c.Stream(context.Background(), "/events", map[string]any{"kinds": []string{"a", "b"}}, func(raw json.RawMessage) error {
		var ev struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		kinds = append(kinds, ev.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if strings.Join(kinds, ",") != "a,b" {
		t.Errorf("kinds = %v, want [a b]", kinds)
	}
	if rec.query != "kinds=a&kinds=b" {
		t.Errorf("query = %q, want kinds=a&kinds=b", rec.query)
	}
}

func TestClient_StreamRejected(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": 1,
			"error":  "authentication required",
			"code":   domain.ErrAuthRequired.Code,
		})
	})
	c, err := New(Options{Server: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = c.Stream(context.Background(), "/events", nil, func(json.RawMessage) error { return nil })
	if !errors.Is(err, domain.ErrAuthRequired) {
		t.Errorf("Stream() error = %v, want ErrAuthRequired", err)
	}
}

func TestClient_Socket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "lsnr.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(okReply("pong"))}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	c, err := New(Options{Socket: sock})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	resp, err := c.Get(context.Background(), "/daemon_stats", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var got string
	if err := resp.Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != "pong" {
		t.Errorf("data = %q, want pong", got)
	}
}
