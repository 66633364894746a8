package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/core/service"
	"github.com/yndnr/hamesh-go/internal/core/state"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver/handler"
	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

const testSecret = "hmsec_test"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echo struct{}

func (echo) Spec() handler.Spec {
	return handler.Spec{
		Name:   "echo",
		Routes: []handler.Route{{Method: http.MethodGet, Path: "/echo"}},
		Prototype: []handler.Param{
			{Name: "path", Required: true, Format: handler.FormatPath},
		},
		Access: handler.Access{
			Roles:      []domain.Role{domain.RoleGuest},
			Namespaces: handler.FromParam("path"),
			SecretRole: domain.RoleAdmin,
		},
		Multiplex: handler.MultiplexOptional,
	}
}

func (echo) Action(ctx context.Context, req *handler.Request) (any, error) {
	return map[string]string{"path": req.Params.Path("path").String(), "caller": req.Caller.String()}, nil
}

type simple struct {
	spec handler.Spec
	fn   func(req *handler.Request) (any, error)
}

func (s simple) Spec() handler.Spec { return s.spec }

func (s simple) Action(ctx context.Context, req *handler.Request) (any, error) {
	return s.fn(req)
}

type counter struct{ simple }

func (counter) Stream(ctx context.Context, req *handler.Request, emit func(any) error) error {
	for i := range 3 {
		if err := emit(map[string]int{"n": i}); err != nil {
			return err
		}
	}
	return nil
}

// gate counts its Action calls. Requests failing the access policy
// must never reach it.
type gate struct {
	spec  handler.Spec
	calls *atomic.Int32
}

func (g gate) Spec() handler.Spec { return g.spec }

func (g gate) Action(ctx context.Context, req *handler.Request) (any, error) {
	g.calls.Add(1)
	return "ok", nil
}

var (
	gateCalls     atomic.Int32
	rootGateCalls atomic.Int32
)

var (
	guestAny = handler.Access{Roles: []domain.Role{domain.RoleGuest}, Namespaces: handler.NamespacesAny}
	rootOnly = handler.Access{Roles: []domain.Role{domain.RoleRoot}}
)

func testHandlers() []handler.Handler {
	return []handler.Handler{
		echo{},
		simple{
			spec: handler.Spec{Name: "act", Access: rootOnly},
			fn:   func(*handler.Request) (any, error) { return handler.Info{Message: "done"}, nil },
		},
		simple{
			spec: handler.Spec{Name: "fail", Routes: []handler.Route{{Method: http.MethodGet, Path: "/fail"}}, Access: guestAny},
			fn:   func(*handler.Request) (any, error) { return nil, domain.ErrObjectNotFound.WithDetails("svc/x") },
		},
		simple{
			spec: handler.Spec{Name: "boom", Routes: []handler.Route{{Method: http.MethodPost, Path: "/boom"}}, Access: rootOnly},
			fn:   func(*handler.Request) (any, error) { panic("kaboom") },
		},
		simple{
			spec: handler.Spec{Name: "private", Routes: []handler.Route{{Method: http.MethodGet, Path: "/private"}}, Access: guestAny},
			fn:   func(*handler.Request) (any, error) { return "ok", nil },
		},
		gate{
			spec: handler.Spec{
				Name:   "gate",
				Routes: []handler.Route{{Method: http.MethodGet, Path: "/gate"}},
				Prototype: []handler.Param{
					{Name: "path", Required: true, Format: handler.FormatPath},
					{Name: "count", Format: handler.FormatInt},
				},
				Access: handler.Access{
					Roles:      []domain.Role{domain.RoleOperator},
					Namespaces: handler.FromParam("path"),
					SecretRole: domain.RoleAdmin,
				},
			},
			calls: &gateCalls,
		},
		gate{
			spec: handler.Spec{
				Name:   "rootgate",
				Routes: []handler.Route{{Method: http.MethodPost, Path: "/rootgate"}},
				Access: rootOnly,
			},
			calls: &rootGateCalls,
		},
		counter{simple{
			spec: handler.Spec{Name: "stream", Routes: []handler.Route{{Method: http.MethodGet, Path: "/stream"}}, Access: guestAny},
		}},
	}
}

type node struct {
	state *state.DaemonState
	srv   *httptest.Server
	fwd   *Forwarder
}

func newNode(t *testing.T, name string, extra ...Middleware) *node {
	t.Helper()
	st, err := state.New(state.Config{
		Nodename:  name,
		ClusterID: "c1",
		Nodes:     []string{"n1", "n2"},
		Blacklist: state.BlacklistConfig{Threshold: 2},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	hash, err := service.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	auth, err := service.NewAuthService(service.AuthServiceConfig{
		ClusterSecret: testSecret,
		Members:       st,
		Users: []service.UserConfig{
			{Name: "alice", PasswordHash: hash, Grants: "guest:ns1"},
			{Name: "bob", PasswordHash: hash, Grants: "admin:ns1"},
		},
		Violations: st.Blacklist(),
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	fwd := NewForwarder(ForwarderConfig{Nodename: name, Secret: testSecret, Logger: testLogger()})
	d, err := NewDispatcher(DispatcherConfig{
		Handlers:  testHandlers(),
		State:     st,
		Auth:      auth,
		Forwarder: fwd,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(RouterConfig{
		Dispatcher: d,
		Metrics:    metric.NewRegistry(),
		Extra:      extra,
		Logger:     testLogger(),
	}))
	t.Cleanup(srv.Close)
	return &node{state: st, srv: srv, fwd: fwd}
}

type call struct {
	method     string
	target     string
	body       string
	user, pass string
}

func (n *node) do(t *testing.T, c call) (int, Response) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, n.srv.URL+c.target, body)
	if err != nil {
		t.Fatal(err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := n.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", c.method, c.target, err)
	}
	defer resp.Body.Close()
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", c.method, c.target, err)
	}
	return resp.StatusCode, out
}

func TestDispatch(t *testing.T) {
	n := newNode(t, "n1")
	tests := []struct {
		name       string
		call       call
		wantHTTP   int
		wantCode   string
		wantStatus int
	}{
		{"guest on namespace", call{method: "GET", target: "/echo?path=ns1/cfg/a", user: "alice", pass: "pw"}, 200, "", 0},
		{"prefix route", call{method: "GET", target: "/echo/ns1/cfg/a", user: "alice", pass: "pw"}, 200, "", 0},
		{"other namespace", call{method: "GET", target: "/echo?path=ns2/cfg/a", user: "alice", pass: "pw"}, 403, "HA-AUTH-4031", 1},
		{"secret kind needs admin", call{method: "GET", target: "/echo?path=ns1/sec/a", user: "alice", pass: "pw"}, 403, "HA-AUTH-4030", 1},
		{"admin reads secret", call{method: "GET", target: "/echo?path=ns1/sec/a", user: "bob", pass: "pw"}, 200, "", 0},
		{"anonymous", call{method: "GET", target: "/echo?path=ns1/cfg/a"}, 401, "HA-AUTH-4011", 1},
		{"unknown argument", call{method: "GET", target: "/echo?path=ns1/cfg/a&bogus=1", user: "alice", pass: "pw"}, 400, "HA-ARG-1003", 1},
		{"missing argument", call{method: "GET", target: "/echo", user: "alice", pass: "pw"}, 400, "HA-ARG-1002", 1},
		{"unknown route", call{method: "GET", target: "/nope", user: "alice", pass: "pw"}, 404, "HA-REQ-4040", 1},
		{"wrong method", call{method: "POST", target: "/echo", user: "alice", pass: "pw"}, 404, "HA-REQ-4040", 1},
		{"internal action as node", call{method: "POST", target: "/", body: `{"action":"act"}`, user: "n2", pass: testSecret}, 200, "", 0},
		{"internal action as guest", call{method: "POST", target: "/", body: `{"action":"act"}`, user: "alice", pass: "pw"}, 403, "HA-AUTH-4030", 1},
		{"action failure", call{method: "GET", target: "/fail", user: "alice", pass: "pw"}, 404, "HA-OBJ-4040", 1},
		{"never multiplexed", call{method: "GET", target: "/private?node=*", user: "alice", pass: "pw"}, 400, "HA-ARG-1001", 1},
		{"bad body", call{method: "POST", target: "/", body: `{"action":`, user: "n2", pass: testSecret}, 400, "HA-REQ-4000", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := n.do(t, tt.call)
			if code != tt.wantHTTP {
				t.Errorf("http status = %d, want %d (%+v)", code, tt.wantHTTP, resp)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestDispatch_AccessDeniedBeforeAction(t *testing.T) {
	n := newNode(t, "n1")
	gateCalls.Store(0)
	rootGateCalls.Store(0)

	tests := []struct {
		name     string
		call     call
		wantCode string
	}{
		{"anonymous", call{method: "GET", target: "/gate?path=ns1/svc/a"}, "HA-AUTH-4011"},
		{"guest lacks operator", call{method: "GET", target: "/gate?path=ns1/svc/a", user: "alice", pass: "pw"}, "HA-AUTH-4030"},
		{"wrong namespace", call{method: "GET", target: "/gate?path=ns2/svc/a", user: "bob", pass: "pw"}, "HA-AUTH-4031"},
		{"wrong namespace with unknown argument", call{method: "GET", target: "/gate?path=ns2/svc/a&bogus=1", user: "bob", pass: "pw"}, "HA-AUTH-4031"},
		{"wrong namespace with invalid argument", call{method: "GET", target: "/gate?path=ns2/svc/a&count=x", user: "bob", pass: "pw"}, "HA-AUTH-4031"},
		{"root only as admin", call{method: "POST", target: "/rootgate", user: "bob", pass: "pw"}, "HA-AUTH-4030"},
		{"root only as anonymous", call{method: "POST", target: "/rootgate"}, "HA-AUTH-4011"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := n.do(t, tt.call)
			if resp.Status != 1 || resp.Code != tt.wantCode {
				t.Errorf("response = %+v, want code %s", resp, tt.wantCode)
			}
		})
	}
	if got := gateCalls.Load(); got != 0 {
		t.Errorf("gate action called %d times on denied requests", got)
	}
	if got := rootGateCalls.Load(); got != 0 {
		t.Errorf("root gate action called %d times on denied requests", got)
	}

	if _, resp := n.do(t, call{method: "GET", target: "/gate?path=ns1/svc/a&count=2", user: "bob", pass: "pw"}); resp.Status != 0 {
		t.Fatalf("granted request failed: %+v", resp)
	}
	if got := gateCalls.Load(); got != 1 {
		t.Errorf("gate action calls = %d after a granted request, want 1", got)
	}
}

func TestDispatch_InfoAndData(t *testing.T) {
	n := newNode(t, "n1")
	_, resp := n.do(t, call{method: "POST", target: "/", body: `{"action":"act"}`, user: "n2", pass: testSecret})
	if resp.Info != "done" {
		t.Errorf("info = %q, want done", resp.Info)
	}

	_, resp = n.do(t, call{method: "GET", target: "/echo?path=ns1/cfg/a", user: "alice", pass: "pw"})
	data, _ := resp.Data.(map[string]any)
	if data["caller"] != "user:alice" || data["path"] != "ns1/cfg/a" {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	n := newNode(t, "n1")
	code, resp := n.do(t, call{method: "POST", target: "/boom", user: "n2", pass: testSecret})
	if code != http.StatusInternalServerError {
		t.Errorf("http status = %d, want 500", code)
	}
	if resp.Status != 1 || resp.Traceback == "" {
		t.Errorf("response = %+v, want status 1 with a traceback", resp)
	}
	if !strings.Contains(resp.Error, "kaboom") {
		t.Errorf("error = %q, want the panic value", resp.Error)
	}

	code, _ = n.do(t, call{method: "GET", target: "/private", user: "alice", pass: "pw"})
	if code != http.StatusOK {
		t.Errorf("request after panic: http status = %d, want 200", code)
	}
}

func TestDispatch_Blacklist(t *testing.T) {
	n := newNode(t, "n1")
	for range 2 {
		code, _ := n.do(t, call{method: "GET", target: "/private", user: "alice", pass: "bad"})
		if code != http.StatusUnauthorized {
			t.Fatalf("bad password: http status = %d, want 401", code)
		}
	}
	code, resp := n.do(t, call{method: "GET", target: "/private", user: "alice", pass: "pw"})
	if code != http.StatusTooManyRequests || resp.Code != domain.ErrBlacklisted.Code {
		t.Errorf("after ban: http %d code %q, want 429 %s", code, resp.Code, domain.ErrBlacklisted.Code)
	}

	n.state.Blacklist().Clear("")
	if code, _ := n.do(t, call{method: "GET", target: "/private", user: "alice", pass: "pw"}); code != http.StatusOK {
		t.Errorf("after clear: http status = %d, want 200", code)
	}
}

func TestDispatch_TrustedIdentity(t *testing.T) {
	n := newNode(t, "n1", TrustedIdentity(domain.RootIdentity()))
	code, resp := n.do(t, call{method: "POST", target: "/", body: `{"action":"act"}`})
	if code != http.StatusOK || resp.Info != "done" {
		t.Errorf("http %d response %+v, want 200 done", code, resp)
	}
}

func TestDispatch_Multiplex(t *testing.T) {
	n1 := newNode(t, "n1")
	n2 := newNode(t, "n2")
	n1.fwd.SetPeer("n2", n2.srv.URL)

	code, resp := n1.do(t, call{method: "GET", target: "/echo?path=ns1/cfg/a&node=n1,n2", user: "alice", pass: "pw"})
	if code != http.StatusOK || resp.Status != 0 {
		t.Fatalf("http %d response %+v, want 200 status 0", code, resp)
	}
	nodes := resp.Data.(map[string]any)["nodes"].(map[string]any)
	if len(nodes) != 2 {
		t.Fatalf("nodes = %v, want n1 and n2", nodes)
	}
	remote := nodes["n2"].(map[string]any)["data"].(map[string]any)
	if remote["caller"] != "node:n1" {
		t.Errorf("n2 caller = %v, want node:n1", remote["caller"])
	}
	local := nodes["n1"].(map[string]any)["data"].(map[string]any)
	if local["caller"] != "user:alice" {
		t.Errorf("n1 caller = %v, want user:alice", local["caller"])
	}

	code, resp = n1.do(t, call{method: "GET", target: "/echo?path=ns1/cfg/a&node=n1,n9", user: "alice", pass: "pw"})
	if code != http.StatusNotFound || resp.Code != domain.ErrNodeNotMember.Code {
		t.Errorf("unknown node: http %d code %q, want 404 %s", code, resp.Code, domain.ErrNodeNotMember.Code)
	}

	n2.srv.Close()
	_, resp = n1.do(t, call{method: "GET", target: "/echo?path=ns1/cfg/a&node=n2", user: "alice", pass: "pw"})
	if resp.Status != 1 {
		t.Errorf("status = %d, want 1 with n2 down", resp.Status)
	}
	entry := resp.Data.(map[string]any)["nodes"].(map[string]any)["n2"].(map[string]any)
	if entry["code"] != domain.ErrNodeUnreachable.Code {
		t.Errorf("n2 entry = %v, want %s", entry, domain.ErrNodeUnreachable.Code)
	}
}

func TestDispatch_Stream(t *testing.T) {
	n := newNode(t, "n1")
	req, _ := http.NewRequest(http.MethodGet, n.srv.URL+"/stream", nil)
	req.SetBasicAuth("alice", "pw")
	resp, err := n.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	var got []int
	for sc.Scan() {
		var v map[string]int
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		got = append(got, v["n"])
	}
	if len(got) != 3 || got[2] != 2 {
		t.Errorf("streamed = %v, want [0 1 2]", got)
	}
}

func TestRouter_Metrics(t *testing.T) {
	n := newNode(t, "n1")
	n.do(t, call{method: "GET", target: "/private", user: "alice", pass: "pw"})

	resp, err := n.srv.Client().Get(n.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("http status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(b), "go_goroutines") {
		t.Error("metrics output lacks runtime collectors")
	}
}

func TestNewDispatcher_Duplicates(t *testing.T) {
	st, _ := state.New(state.Config{Nodename: "n1", Logger: testLogger()})
	_, err := NewDispatcher(DispatcherConfig{
		Handlers: []handler.Handler{echo{}, echo{}},
		State:    st,
		Auth:     &service.AuthService{},
	})
	if err == nil {
		t.Error("NewDispatcher with duplicate actions: want error")
	}
}

func TestResponse_Err(t *testing.T) {
	resp, _ := errorResponse(domain.ErrLockTimeout.WithDetails("deploy"))
	if !errors.Is(resp.Err(), domain.ErrLockTimeout) {
		t.Errorf("Err() = %v, want %v", resp.Err(), domain.ErrLockTimeout)
	}
	if (Response{}).Err() != nil {
		t.Error("Err() of a success response should be nil")
	}
	resp, status := errorResponse(errors.New("plain"))
	if status != http.StatusInternalServerError || resp.Code != domain.ErrInternalServer.Code {
		t.Errorf("plain error = %d %+v, want 500 internal", status, resp)
	}
}
