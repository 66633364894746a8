package command

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// mockServer is a listener stand-in answering per route.
type mockServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []mockRequest
}

type mockRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   map[string]any
	User   string
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) serve(w http.ResponseWriter, r *http.Request) {
	req := mockRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
	req.User, _, _ = r.BasicAuth()
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &req.Body)
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	h, ok := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if !ok {
		errorResponse(w, http.StatusNotFound, "HA-REQ-4040", "no handler for route")
		return
	}
	h(w, r)
}

func (m *mockServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

func (m *mockServer) last(t *testing.T) mockRequest {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no request received")
	}
	return m.requests[len(m.requests)-1]
}

func jsonResponse(data any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "data": data})
	}
}

func infoResponse(info string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "info": info})
	}
}

func errorResponse(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": 1, "code": code, "error": msg})
}

// runCLI runs the app against the mock server with an isolated CLI
// configuration file and returns stdout and stderr.
func runCLI(t *testing.T, m *mockServer, args ...string) (string, string, error) {
	t.Helper()
	return runCLIWithConfig(t, filepath.Join(t.TempDir(), "cli.yaml"), m, "", args...)
}

func runCLIWithConfig(t *testing.T, cfgPath string, m *mockServer, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(stdin)

	full := []string{"hamesh-cli", "--config", cfgPath}
	if m != nil {
		full = append(full, "--server", m.URL)
	}
	full = append(full, args...)
	err := app.Run(full)
	return stdout.String(), stderr.String(), err
}
