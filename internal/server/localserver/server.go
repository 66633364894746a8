package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/server/rpcserver"
)

// SocketMode is the permission of the socket file.
const SocketMode fs.FileMode = 0o600

// Server is the unix socket listener.
type Server struct {
	path       string
	httpServer *http.Server
	cancel     context.CancelFunc
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
}

// New creates a unix socket listener serving h as root.
func New(socketPath string, h http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		path: socketPath,
		httpServer: &http.Server{
			Handler:           rpcserver.TrustedIdentity(domain.RootIdentity())(h),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		cancel: cancel,
		logger: logger.With("component", "localserver"),
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen creates the socket, replacing a stale one left by a previous
// run.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := removeStale(s.path); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, SocketMode); err != nil {
		l.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// ListenAndServe listens when needed and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		l = s.listener
		s.mu.Unlock()
	}

	s.running.Store(true)
	s.logger.Info("listening", "socket", s.path)
	err := s.httpServer.Serve(l)
	if !s.running.Load() || errors.Is(err, http.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, waits for active requests and
// removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)
	s.cancel()
	err := s.httpServer.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// removeStale removes path if it is a socket nobody listens on.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("%s: another daemon is listening", path)
	}
	return os.Remove(path)
}
