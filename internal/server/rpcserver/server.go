package rpcserver

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Addr    string
	Handler http.Handler

	// TLSConfig enables TLS. Its GetCertificate or Certificates
	// provide the server certificate.
	TLSConfig *tls.Config

	ReadHeaderTimeout time.Duration
}

// Server is the TCP listener of the daemon.
type Server struct {
	httpServer *http.Server
	cfg        ServerConfig
	cancel     context.CancelFunc
}

// NewServer creates a listener. Request contexts are cancelled on
// Shutdown, which ends event streams.
func NewServer(cfg ServerConfig) *Server {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			TLSConfig:         cfg.TLSConfig,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		cfg:    cfg,
		cancel: cancel,
	}
}

// TLS reports whether the listener serves TLS.
func (s *Server) TLS() bool {
	return s.cfg.TLSConfig != nil
}

// ListenAndServe listens on the configured address. It returns nil
// after Shutdown.
func (s *Server) ListenAndServe() error {
	var err error
	if s.TLS() {
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l. It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	var err error
	if s.TLS() {
		err = s.httpServer.ServeTLS(l, "", "")
	} else {
		err = s.httpServer.Serve(l)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}
