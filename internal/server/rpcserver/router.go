package rpcserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/hamesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the listener router.
type RouterConfig struct {
	Dispatcher *Dispatcher

	// Metrics serves /metrics when set.
	Metrics *metric.Registry

	// Extra middlewares run inside RequestID and Recover, before Audit.
	Extra []Middleware

	Logger *slog.Logger
}

// NewRouter wires the dispatcher behind the middleware chain.
//
// Order: RequestID -> Recover -> Extra -> Audit -> Dispatcher.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("component", "audit")

	mws := []Middleware{RequestID(), Recover(cfg.Logger)}
	mws = append(mws, cfg.Extra...)
	mws = append(mws, Audit(log))

	mux := http.NewServeMux()
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", Chain(cfg.Metrics.Handler(), RequestID(), Recover(cfg.Logger)))
	}
	mux.Handle("/", Chain(cfg.Dispatcher, mws...))
	return mux
}
