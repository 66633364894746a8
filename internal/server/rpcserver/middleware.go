package rpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/telemetry/logger"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// ContextKeyStartTime is the context key for request start time.
	ContextKeyStartTime contextKey = "start_time"

	// ContextKeyIdentity carries a caller identity set by the transport,
	// bypassing authentication.
	ContextKeyIdentity contextKey = "identity"

	contextKeyAudit contextKey = "audit"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first middleware is
// the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// WithIdentity returns a context whose requests run as id. Only trusted
// transports use it.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// IdentityFromContext returns the transport identity, if any.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(domain.Identity)
	return id, ok
}

// TrustedIdentity runs every request as id.
func TrustedIdentity(id domain.Identity) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequestID adds a unique request ID to each request.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 64 {
				requestID = "req-" + ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, ContextKeyStartTime, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// auditRecord is filled by the dispatcher for the Audit middleware.
type auditRecord struct {
	handler  string
	caller   string
	mutating bool
	params   map[string]any
}

func auditFrom(ctx context.Context) *auditRecord {
	if rec, ok := ctx.Value(contextKeyAudit).(*auditRecord); ok {
		return rec
	}
	return &auditRecord{}
}

// payloadParams carry key values and heartbeat payloads, never written
// to the audit log. Credential-like names are masked by the logger
// rules as well.
var payloadParams = map[string]bool{
	"value": true,
	"msg":   true,
}

func sanitizeParams(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if payloadParams[k] || logger.IsSensitiveKey(k) {
			v = "***"
		}
		out[k] = v
	}
	return out
}

// Audit logs every request. Successful mutating requests are logged at
// info level with their parameters, other successful requests at debug
// level.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &auditRecord{}
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), contextKeyAudit, rec)))

			startTime, _ := r.Context().Value(ContextKeyStartTime).(time.Time)
			attrs := []any{
				"request_id", logger.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"handler", rec.handler,
				"caller", rec.caller,
				"client_ip", clientIP(r),
				"status", wrapped.statusCode,
				"duration_ms", time.Since(startTime).Milliseconds(),
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			case rec.mutating:
				attrs = append(attrs, "params", sanitizeParams(rec.params))
				log.Info("request completed", attrs...)
			default:
				log.Debug("request completed", attrs...)
			}
		})
	}
}

// Recover turns a panic into a status 1 response carrying the
// traceback. The connection stays usable.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}
				stack := string(debug.Stack())
				log.Error("panic recovered",
					"request_id", logger.RequestIDFromContext(r.Context()),
					"error", err,
					"path", r.URL.Path,
				)
				resp, status := errorResponse(domain.ErrInternalServer.WithDetails(fmt.Sprint(err)))
				resp.Traceback = stack
				w.Header().Set("X-Error-Code", resp.Code)
				writeJSON(w, status, resp)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the flusher of the
// underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// clientIP returns the peer address of the connection. Unix socket
// peers have no address and report "local".
func clientIP(r *http.Request) string {
	if r.RemoteAddr == "" || r.RemoteAddr == "@" {
		return "local"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
