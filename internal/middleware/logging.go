package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/edgeway/gateway/internal/logging"
	"go.uber.org/zap"
)

// LoggingConfig configures the access-log middleware.
type LoggingConfig struct {
	// SkipPaths are request paths excluded from access logging (health
	// checks and the like).
	SkipPaths []string
}

// DefaultLoggingConfig logs every request.
var DefaultLoggingConfig = LoggingConfig{}

// Logging creates an access-log middleware with default config.
func Logging() Middleware {
	return LoggingWithConfig(DefaultLoggingConfig)
}

// LoggingWithConfig creates an access-log middleware that emits one
// structured zap entry per request via the global logger.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lrw, r)
			duration := time.Since(start)

			logging.Info("request",
				zap.String("requestId", GetRequestID(r)),
				zap.String("remoteAddr", clientIP(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", lrw.status),
				zap.Int64("bodyBytes", lrw.bytes),
				zap.String("userAgent", r.UserAgent()),
				zap.Duration("duration", duration),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes written.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := lrw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Status returns the recorded status code.
func (lrw *loggingResponseWriter) Status() int { return lrw.status }

// BytesWritten returns the number of bytes written.
func (lrw *loggingResponseWriter) BytesWritten() int64 { return lrw.bytes }
