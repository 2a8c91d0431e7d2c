package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/edgeway/gateway/internal/gwerrors"
	"github.com/edgeway/gateway/internal/logging"
	"go.uber.org/zap"
)

// RecoveryConfig configures the recovery middleware.
type RecoveryConfig struct {
	// PrintStack captures a stack trace when a panic occurs.
	PrintStack bool
	// LogFunc is called when a panic occurs.
	LogFunc func(err interface{}, stack []byte)
}

// DefaultRecoveryConfig provides default recovery settings.
var DefaultRecoveryConfig = RecoveryConfig{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(err interface{}, stack []byte) {
	logging.Error("panic recovered",
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Recovery creates a panic recovery middleware that renders the standard
// gateway error envelope instead of letting net/http close the connection.
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig creates a recovery middleware with custom config.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					var stack []byte
					if cfg.PrintStack {
						stack = debug.Stack()
					}
					if cfg.LogFunc != nil {
						cfg.LogFunc(err, stack)
					}

					gwErr := gwerrors.ErrInternal.Wrap(fmt.Errorf("panic: %v", err))
					if reqID := GetRequestID(r); reqID != "" {
						gwErr = gwErr.WithRequestID(reqID)
					}
					gwErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryWithWriter creates a recovery middleware that reports panics
// through a caller-supplied formatter instead of the structured logger.
func RecoveryWithWriter(logFunc func(format string, args ...interface{})) Middleware {
	return RecoveryWithConfig(RecoveryConfig{
		PrintStack: true,
		LogFunc: func(err interface{}, stack []byte) {
			logFunc("panic: %v\n%s", err, stack)
		},
	})
}
