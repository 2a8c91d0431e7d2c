package gateway

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/logging"
)

// Server wraps a Gateway with the single HTTP listener the process runs:
// application routes and, under /api/gateway/*, the admin surface. One
// http.Server with a path-prefixed mux, started and shut down in the
// usual Start/Run/Shutdown shape.
type Server struct {
	gateway    *Gateway
	config     *config.Config
	httpServer *http.Server
	watcher    *config.Watcher
	configPath string
}

// NewServer builds a Gateway from cfg and wraps it with an HTTP server
// ready to Run.
func NewServer(cfg *config.Config) (*Server, error) {
	return NewServerWithConfigPath(cfg, "")
}

// NewServerWithConfigPath is like NewServer but additionally watches
// configPath for changes and hot-reloads the route table when it's
// non-empty.
func NewServerWithConfigPath(cfg *config.Config, configPath string) (*Server, error) {
	gw, err := New(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		gateway:    gw,
		config:     cfg,
		configPath: configPath,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      buildTopMux(cfg, gw),
			ReadTimeout:  nonZero(cfg.Server.ReadTimeout, 30*time.Second),
			WriteTimeout: nonZero(cfg.Server.WriteTimeout, 30*time.Second),
		},
	}

	return s, nil
}

// buildTopMux mounts the admin surface under /api/gateway/* on the same
// listener as application traffic, next to it rather than behind it, so
// gw.Handler()'s router never has to special-case the admin prefix.
func buildTopMux(cfg *config.Config, gw *Gateway) http.Handler {
	mux := http.NewServeMux()
	if cfg.Admin.Enabled {
		mux.Handle("/api/gateway/", http.StripPrefix("/api/gateway", gw.AdminHandler()))
	}
	mux.Handle("/", gw.Handler())
	return mux
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Start launches the gateway's background discovery loops, the HTTP
// listener, and (if configured) the manifest file watcher.
func (s *Server) Start(ctx context.Context) error {
	s.gateway.Start(ctx)

	if s.configPath != "" {
		w, err := config.NewWatcher(s.configPath)
		if err != nil {
			logging.Warn("gateway: config watcher unavailable, hot-reload disabled", zap.Error(err))
		} else {
			w.OnChange(s.gateway.ReloadRoutes)
			if err := w.Start(); err != nil {
				logging.Warn("gateway: failed to start config watcher", zap.Error(err))
			} else {
				s.watcher = w
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("gateway: listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("gateway listener: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts down
// gracefully.
func (s *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info("gateway: shutting down")

	return s.Shutdown(nonZero(s.config.Server.ShutdownTimeout, 10*time.Second))
}

// Shutdown gracefully stops the listener, the watcher, and the underlying
// gateway, waiting up to timeout for in-flight requests to drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Close()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logging.Warn("gateway: listener shutdown error", zap.Error(err))
	}
	if err := s.gateway.Close(); err != nil {
		logging.Warn("gateway: close error", zap.Error(err))
		return err
	}
	logging.Info("gateway: shutdown complete")
	return nil
}

// Gateway returns the underlying Gateway.
func (s *Server) Gateway() *Gateway { return s.gateway }
