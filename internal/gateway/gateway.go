// Package gateway wires every other package into the running process:
// it builds the router from the static manifest, starts discovery's two
// background loops, resolves and materializes each route's policy chain,
// and exposes one http.Handler that the HTTP server in server.go listens
// with. A single collaborator-holding struct built once at startup and
// served from then on, HTTP-only, with exactly two discovery modes.
package gateway

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgeway/gateway/internal/admin"
	"github.com/edgeway/gateway/internal/breaker"
	"github.com/edgeway/gateway/internal/cache"
	"github.com/edgeway/gateway/internal/config"
	"github.com/edgeway/gateway/internal/discovery"
	"github.com/edgeway/gateway/internal/gwerrors"
	"github.com/edgeway/gateway/internal/identity"
	"github.com/edgeway/gateway/internal/logging"
	"github.com/edgeway/gateway/internal/metrics"
	"github.com/edgeway/gateway/internal/middleware"
	"github.com/edgeway/gateway/internal/middleware/cors"
	"github.com/edgeway/gateway/internal/policy"
	"github.com/edgeway/gateway/internal/proxy"
	"github.com/edgeway/gateway/internal/ratelimit"
	"github.com/edgeway/gateway/internal/registry"
	"github.com/edgeway/gateway/internal/router"
)

// Gateway holds every collaborator the request pipeline needs and the
// per-route middleware chains materialized from the policy layer.
type Gateway struct {
	config     *config.Config
	router     *router.Router
	registry   *registry.Registry
	discoverer *discovery.Discoverer
	breakers   *breaker.Manager
	engine     *proxy.Engine
	collab     policy.Collaborators
	cors       *cors.Handler
	admin      *admin.Handler
	metrics    *metrics.Collector
	cacheStore cache.Store
	limiter    ratelimit.Limiter
	logCloser  interface{ Close() error }

	mu     sync.RWMutex
	chains map[string][]middleware.Middleware // routeID -> materialized policy chain
}

// New builds a Gateway from cfg but does not start its background loops;
// call Start to do that.
func New(cfg *config.Config) (*Gateway, error) {
	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobal(logger)

	reg := registry.New()
	disc := discovery.New(cfg.Discovery, reg, nil)

	breakerDefaults, perService := splitBreakerConfigs(cfg.Services)
	breakers := breaker.NewManager(breakerDefaults, perService)

	metricsCollector := metrics.NewCollector()
	cacheStore := buildCacheStore(cfg.CacheStore)
	limiter := buildLimiter(cfg.RateLimitStore)
	signer := identity.NewSigner(os.Getenv("GATEWAY_SIGNING_SECRET"))

	rt := router.New()
	for _, rc := range cfg.Routes {
		rt.AddRoute(proxy.RouteConfigFromStatic(rc))
	}

	engine := proxy.NewEngine(rt, reg, breakers, signer, metricsCollector, cfg.Discovery.PortRegistry, cfg.Server.RequestBudget)

	gw := &Gateway{
		config:     cfg,
		router:     rt,
		registry:   reg,
		discoverer: disc,
		breakers:   breakers,
		engine:     engine,
		cors:       cors.New(cfg.CORS),
		metrics:    metricsCollector,
		cacheStore: cacheStore,
		limiter:    limiter,
		logCloser:  closer,
		chains:     make(map[string][]middleware.Middleware),
	}
	gw.collab = policy.Collaborators{Limiter: limiter, Cache: cacheStore, Signer: signer, Metrics: metricsCollector}
	gw.admin = &admin.Handler{
		Router:     rt,
		Registry:   reg,
		Discoverer: disc,
		Breaker:    breakers,
		Cache:      cacheStore,
		Metrics:    metricsCollector,
		NodeEnv:    cfg.Server.NodeEnv,
		Debug:      cfg.Admin.DebugEndpoints,
	}
	gw.admin.OnRouteChange = gw.RebuildChains

	gw.rebuildChains()
	return gw, nil
}

func splitBreakerConfigs(services map[string]config.ServiceDefaults) (config.CircuitBreakerConfig, map[string]config.CircuitBreakerConfig) {
	perService := make(map[string]config.CircuitBreakerConfig, len(services))
	for name, svc := range services {
		perService[name] = svc.CircuitBreaker
	}
	return config.CircuitBreakerConfig{}, perService
}

func buildCacheStore(cfg config.StoreConfig) cache.Store {
	if client := redisClientFor(cfg); client != nil {
		return cache.NewRedisStore(client, "gw:cache:", 0)
	}
	return cache.NewMemoryStore(10000, time.Hour)
}

func buildLimiter(cfg config.StoreConfig) ratelimit.Limiter {
	if client := redisClientFor(cfg); client != nil {
		return ratelimit.NewRedisLimiter(client)
	}
	return ratelimit.NewMemoryLimiter()
}

// redisClientFor returns nil when no store is configured, so callers fall
// back to their in-process implementation rather than hard-depending on
// Redis being present.
func redisClientFor(cfg config.StoreConfig) *redis.Client {
	switch {
	case cfg.URL != "":
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			logging.Warn("gateway: invalid REDIS_URL, using in-process store", zap.Error(err))
			return nil
		}
		return redis.NewClient(opts)
	case len(cfg.SentinelHosts) > 0:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelHosts,
			Password:      cfg.Password,
		})
	case cfg.Host != "":
		return redis.NewClient(&redis.Options{
			Addr:     addr(cfg.Host, cfg.Port),
			Password: cfg.Password,
		})
	default:
		return nil
	}
}

func addr(host string, port int) string {
	if port == 0 {
		port = 6379
	}
	return host + ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// rebuildChains resolves and materializes the policy chain for every
// currently registered route. Called at startup and after any admin
// route mutation or config reload.
func (gw *Gateway) rebuildChains() {
	next := make(map[string][]middleware.Middleware)
	for _, rt := range gw.router.Routes() {
		defaults := gw.config.Services[rt.ServiceName]
		routeCfg := gw.routeConfigFor(rt.ID)
		resolved := policy.Resolve(defaults, routeCfg)
		next[rt.ID] = policy.Materialize(resolved, rt.ID, gw.collab)
	}
	gw.mu.Lock()
	gw.chains = next
	gw.mu.Unlock()
}

// routeConfigFor recovers the static manifest entry matching a router
// route's ID, used to find its policy overrides. Routes added at runtime
// via the admin API have no manifest entry and so inherit only the
// service default.
func (gw *Gateway) routeConfigFor(id string) config.RouteConfig {
	for _, rc := range gw.config.Routes {
		if rc.ID == id {
			return rc
		}
	}
	return config.RouteConfig{ID: id}
}

// Start launches discovery's background loops.
func (gw *Gateway) Start(ctx context.Context) {
	gw.discoverer.Start(ctx)
}

// Close stops background loops and releases pooled resources.
func (gw *Gateway) Close() error {
	gw.discoverer.Stop()
	gw.engine.Transports.CloseIdleConnections()
	logging.Sync()
	if gw.logCloser != nil {
		return gw.logCloser.Close()
	}
	return nil
}

// Handler builds the gateway's single HTTP entrypoint: the ambient chain
// (recovery, request-id, access log, CORS) wraps per-request routing,
// which in turn selects and runs each route's own materialized policy
// chain in front of the forward engine.
func (gw *Gateway) Handler() http.Handler {
	builder := middleware.NewBuilder().
		Use(middleware.Recovery()).
		Use(middleware.RequestID()).
		Use(middleware.Logging()).
		UseIf(gw.cors.IsEnabled(), gw.cors.Middleware)

	return builder.HandlerFunc(gw.route)
}

// route resolves the incoming request to a route exactly once, looks up
// that route's materialized policy chain, and runs the chain with the
// forward engine as its terminal handler.
func (gw *Gateway) route(w http.ResponseWriter, r *http.Request) {
	match := gw.router.Match(r)
	if match == nil {
		gwerrors.ErrNotFound.WithRequestID(middleware.GetRequestID(r)).WriteJSON(w)
		return
	}

	gw.mu.RLock()
	chain := gw.chains[match.Route.ID]
	gw.mu.RUnlock()

	terminal := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gw.engine.ServeMatched(w, r, match)
	})

	middleware.NewChain(chain...).Then(terminal).ServeHTTP(w, r)
}

// AdminHandler returns the read-only/control introspection surface,
// mounted separately by the server under /api/gateway.
func (gw *Gateway) AdminHandler() http.Handler {
	return gw.admin.Mux()
}

// Router exposes the route table for callers (admin mutation handlers)
// that need to add/remove routes and then trigger a chain rebuild.
func (gw *Gateway) Router() *router.Router { return gw.router }

// RebuildChains re-resolves every route's policy after an admin mutation
// or config reload.
func (gw *Gateway) RebuildChains() { gw.rebuildChains() }

// ReloadRoutes replaces the static route manifest with next's (re-adding
// every route is idempotent, and any route present in the old manifest
// but absent from next is removed), then rebuilds every policy chain
// against the new manifest. Only the route table reloads — in-flight
// circuit breaker state and cached entries are untouched.
func (gw *Gateway) ReloadRoutes(next *config.Config) {
	gw.mu.Lock()
	prev := gw.config.Routes
	gw.config = next
	gw.mu.Unlock()

	seen := make(map[string]bool, len(next.Routes))
	for _, rc := range next.Routes {
		gw.router.AddRoute(proxy.RouteConfigFromStatic(rc))
		seen[rc.ID] = true
	}
	for _, rc := range prev {
		if !seen[rc.ID] {
			gw.router.RemoveRoute(rc.ID)
		}
	}
	gw.rebuildChains()
}

// Registry exposes the service registry for diagnostics.
func (gw *Gateway) Registry() *registry.Registry { return gw.registry }

// Metrics exposes the routing metrics collector.
func (gw *Gateway) Metrics() *metrics.Collector { return gw.metrics }
