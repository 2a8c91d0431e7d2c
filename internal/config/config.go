// Package config loads the gateway's static manifest: routes, service
// defaults, discovery settings, and the ambient server/logging/admin
// surface.
package config

import "time"

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Discovery DiscoveryConfig          `yaml:"discovery"`
	Services  map[string]ServiceDefaults `yaml:"services"`
	Routes    []RouteConfig            `yaml:"routes"`
	CORS      CORSConfig               `yaml:"cors"`
	Logging   LoggingConfig            `yaml:"logging"`
	Admin     AdminConfig              `yaml:"admin"`
	RateLimitStore StoreConfig         `yaml:"rate_limit_store"`
	CacheStore     StoreConfig         `yaml:"cache_store"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	NodeEnv         string        `yaml:"node_env"`
	RequestBudget   time.Duration `yaml:"request_budget"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DiscoveryConfig configures the two discovery modes.
type DiscoveryConfig struct {
	ControlPlaneURL    string            `yaml:"control_plane_url"`
	HealthCheckInterval time.Duration    `yaml:"health_check_interval"`
	ProbeInterval      time.Duration     `yaml:"probe_interval"`
	ServiceTTL         time.Duration     `yaml:"service_ttl"`
	EvictionInterval   time.Duration     `yaml:"eviction_interval"`
	// PortRegistry resolves a well-known service name to a port for the
	// static fallback and as a last-resort port source for dynamic
	// descriptors that omit one. Modeled as a first-class input rather
	// than a hidden global.
	PortRegistry map[string]int `yaml:"port_registry"`
	// StaticServices lists the well-known service names materialized by
	// the static fallback step when the control plane is unavailable.
	StaticServices []string `yaml:"static_services"`
}

// ServiceDefaults holds the policy bundle a route inherits unless
// overridden, plus the circuit breaker configuration for that service.
type ServiceDefaults struct {
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Auth           AuthConfig           `yaml:"auth"`
	Logging        LogPolicyConfig      `yaml:"logging"`
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Timeout        time.Duration        `yaml:"timeout"`
}

// RouteConfig is one entry in the static route manifest.
type RouteConfig struct {
	ID          string   `yaml:"id"`
	Path        string   `yaml:"path"`
	ServiceName string   `yaml:"service_name"`
	ServiceTags []string `yaml:"service_tags"`
	RewritePath string   `yaml:"rewrite_path"`
	StripPrefix bool     `yaml:"strip_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	AuthRequired bool    `yaml:"auth_required"`
	StaticHeaders map[string]string `yaml:"static_headers"`

	// Policy overrides; nil means "inherit service default", and each
	// pointer's Disabled=true means "explicitly off".
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Auth      *AuthConfig      `yaml:"auth"`
	Logging   *LogPolicyConfig `yaml:"logging"`
	Cache     *CacheConfig     `yaml:"cache"`
}

// RateLimitConfig is the rate-limit facet of a resolved policy.
type RateLimitConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Preset      string        `yaml:"preset"` // default, strict, lenient, none
	WindowMs    int64         `yaml:"window_ms"`
	MaxRequests int           `yaml:"max_requests"`
	KeyType     string        `yaml:"key_type"` // per-user, per-ip, global
	Segment     string        `yaml:"segment"`
}

// AuthConfig is the auth-projection facet of a resolved policy.
type AuthConfig struct {
	Disabled      bool     `yaml:"disabled"`
	Required      bool     `yaml:"required"`
	InjectUserID  bool     `yaml:"inject_user_id"`
	Scopes        []string `yaml:"scopes"`
	AllowGuest    bool     `yaml:"allow_guest"`
}

// LogPolicyConfig is the logging facet of a resolved policy.
type LogPolicyConfig struct {
	Disabled            bool     `yaml:"disabled"`
	Level               string   `yaml:"level"`
	IncludeRequestBody  bool     `yaml:"include_request_body"`
	IncludeResponseBody bool     `yaml:"include_response_body"`
	Tags                []string `yaml:"tags"`
	CorrelationHeader   string   `yaml:"correlation_header"`
}

// CacheConfig is the cache facet of a resolved policy.
type CacheConfig struct {
	Disabled     bool          `yaml:"disabled"`
	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	StaleWindow  time.Duration `yaml:"stale_window"`
	VaryHeaders  []string      `yaml:"vary_headers"`
}

// CircuitBreakerConfig is the per-service breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`
	VolumeThreshold  int           `yaml:"volume_threshold"`
}

// CORSConfig configures the CORS middleware's env-overridable surface.
type CORSConfig struct {
	Origins          []string `yaml:"origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	Methods          []string `yaml:"methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	MaxAge           int      `yaml:"max_age"`
	DevWildcards     bool     `yaml:"dev_wildcards"`
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// AdminConfig configures the introspection surface.
type AdminConfig struct {
	Enabled         bool `yaml:"enabled"`
	DebugEndpoints  bool `yaml:"debug_endpoints"`
}

// StoreConfig configures a shared backing store (Redis) for rate-limit
// counters or cache entries. When URL, Host and SentinelHosts are all
// empty, the in-process store is used.
type StoreConfig struct {
	URL              string   `yaml:"url"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	Password         string   `yaml:"password"`
	SentinelHosts    []string `yaml:"sentinel_hosts"`
	SentinelMaster   string   `yaml:"sentinel_master"`
}

// DefaultConfig returns a configuration with sane defaults: 60s health
// check interval, 45s probe interval, 1h service TTL, 5m eviction
// interval, 30s request budget.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			NodeEnv:         "development",
			RequestBudget:   30 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			HealthCheckInterval: 60 * time.Second,
			ProbeInterval:       45 * time.Second,
			ServiceTTL:          time.Hour,
			EvictionInterval:    5 * time.Minute,
			PortRegistry:        map[string]int{},
		},
		Services: map[string]ServiceDefaults{},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled: true,
		},
	}
}
