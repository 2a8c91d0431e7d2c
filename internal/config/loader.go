package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Loader reads a YAML manifest, expands ${VAR} references against the
// process environment, and applies the gateway's environment-variable
// overrides on top.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a Loader ready to parse manifests.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads path, expands environment references, parses the YAML, and
// applies environment-variable overrides on top of the file contents.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return l.Parse(data)
}

// Parse expands env references in data, unmarshals it over DefaultConfig,
// and applies environment overrides.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	l.applyEnvOverrides(cfg)
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values,
// leaving the reference untouched if the variable is unset.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := l.envPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// applyEnvOverrides applies the late-stage environment overrides on top
// of whatever the manifest set. Env wins over file.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := firstNonEmpty(os.Getenv("PORT"), os.Getenv("API_GATEWAY_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.Server.NodeEnv = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SYSTEM_SERVICE_URL"); v != "" {
		cfg.Discovery.ControlPlaneURL = v
	}
	if v := durationFromMsEnv("HEALTH_CHECK_INTERVAL"); v > 0 {
		cfg.Discovery.HealthCheckInterval = v
	}
	if v := durationFromMsEnv("DISCOVERY_PROBE_INTERVAL"); v > 0 {
		cfg.Discovery.ProbeInterval = v
	}
	if v := durationFromMsEnv("SERVICE_TTL_MS"); v > 0 {
		cfg.Discovery.ServiceTTL = v
	}
	if v := durationFromMsEnv("EVICTION_INTERVAL_MS"); v > 0 {
		cfg.Discovery.EvictionInterval = v
	}

	applyCORSOverrides(&cfg.CORS)
	applyCircuitBreakerOverrides(cfg.Services)
	applyRedisOverrides(&cfg.RateLimitStore)
	cfg.CacheStore = cfg.RateLimitStore
}

// applyCircuitBreakerOverrides reads <NAME_UPPER>_CIRCUIT_BREAKER_TIMEOUT
// and its siblings for every service already present in the manifest.
func applyCircuitBreakerOverrides(services map[string]ServiceDefaults) {
	for name, svc := range services {
		prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		cb := &svc.CircuitBreaker
		if v := durationFromMsEnv(prefix + "_CIRCUIT_BREAKER_TIMEOUT"); v > 0 {
			cb.ResetTimeout = v
		}
		if v := intEnv(prefix + "_FAILURE_THRESHOLD"); v > 0 {
			cb.FailureThreshold = v
		}
		if v := intEnv(prefix + "_SUCCESS_THRESHOLD"); v > 0 {
			cb.SuccessThreshold = v
		}
		if v := durationFromMsEnv(prefix + "_RESET_TIMEOUT"); v > 0 {
			cb.ResetTimeout = v
		}
		if v := durationFromMsEnv(prefix + "_MONITORING_WINDOW"); v > 0 {
			cb.MonitoringWindow = v
		}
		if v := intEnv(prefix + "_VOLUME_THRESHOLD"); v > 0 {
			cb.VolumeThreshold = v
		}
		services[name] = svc
	}
}

func applyCORSOverrides(c *CORSConfig) {
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Origins = strings.Split(v, ",")
	}
	if v := os.Getenv("CORS_ALLOW_CREDENTIALS"); v != "" {
		c.AllowCredentials = v == "true"
	}
	if v := os.Getenv("CORS_METHODS"); v != "" {
		c.Methods = strings.Split(v, ",")
	}
	if v := os.Getenv("CORS_ALLOWED_HEADERS"); v != "" {
		c.AllowedHeaders = strings.Split(v, ",")
	}
	if v := intEnv("CORS_MAX_AGE"); v > 0 {
		c.MaxAge = v
	}
	if v := os.Getenv("CORS_DEV_WILDCARDS"); v != "" {
		c.DevWildcards = v == "true"
	}
}

// applyRedisOverrides reads the three shapes of Redis connection info:
// a single URL, discrete host/port/password, or a sentinel set.
func applyRedisOverrides(s *StoreConfig) {
	if v := os.Getenv("REDIS_URL"); v != "" {
		s.URL = v
		return
	}
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	if host != "" || port != "" {
		s.Host = host
		if p, err := strconv.Atoi(port); err == nil {
			s.Port = p
		}
		s.Password = os.Getenv("REDIS_PASSWORD")
	}
	if v := os.Getenv("REDIS_SENTINEL_HOSTS"); v != "" {
		s.SentinelHosts = strings.Split(v, ",")
		s.SentinelMaster = os.Getenv("REDIS_SENTINEL_MASTER")
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(name string) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return v
}

func durationFromMsEnv(name string) time.Duration {
	ms := intEnv(name)
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
