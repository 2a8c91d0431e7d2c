package proxy

import (
	"net"
	"net/http"
	"time"
)

// TransportConfig configures a single outbound HTTP transport.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultTransportConfig is used for any service without an explicit
// transport override.
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost:  10,
	IdleConnTimeout:      90 * time.Second,
	DialTimeout:          10 * time.Second,
	TLSHandshakeTimeout:  5 * time.Second,
}

// NewTransport builds an *http.Transport from cfg.
func NewTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// TransportPool hands out a shared *http.Transport per service name, so
// connections to a given backend are kept alive and reused across
// requests instead of being rebuilt per call.
type TransportPool struct {
	defaultTransport http.RoundTripper
	transports       map[string]http.RoundTripper
}

// NewTransportPool creates a pool backed by DefaultTransportConfig.
func NewTransportPool() *TransportPool {
	return &TransportPool{
		defaultTransport: NewTransport(DefaultTransportConfig),
		transports:       make(map[string]http.RoundTripper),
	}
}

// Get returns the transport for serviceName, or the pool's default if
// none was registered.
func (tp *TransportPool) Get(serviceName string) http.RoundTripper {
	if serviceName != "" {
		if t, ok := tp.transports[serviceName]; ok {
			return t
		}
	}
	return tp.defaultTransport
}

// Set installs a dedicated transport for serviceName.
func (tp *TransportPool) Set(serviceName string, cfg TransportConfig) {
	tp.transports[serviceName] = NewTransport(cfg)
}

// CloseIdleConnections releases idle connections on every transport in
// the pool, called on graceful shutdown.
func (tp *TransportPool) CloseIdleConnections() {
	if t, ok := tp.defaultTransport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	for _, rt := range tp.transports {
		if t, ok := rt.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
}
