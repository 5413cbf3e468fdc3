package push

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

const (
	// ProductionHost is the gateway used for released applications.
	ProductionHost = "api.push.example.com"
	// DevelopmentHost is the gateway used for development builds.
	DevelopmentHost = "api.development.push.example.com"
	// GatewayPort is the TLS port of both gateways.
	GatewayPort = "443"

	defaultIdleTimeout     = 600 * time.Second
	defaultReapInterval    = 60 * time.Second
	defaultMonitorInterval = 1 * time.Second
	defaultShutdownGrace   = 5 * time.Second
	defaultDialTimeout     = 30 * time.Second

	// maxStaleRetries bounds how many closed pool members one borrow discards
	// before it dials a fresh connection instead.
	maxStaleRetries = 8
)

// Config holds the caller supplied parameters for opening a Session.
type Config struct {
	KeyPath  string
	CertPath string
	CAPath   string
	// Development selects DevelopmentHost instead of ProductionHost.
	Development bool
	// MaxConcurrentStreams caps the in-flight sends carried by one connection.
	MaxConcurrentStreams int
	// Topic identifies the target application (sent as apns-topic).
	Topic []byte
}

// ConnectionInfo describes how to reach and authenticate to one gateway
// endpoint. It is built once by Open and only ever copied afterwards.
type ConnectionInfo struct {
	CertPath             string
	KeyPath              string
	CAPath               string
	Host                 string
	Addr                 string
	MaxConcurrentStreams int
	Topic                []byte
}

func newConnectionInfo(cfg Config) (ConnectionInfo, error) {
	if cfg.MaxConcurrentStreams <= 0 {
		return ConnectionInfo{}, fmt.Errorf("%w: max concurrent streams must be positive, got %d", ErrInvalidConfig, cfg.MaxConcurrentStreams)
	}
	if len(cfg.Topic) == 0 {
		return ConnectionInfo{}, fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	host := ProductionHost
	if cfg.Development {
		host = DevelopmentHost
	}
	topic := make([]byte, len(cfg.Topic))
	copy(topic, cfg.Topic)
	return ConnectionInfo{
		CertPath:             cfg.CertPath,
		KeyPath:              cfg.KeyPath,
		CAPath:               cfg.CAPath,
		Host:                 host,
		Addr:                 net.JoinHostPort(host, GatewayPort),
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		Topic:                topic,
	}, nil
}

type options struct {
	host            string
	addr            string
	idleTimeout     time.Duration
	reapInterval    time.Duration
	monitorInterval time.Duration
	shutdownGrace   time.Duration
	dial            DialFunc
}

// Option tunes a Session beyond the gateway defaults.
type Option func(*options)

// WithEndpoint overrides the gateway host (used for SNI and :authority) and
// the network address that is dialed.
func WithEndpoint(host, addr string) Option {
	return func(o *options) {
		o.host = host
		o.addr = addr
	}
}

// WithIdleTimeout sets how long a pooled connection may stay unused before
// the reaper closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithReapInterval sets how often the reaper scans the pool.
func WithReapInterval(d time.Duration) Option {
	return func(o *options) { o.reapInterval = d }
}

// WithMonitorInterval sets how often each connection checks its link state.
func WithMonitorInterval(d time.Duration) Option {
	return func(o *options) { o.monitorInterval = d }
}

// WithDialer replaces the TLS/HTTP2 dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

func defaultOptions() options {
	return options{
		idleTimeout:     defaultIdleTimeout,
		reapInterval:    defaultReapInterval,
		monitorInterval: defaultMonitorInterval,
		shutdownGrace:   defaultShutdownGrace,
		dial:            dialLink,
	}
}

func (o options) apply(info *ConnectionInfo, logger *slog.Logger) {
	if o.host != "" {
		info.Host = o.host
		info.Addr = net.JoinHostPort(o.host, GatewayPort)
	}
	if o.addr != "" {
		info.Addr = o.addr
	}
	logger.Debug("Resolved gateway endpoint", "host", info.Host, "addr", info.Addr)
}
