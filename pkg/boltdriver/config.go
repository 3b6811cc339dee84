package boltdriver

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Config is the driver's single immutable configuration record, per
// spec.md §6.3. NewDriver builds one from functional options, mirroring
// the teacher's DefaultConfig()/LoadFromEnv() split for cluster config.
type Config struct {
	UserAgent   string
	BoltAgent   map[string]string

	Encryption          EncryptionPolicy
	TrustedCertPEMPaths []string
	ClientCertPath      string
	ClientKeyPath       string
	VerifyHostname      bool

	MaxConnectionPoolSize        int
	ConnectionAcquisitionTimeout time.Duration
	MaxConnectionLifetime        time.Duration
	IdleTimeout                  time.Duration
	IdleTimeBeforeHealthCheck    time.Duration

	TCPConnectTimeout time.Duration
	TCPKeepAlive      bool
	TCPNoDelay        bool

	MaxTransactionRetryTime       time.Duration
	TransactionRetryDelayInitial  time.Duration
	TransactionRetryDelayMultiplier float64
	TransactionRetryDelayMax      time.Duration

	ClientSideRoutingEnabled    bool
	RoutingTableRefreshMargin   time.Duration
	RoutingMaxRetryAttempts     int
	AddressResolver             func(address string) []string

	Logger         logr.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Option mutates a Config under construction.
type Option func(*Config)

// defaultConfig mirrors the teacher's DefaultConfig(), giving every field
// a production-sane value before options or env overrides apply.
func defaultConfig() Config {
	return Config{
		UserAgent: "nornicdb-bolt-driver/1.0",
		BoltAgent: map[string]string{
			"product": "nornicdb-bolt-driver/1.0",
		},
		Encryption:                      EncryptionFromScheme,
		VerifyHostname:                  true,
		MaxConnectionPoolSize:           100,
		ConnectionAcquisitionTimeout:    60 * time.Second,
		MaxConnectionLifetime:           1 * time.Hour,
		IdleTimeout:                     0,
		IdleTimeBeforeHealthCheck:       60 * time.Second,
		TCPConnectTimeout:               5 * time.Second,
		TCPKeepAlive:                    true,
		TCPNoDelay:                      true,
		MaxTransactionRetryTime:         30 * time.Second,
		TransactionRetryDelayInitial:    1 * time.Second,
		TransactionRetryDelayMultiplier: 2.0,
		TransactionRetryDelayMax:        10 * time.Second,
		ClientSideRoutingEnabled:        true,
		RoutingTableRefreshMargin:       0,
		RoutingMaxRetryAttempts:         3,
		Logger:                          logr.Discard(),
	}
}

func WithUserAgent(ua string) Option { return func(c *Config) { c.UserAgent = ua } }

func WithEncryption(p EncryptionPolicy) Option { return func(c *Config) { c.Encryption = p } }

func WithMaxConnectionPoolSize(n int) Option {
	return func(c *Config) { c.MaxConnectionPoolSize = n }
}

func WithMaxTransactionRetryTime(d time.Duration) Option {
	return func(c *Config) { c.MaxTransactionRetryTime = d }
}

func WithLogger(l logr.Logger) Option { return func(c *Config) { c.Logger = l } }

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.TracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.MeterProvider = mp }
}

func WithAddressResolver(f func(address string) []string) Option {
	return func(c *Config) { c.AddressResolver = f }
}

// newConfig applies opts over defaultConfig, the way NewDriver builds its
// effective configuration.
func newConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ConfigFromEnv loads NORNICDB_BOLT_* environment variables over
// defaultConfig(), mirroring the teacher's getEnv/getEnvInt/getEnvBool/
// getEnvDuration helper shapes in pkg/replication/config.go.
func ConfigFromEnv() Config {
	c := defaultConfig()
	c.UserAgent = getEnv("NORNICDB_BOLT_USER_AGENT", c.UserAgent)
	c.MaxConnectionPoolSize = getEnvInt("NORNICDB_BOLT_MAX_POOL_SIZE", c.MaxConnectionPoolSize)
	c.ConnectionAcquisitionTimeout = getEnvDuration("NORNICDB_BOLT_ACQUIRE_TIMEOUT", c.ConnectionAcquisitionTimeout)
	c.MaxConnectionLifetime = getEnvDuration("NORNICDB_BOLT_MAX_CONN_LIFETIME", c.MaxConnectionLifetime)
	c.IdleTimeout = getEnvDuration("NORNICDB_BOLT_IDLE_TIMEOUT", c.IdleTimeout)
	c.TCPConnectTimeout = getEnvDuration("NORNICDB_BOLT_CONNECT_TIMEOUT", c.TCPConnectTimeout)
	c.TCPKeepAlive = getEnvBool("NORNICDB_BOLT_TCP_KEEPALIVE", c.TCPKeepAlive)
	c.MaxTransactionRetryTime = getEnvDuration("NORNICDB_BOLT_MAX_TX_RETRY_TIME", c.MaxTransactionRetryTime)
	c.ClientSideRoutingEnabled = getEnvBool("NORNICDB_BOLT_ROUTING_ENABLED", c.ClientSideRoutingEnabled)
	return c
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// yamlConfig mirrors Config's file-serializable fields for
// LoadYAMLConfig; only a subset of Config makes sense in a static file
// (callers still set Logger/TracerProvider/MeterProvider/AddressResolver
// in code).
type yamlConfig struct {
	UserAgent             string `yaml:"user_agent"`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size"`
	ConnectionAcquisitionTimeoutMs int `yaml:"connection_acquisition_timeout_ms"`
	MaxConnectionLifetimeMs        int `yaml:"max_connection_lifetime_ms"`
	IdleTimeoutMs                  int `yaml:"idle_timeout_ms"`
	TCPConnectTimeoutMs            int `yaml:"tcp_connect_timeout_ms"`
	TCPKeepAliveEnabled            *bool `yaml:"tcp_keep_alive_enabled"`
	MaxTransactionRetryTimeMs      int `yaml:"max_transaction_retry_time_ms"`
	ClientSideRoutingEnabled       *bool `yaml:"client_side_routing_enabled"`
}

// LoadYAMLConfig reads a YAML config file (see yamlConfig for the
// supported keys) and layers it over defaultConfig().
func LoadYAMLConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.InvalidArgument, err, "reading config file %s", path)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, errs.Wrap(errs.InvalidArgument, err, "parsing config file %s", path)
	}
	c := defaultConfig()
	if y.UserAgent != "" {
		c.UserAgent = y.UserAgent
	}
	if y.MaxConnectionPoolSize > 0 {
		c.MaxConnectionPoolSize = y.MaxConnectionPoolSize
	}
	if y.ConnectionAcquisitionTimeoutMs > 0 {
		c.ConnectionAcquisitionTimeout = time.Duration(y.ConnectionAcquisitionTimeoutMs) * time.Millisecond
	}
	if y.MaxConnectionLifetimeMs > 0 {
		c.MaxConnectionLifetime = time.Duration(y.MaxConnectionLifetimeMs) * time.Millisecond
	}
	if y.IdleTimeoutMs > 0 {
		c.IdleTimeout = time.Duration(y.IdleTimeoutMs) * time.Millisecond
	}
	if y.TCPConnectTimeoutMs > 0 {
		c.TCPConnectTimeout = time.Duration(y.TCPConnectTimeoutMs) * time.Millisecond
	}
	if y.TCPKeepAliveEnabled != nil {
		c.TCPKeepAlive = *y.TCPKeepAliveEnabled
	}
	if y.MaxTransactionRetryTimeMs > 0 {
		c.MaxTransactionRetryTime = time.Duration(y.MaxTransactionRetryTimeMs) * time.Millisecond
	}
	if y.ClientSideRoutingEnabled != nil {
		c.ClientSideRoutingEnabled = *y.ClientSideRoutingEnabled
	}
	return c, nil
}

// tlsConfigFor builds the crypto/tls.Config for a connection's
// encryption policy, resolved from the URI scheme unless overridden.
func tlsConfigFor(policy EncryptionPolicy, uriPolicy EncryptionPolicy, host string, trustedPEMPaths []string, verifyHostname bool) (*tls.Config, error) {
	effective := policy
	if effective == EncryptionFromScheme {
		effective = uriPolicy
	}
	switch effective {
	case EncryptionPlaintext, EncryptionFromScheme:
		return nil, nil
	case EncryptionSystemCA:
		return &tls.Config{ServerName: host, InsecureSkipVerify: !verifyHostname}, nil
	case EncryptionTrustAll:
		return &tls.Config{InsecureSkipVerify: true}, nil
	case EncryptionCustomCA:
		pool := x509.NewCertPool()
		for _, p := range trustedPEMPaths {
			pem, err := os.ReadFile(p)
			if err != nil {
				return nil, errs.Wrap(errs.InvalidArgument, err, "reading trusted CA %s", p)
			}
			pool.AppendCertsFromPEM(pem)
		}
		return &tls.Config{ServerName: host, RootCAs: pool, InsecureSkipVerify: !verifyHostname}, nil
	default:
		return nil, errs.New(errs.InvalidArgument, "unknown encryption policy %d", effective)
	}
}
