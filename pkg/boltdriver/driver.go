package boltdriver

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/pool"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/routing"
)

// Driver is the transport facade: it owns the connection pool and routing
// manager for one target (single host or routing cluster) and hands out
// Sessions, per spec.md §2 component I.
type Driver struct {
	cfg    Config
	parsed *ParsedURI
	auth   AuthToken

	pool    *pool.Pool
	routing *routing.Manager

	tracer trace.Tracer
}

// NewDriver parses uri and returns a Driver ready to hand out sessions.
// It does not connect eagerly; use VerifyConnectivity to fail fast.
func NewDriver(uri string, auth AuthToken, opts ...Option) (*Driver, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	cfg := newConfig(opts...)

	d := &Driver{cfg: cfg, parsed: parsed, auth: auth}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	d.tracer = tp.Tracer("github.com/orneryd/nornicdb/pkg/boltdriver")

	var mp metric.MeterProvider = cfg.MeterProvider
	var meter metric.Meter
	if mp != nil {
		meter = mp.Meter("github.com/orneryd/nornicdb/pkg/boltdriver")
	}

	d.pool = pool.New(pool.Config{
		MaxConnectionsPerAddress: cfg.MaxConnectionPoolSize,
		MaxConnectionLifetime:    cfg.MaxConnectionLifetime,
		MaxIdleTime:              cfg.IdleTimeout,
		HealthCheckTimeout:       cfg.IdleTimeBeforeHealthCheck,
		Dial:                     d.dialAddress,
		Meter:                    meter,
		Logger:                   cfg.Logger,
	})

	if parsed.Routing && cfg.ClientSideRoutingEnabled {
		d.routing = routing.NewManager(d.dialAddress, parsed.Hosts)
	}

	return d, nil
}

func (d *Driver) dialAddress(ctx context.Context, addr string) (*conn.Connection, error) {
	tlsCfg, err := tlsConfigFor(d.cfg.Encryption, d.parsed.Encryption, hostOnly(addr), d.cfg.TrustedCertPEMPaths, d.cfg.VerifyHostname)
	if err != nil {
		return nil, err
	}
	return conn.Dial(ctx, conn.Config{
		Address:          addr,
		Auth:             d.auth.toConnToken(),
		UserAgent:        d.cfg.UserAgent,
		BoltAgent:        d.cfg.BoltAgent,
		Proposals:        conn.DefaultProposals,
		TLS:              tlsCfg,
		ConnectTimeout:   d.cfg.TCPConnectTimeout,
		HandshakeTimeout: d.cfg.TCPConnectTimeout,
		Tracer:           d.tracer,
	})
}

func hostOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

// VerifyConnectivity dials and authenticates against the configured
// target (or, for a routing scheme, refreshes the default routing table)
// and reports whether the server is reachable.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	addr, err := d.selectAddress(ctx, "", "", routing.RoleWrite)
	if err != nil {
		return err
	}
	c, err := d.pool.Acquire(ctx, addr)
	if err != nil {
		return err
	}
	defer d.pool.Release(c)
	return c.Ping(d.cfg.IdleTimeBeforeHealthCheck)
}

// selectAddress implements spec.md §4.D's select(db, imp_user, role):
// direct URI host for non-routing schemes, otherwise a get-or-refresh
// routing-table lookup.
func (d *Driver) selectAddress(ctx context.Context, database, impersonatedUser string, role routing.Role) (string, error) {
	if d.routing == nil {
		return d.parsed.Hosts[0], nil
	}
	table, err := d.routing.GetOrRefresh(ctx, routing.Key{Database: database, ImpersonatedUser: impersonatedUser})
	if err != nil {
		return "", err
	}
	addr, ok := table.Select(role)
	if !ok {
		return "", errs.New(errs.NetworkError, "routing table has no %s servers for database %q", role, database)
	}
	if d.cfg.AddressResolver != nil {
		resolved := d.cfg.AddressResolver(addr)
		if len(resolved) > 0 {
			addr = resolved[0]
		}
	}
	return addr, nil
}

// AccessMode selects read or write routing/BEGIN semantics for a session.
type AccessMode int

const (
	AccessModeWrite AccessMode = iota
	AccessModeRead
)

func (m AccessMode) routingRole() routing.Role {
	if m == AccessModeRead {
		return routing.RoleRead
	}
	return routing.RoleWrite
}

// SessionConfig is spec.md §6.3's session parameters.
type SessionConfig struct {
	Database         string
	AccessMode       AccessMode
	Bookmarks        []string
	ImpersonatedUser string
	// FetchSize is the default PULL batch size; -1 means "all" (a single
	// PULL with n=-1). NewSession replaces 0 with the default of 1000, so 0
	// is not rejected there; validate rejects 0 and negatives other than -1.
	FetchSize int
}

const defaultFetchSize = 1000

func (sc SessionConfig) validate() error {
	if sc.FetchSize == 0 || sc.FetchSize < -1 {
		return errs.New(errs.InvalidArgument, "fetch size must be positive or -1 (all), got %d", sc.FetchSize)
	}
	return nil
}

// NewSession constructs a Session bound to this driver. The session does
// not acquire a connection until its first operation.
func (d *Driver) NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.FetchSize == 0 {
		cfg.FetchSize = defaultFetchSize
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Session{
		driver:    d,
		cfg:       cfg,
		bookmarks: append([]string(nil), cfg.Bookmarks...),
	}, nil
}

// Close releases all pooled connections and stops background eviction.
func (d *Driver) Close() error {
	return d.pool.Close()
}

// forgetAddress is called by conn/pool error paths (via Session) when a
// connection to addr proves unreachable, so routing drops it until the
// next refresh.
func (d *Driver) forgetAddress(addr string) {
	d.pool.Forget(addr)
	if d.routing != nil {
		d.routing.Forget(addr)
	}
}
