package routing

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Dialer opens a temporary connection to addr for a ROUTE exchange. The
// manager always closes it after reading the response.
type Dialer func(ctx context.Context, addr string) (*conn.Connection, error)

// Key identifies one routing table: the database name (empty means the
// server's default database) and an optional impersonated user (Bolt
// >= 4.4; the imp_user ROUTE extra field is Bolt >= 5.1, spec.md §4.D).
type Key struct {
	Database         string
	ImpersonatedUser string
}

func (k Key) hash() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(k.Database)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(k.ImpersonatedUser)
	return h.Sum64()
}

// Manager caches one Table per Key and refreshes stale/missing tables via
// ROUTE, per spec.md §4.D.
type Manager struct {
	mu     sync.RWMutex
	tables map[uint64]*Table

	// SeedRouters, keyed by Key.Database ("" for the default-key
	// fallback), lets config override which routers are tried for a
	// given database before falling back to DefaultSeeds. Priority order
	// per spec.md §4.D: config-override for this key, then for the
	// default key, then the URI host list (DefaultSeeds).
	SeedRouters  map[string][]string
	DefaultSeeds []string

	Dial       Dialer
	DefaultTTL time.Duration
}

// NewManager constructs a Manager; dial is used for the temporary ROUTE
// connections.
func NewManager(dial Dialer, defaultSeeds []string) *Manager {
	return &Manager{
		tables:       make(map[uint64]*Table),
		SeedRouters:  make(map[string][]string),
		DefaultSeeds: defaultSeeds,
		Dial:         dial,
		DefaultTTL:   300 * time.Second,
	}
}

// GetOrRefresh returns a cached, non-stale table for key, refreshing it
// via ROUTE against the seed routers if missing or stale.
func (m *Manager) GetOrRefresh(ctx context.Context, key Key) (*Table, error) {
	h := key.hash()
	m.mu.RLock()
	t, ok := m.tables[h]
	m.mu.RUnlock()
	if ok && !t.Stale() {
		return t, nil
	}
	return m.refresh(ctx, key, h)
}

// Forget drops addr from every cached table, so a connection failure to
// addr doesn't recur until the next refresh repopulates the table.
func (m *Manager) Forget(addr string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tables {
		t.Forget(addr)
	}
}

func (m *Manager) seedsFor(key Key) []string {
	if s, ok := m.SeedRouters[key.Database]; ok && len(s) > 0 {
		return s
	}
	if s, ok := m.SeedRouters[""]; ok && len(s) > 0 {
		return s
	}
	return m.DefaultSeeds
}

func (m *Manager) refresh(ctx context.Context, key Key, h uint64) (*Table, error) {
	var lastErr error
	for _, seed := range m.seedsFor(key) {
		table, err := m.refreshFromSeed(ctx, seed, key)
		if err == nil {
			m.mu.Lock()
			m.tables[h] = table
			m.mu.Unlock()
			return table, nil
		}
		lastErr = err
		if !isSeedRetryable(err) {
			break
		}
	}
	if lastErr == nil {
		lastErr = errs.New(errs.NetworkError, "no seed routers configured for database %q", key.Database)
	}
	return nil, errs.Wrap(errs.NetworkError, lastErr, "routing table refresh failed for database %q", key.Database)
}

// isSeedRetryable decides whether refresh moves on to the next seed. A
// clean server rejection (ServerFailure, e.g.
// Neo.ClientError.Database.DatabaseNotFound) moves on exactly like a
// NetworkError does, as does an error outside the driver's categories; any
// other category (e.g. InvalidMessageFormat) stops the refresh.
func isSeedRetryable(err error) bool {
	var be *errs.Error
	if errs.As(err, &be) {
		return be.Category == errs.NetworkError || be.Category == errs.ServerFailure
	}
	return true
}

func (m *Manager) refreshFromSeed(ctx context.Context, seed string, key Key) (*Table, error) {
	c, err := m.Dial(ctx, seed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Terminate(true) }()

	summary, err := c.SendRequestReceiveStream(conn.TagRoute, []any{map[string]any{}, []any{}, routeDbArg(key, c.Version)}, nil)
	if err != nil {
		return nil, err
	}
	rt, ok := summary["rt"].(map[string]any)
	if !ok {
		return nil, errs.New(errs.InvalidMessageFormat, "ROUTE SUCCESS missing rt map")
	}
	return parseRoutingTable(rt, key.Database)
}

// routeDbArg builds ROUTE's third field: {db, imp_user} at Bolt >= 5.1,
// or a bare db string at 4.3 (spec.md §4.D).
func routeDbArg(key Key, v conn.Version) any {
	if v.AtLeast(5, 1) {
		m := map[string]any{}
		if key.Database != "" {
			m["db"] = key.Database
		}
		if key.ImpersonatedUser != "" {
			m["imp_user"] = key.ImpersonatedUser
		}
		return m
	}
	if key.Database != "" {
		return key.Database
	}
	return nil
}

func parseRoutingTable(rt map[string]any, database string) (*Table, error) {
	ttl := 300 * time.Second
	if rawTTL, ok := rt["ttl"]; ok {
		if secs, ok := rawTTL.(int64); ok && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}

	serversRaw, ok := rt["servers"].([]any)
	if !ok {
		return nil, errs.New(errs.InvalidMessageFormat, "rt.servers missing or not a list")
	}
	servers := map[Role][]string{}
	for _, sr := range serversRaw {
		entry, ok := sr.(map[string]any)
		if !ok {
			continue
		}
		roleStr, _ := entry["role"].(string)
		addrsRaw, _ := entry["addresses"].([]any)
		role := Role(roleStr)
		for _, ar := range addrsRaw {
			addrStr, ok := ar.(string)
			if !ok {
				continue
			}
			parsed, err := ParseAddress(addrStr, 7687)
			if err != nil {
				return nil, err
			}
			servers[role] = append(servers[role], parsed)
		}
	}
	return newTable(database, servers, ttl), nil
}
