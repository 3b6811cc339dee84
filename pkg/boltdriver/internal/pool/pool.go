// Package pool implements a bounded idle-connection pool keyed by target
// address, per spec.md §4.C: acquire/release/evict_stale behind one mutex
// and condition variable, the way pkg/replication's ClusterTransport
// guards its connection map with a single RWMutex but adapted here to a
// Mutex+Cond since acquire must block (not just read) when the pool is at
// capacity for an address.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/metric"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Dialer opens a new physical connection to addr. Supplied by the caller
// (boltdriver.Driver) so this package has no knowledge of auth tokens or
// TLS configuration beyond what Config.Dial bakes in.
type Dialer func(ctx context.Context, addr string) (*conn.Connection, error)

// Config configures pool sizing and eviction, per spec.md §4.C.
type Config struct {
	MaxConnectionsPerAddress int
	MaxConnectionLifetime    time.Duration // 0 disables lifetime eviction
	MaxIdleTime              time.Duration // 0 disables idle eviction
	HealthCheckTimeout       time.Duration
	EvictionInterval         time.Duration
	// MaxEvictionsPerSweep caps how many idle connections a single sweep
	// closes, avoiding a thundering herd of reconnects (supplemented
	// behavior, see SPEC_FULL.md). 0 means unlimited.
	MaxEvictionsPerSweep int

	Dial Dialer

	Meter  metric.Meter
	Logger logr.Logger
}

type addressState struct {
	idle []*conn.Connection
	busy int
}

// Pool is a bounded idle-connection pool keyed by target address.
type Pool struct {
	cfg Config

	mu    sync.Mutex
	cond  *sync.Cond
	byAddr map[string]*addressState
	closed bool

	evictCancel context.CancelFunc
	evictDone   chan struct{}

	idleGauge   metric.Int64UpDownCounter
	busyGauge   metric.Int64UpDownCounter
	createdCtr  metric.Int64Counter
	acquireHist metric.Float64Histogram
}

// New constructs a Pool and starts its background eviction loop.
func New(cfg Config) *Pool {
	if cfg.EvictionInterval <= 0 {
		cfg.EvictionInterval = 60 * time.Second
	}
	p := &Pool{cfg: cfg, byAddr: make(map[string]*addressState)}
	p.cond = sync.NewCond(&p.mu)
	p.initMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	p.evictCancel = cancel
	p.evictDone = make(chan struct{})
	go p.evictLoop(ctx)
	return p
}

func (p *Pool) initMetrics() {
	if p.cfg.Meter == nil {
		return
	}
	p.idleGauge, _ = p.cfg.Meter.Int64UpDownCounter("boltdriver.pool.connections.idle")
	p.busyGauge, _ = p.cfg.Meter.Int64UpDownCounter("boltdriver.pool.connections.busy")
	p.createdCtr, _ = p.cfg.Meter.Int64Counter("boltdriver.pool.connections.created_total")
	p.acquireHist, _ = p.cfg.Meter.Float64Histogram("boltdriver.pool.acquire.duration")
}

// Acquire returns an idle connection for addr if one is healthy, or dials
// a new one if the address is under its per-address cap, or blocks until
// a connection is released or ctx is done.
func (p *Pool) Acquire(ctx context.Context, addr string) (*conn.Connection, error) {
	start := time.Now()
	defer func() {
		if p.acquireHist != nil {
			p.acquireHist.Record(ctx, time.Since(start).Seconds())
		}
	}()

	p.mu.Lock()
	for {
		if p.closed {
			p.mu.Unlock()
			return nil, errs.New(errs.PoolExhausted, "pool is closed")
		}
		st := p.stateFor(addr)
		for len(st.idle) > 0 {
			c := st.idle[len(st.idle)-1]
			st.idle = st.idle[:len(st.idle)-1]
			p.recordIdle(ctx, -1)
			if p.isHealthy(c) {
				st.busy++
				p.recordBusy(ctx, 1)
				p.mu.Unlock()
				return c, nil
			}
			_ = c.Terminate(false)
		}
		if p.cfg.MaxConnectionsPerAddress <= 0 || st.busy < p.cfg.MaxConnectionsPerAddress {
			st.busy++
			p.recordBusy(ctx, 1)
			p.mu.Unlock()
			c, err := p.cfg.Dial(ctx, addr)
			if err != nil {
				p.mu.Lock()
				st.busy--
				p.recordBusy(ctx, -1)
				p.mu.Unlock()
				return nil, err
			}
			if p.createdCtr != nil {
				p.createdCtr.Add(ctx, 1)
			}
			return c, nil
		}
		// At capacity: wait for a release, a close, or ctx cancellation.
		waitCh := make(chan struct{})
		go func() {
			p.mu.Lock()
			p.cond.Wait()
			p.mu.Unlock()
			close(waitCh)
		}()
		p.mu.Unlock()
		select {
		case <-waitCh:
			p.mu.Lock()
		case <-ctx.Done():
			p.cond.Broadcast() // release the helper goroutine above
			return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "acquire cancelled waiting for pool capacity at %s", addr)
		}
	}
}

func (p *Pool) stateFor(addr string) *addressState {
	st, ok := p.byAddr[addr]
	if !ok {
		st = &addressState{}
		p.byAddr[addr] = st
	}
	return st
}

func (p *Pool) isHealthy(c *conn.Connection) bool {
	if c.Defunct() {
		return false
	}
	if p.cfg.MaxConnectionLifetime > 0 && time.Since(c.CreatedAt()) > p.cfg.MaxConnectionLifetime {
		return false
	}
	if err := c.Ping(p.cfg.HealthCheckTimeout); err != nil {
		return false
	}
	return true
}

// Release returns c to the idle pool for its address, or discards it if
// defunct.
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateFor(c.Addr)
	st.busy--
	p.recordBusy(context.Background(), -1)

	if p.closed || c.Defunct() {
		p.mu.Unlock()
		_ = c.Terminate(!c.Defunct())
		p.mu.Lock()
		p.cond.Broadcast()
		return
	}
	st.idle = append(st.idle, c)
	p.recordIdle(context.Background(), 1)
	p.cond.Broadcast()
}

// Forget discards every idle connection for addr without returning them
// to service, used when routing marks an address as unreachable.
func (p *Pool) Forget(addr string) {
	p.mu.Lock()
	st, ok := p.byAddr[addr]
	if !ok {
		p.mu.Unlock()
		return
	}
	idle := st.idle
	st.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		_ = c.Terminate(true)
	}
}

func (p *Pool) recordIdle(ctx context.Context, delta int64) {
	if p.idleGauge != nil {
		p.idleGauge.Add(ctx, delta)
	}
}

func (p *Pool) recordBusy(ctx context.Context, delta int64) {
	if p.busyGauge != nil {
		p.busyGauge.Add(ctx, delta)
	}
}

// Close stops the eviction loop and closes every idle connection. Busy
// (checked-out) connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var idle []*conn.Connection
	for _, st := range p.byAddr {
		idle = append(idle, st.idle...)
		st.idle = nil
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.evictCancel()
	<-p.evictDone

	for _, c := range idle {
		_ = c.Terminate(true)
	}
	return nil
}

func (p *Pool) evictLoop(ctx context.Context) {
	defer close(p.evictDone)
	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for addr, st := range p.byAddr {
		kept := st.idle[:0]
		for _, c := range st.idle {
			if p.cfg.MaxEvictionsPerSweep > 0 && evicted >= p.cfg.MaxEvictionsPerSweep {
				kept = append(kept, c)
				continue
			}
			if p.staleUnlocked(c) {
				p.cfg.Logger.V(1).Info("evicting idle connection",
					"connection_id", c.ID, "address", addr,
					"idle_since", humanizeAge(c.LastUsedAt()),
					"created", humanizeAge(c.CreatedAt()))
				_ = c.Terminate(true)
				evicted++
				p.recordIdle(context.Background(), -1)
				continue
			}
			kept = append(kept, c)
		}
		st.idle = kept
		_ = addr
	}
}

func (p *Pool) staleUnlocked(c *conn.Connection) bool {
	if c.Defunct() {
		return true
	}
	if p.cfg.MaxConnectionLifetime > 0 && time.Since(c.CreatedAt()) > p.cfg.MaxConnectionLifetime {
		return true
	}
	if p.cfg.MaxIdleTime > 0 && time.Since(c.LastUsedAt()) > p.cfg.MaxIdleTime {
		return true
	}
	return false
}

// humanizeAge renders a timestamp's age for sweep's "evicting idle
// connection" log line.
func humanizeAge(t time.Time) string { return humanize.Time(t) }
