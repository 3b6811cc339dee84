package routing

import (
	"sync"
	"time"
)

// Role is a server's role within a routing table, per spec.md §4.D.
type Role string

const (
	RoleRoute Role = "ROUTE"
	RoleRead  Role = "READ"
	RoleWrite Role = "WRITE"
)

// Table is one routing table: a set of addresses per role plus an
// expiry. It is protected by its own RWMutex so readers selecting an
// address don't contend with the manager's table-map lock, per spec.md
// §5's "separate mutex for the table map vs. each table" note.
type Table struct {
	mu       sync.RWMutex
	database string
	servers  map[Role][]string
	expiry   time.Time

	nextRead  int
	nextWrite int
	nextRoute int
}

func newTable(database string, servers map[Role][]string, ttl time.Duration) *Table {
	return &Table{
		database: database,
		servers:  servers,
		expiry:   time.Now().Add(ttl),
	}
}

// Stale reports whether the table's TTL has elapsed.
func (t *Table) Stale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return time.Now().After(t.expiry)
}

// Select returns the next address for role using round-robin, or false if
// the table has no servers for that role.
func (t *Table) Select(role Role) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addrs := t.servers[role]
	if len(addrs) == 0 {
		return "", false
	}
	var idx *int
	switch role {
	case RoleRead:
		idx = &t.nextRead
	case RoleWrite:
		idx = &t.nextWrite
	default:
		idx = &t.nextRoute
	}
	a := addrs[*idx%len(addrs)]
	*idx++
	return a, true
}

// Forget removes addr from every role in the table, used when a
// connection attempt to addr fails so it is not selected again before the
// next refresh.
func (t *Table) Forget(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for role, addrs := range t.servers {
		kept := addrs[:0]
		for _, a := range addrs {
			if a != addr {
				kept = append(kept, a)
			}
		}
		t.servers[role] = kept
	}
}

// Addresses returns a copy of the table's address list for role.
func (t *Table) Addresses(role Role) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.servers[role]))
	copy(out, t.servers[role])
	return out
}
