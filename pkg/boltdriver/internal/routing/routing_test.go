package routing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/bolttest"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/routing"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"neo4j://foo.bar:7688", "foo.bar:7688"},
		{"foo.bar", "foo.bar:7687"},
		{"[::1]:7687", "[::1]:7687"},
		{"[::1]", "[::1]:7687"},
		{"user:pass@foo.bar:7687", "foo.bar:7687"},
	}
	for _, c := range cases {
		got, err := routing.ParseAddress(c.in, 7687)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func routeDialer(addr string) routing.Dialer {
	return func(ctx context.Context, a string) (*conn.Connection, error) {
		h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
			if tag != conn.TagRoute {
				return nil, map[string]any{}, nil
			}
			return nil, map[string]any{
				"rt": map[string]any{
					"ttl": int64(300),
					"servers": []any{
						map[string]any{"role": "ROUTE", "addresses": []any{"10.0.0.1:7687"}},
						map[string]any{"role": "READ", "addresses": []any{"10.0.0.2:7687", "10.0.0.3:7687"}},
						map[string]any{"role": "WRITE", "addresses": []any{"10.0.0.1:7687"}},
					},
				},
			}, nil
		}
		srv := bolttest.NewServer(conn.Version{Major: 5, Minor: 4}, h)
		return conn.NewFromTransportForTest(srv.ClientConn(), conn.Config{
			Address:   addr,
			UserAgent: "nornicdb-bolt-driver/test",
			Proposals: conn.DefaultProposals,
		})
	}
}

func TestGetOrRefreshParsesTable(t *testing.T) {
	m := routing.NewManager(routeDialer("seed:7687"), []string{"seed:7687"})
	tbl, err := m.GetOrRefresh(context.Background(), routing.Key{})
	require.NoError(t, err)

	addr, ok := tbl.Select(routing.RoleWrite)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:7687", addr)

	r1, _ := tbl.Select(routing.RoleRead)
	r2, _ := tbl.Select(routing.RoleRead)
	require.NotEqual(t, r1, r2, "expected round robin across read replicas")
}

func TestForgetRemovesAddressFromCachedTable(t *testing.T) {
	m := routing.NewManager(routeDialer("seed:7687"), []string{"seed:7687"})
	tbl, err := m.GetOrRefresh(context.Background(), routing.Key{})
	require.NoError(t, err)

	m.Forget("10.0.0.1:7687")
	_, ok := tbl.Select(routing.RoleWrite)
	require.False(t, ok, "expected forgotten address to be removed from the write role")
}
