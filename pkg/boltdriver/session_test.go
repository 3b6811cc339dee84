package boltdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/bolttest"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/pool"
)

// newTestDriver builds a Driver whose pool dials directly into a bolttest
// fake server instead of a real TCP listener, mirroring the
// NewFromTransportForTest seam internal/conn exposes for the same reason.
func newTestDriver(t *testing.T, h bolttest.Handler) (*Driver, *bolttest.Server) {
	t.Helper()
	srv := bolttest.NewServer(conn.Version{Major: 5, Minor: 4}, h)
	dial := func(ctx context.Context, addr string) (*conn.Connection, error) {
		return conn.NewFromTransportForTest(srv.ClientConn(), conn.Config{Address: addr})
	}
	d := &Driver{
		cfg:    defaultConfig(),
		parsed: &ParsedURI{Hosts: []string{"bolttest:7687"}},
	}
	d.pool = pool.New(pool.Config{MaxConnectionsPerAddress: 4, Dial: dial})
	return d, srv
}

func TestSessionRunQueryAutoCommit(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagRun:
			return nil, map[string]any{"fields": []any{"n"}, "has_more": true}, nil
		case conn.TagPull:
			return [][]any{{int64(1)}}, map[string]any{"has_more": false, "bookmark": "bm-1"}, nil
		}
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	records, _, err := s.RunConsume(context.Background(), "RETURN 1 AS n", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	v, ok := records[0].Get("n")
	require.True(t, ok)
	require.Equal(t, int64(1), v)
	require.Equal(t, []string{"bm-1"}, s.LastBookmarks())
}

func TestSessionAutoCommitQueryClearsStaleBookmarks(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagRun:
			return nil, map[string]any{"fields": []any{"n"}, "has_more": true}, nil
		case conn.TagPull:
			return [][]any{{int64(1)}}, map[string]any{"has_more": false}, nil
		}
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	s.bookmarks = []string{"bm-stale"}
	defer s.Close(context.Background())

	_, _, err = s.RunConsume(context.Background(), "RETURN 1 AS n", nil)
	require.NoError(t, err)
	require.Empty(t, s.LastBookmarks())
}

func TestSessionRunFailureReturnsFailedStream(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		if tag == conn.TagRun {
			return nil, nil, map[string]any{"code": "Neo.ClientError.Statement.SyntaxError", "message": "bad cypher"}
		}
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	rs, err := s.RunQuery(context.Background(), "NOT CYPHER", nil)
	require.NoError(t, err)
	_, err = rs.Single(context.Background())
	require.Error(t, err)
}

func TestExplicitTransactionCommit(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagCommit:
			return nil, map[string]any{"bookmark": "bm-2"}, nil
		}
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx, nil, 0)
	require.NoError(t, err)

	_, err = tx.RunQuery(ctx, "CREATE (n)", nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	require.Equal(t, []string{"bm-2"}, s.LastBookmarks())

	// Commit after commit is rejected.
	require.Error(t, tx.Commit(ctx))
}

func TestExplicitTransactionRollbackPreservesBookmarks(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	s.bookmarks = []string{"bm-preexisting"}
	defer s.Close(context.Background())

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx, nil, 0)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	require.Equal(t, []string{"bm-preexisting"}, s.LastBookmarks())

	// Rollback after rollback is a no-op, not an error.
	require.NoError(t, tx.Rollback(ctx))
}

// TestExecuteWriteRetriesOnNetworkError scripts the first attempt's
// connection dying mid-RUN (the server half of the pipe closes before
// answering) and checks the managed-transaction loop retries on a fresh
// connection and succeeds. Network failures, not server-reported error
// codes, are the only retryable category (spec.md §4.E, §7).
func TestExecuteWriteRetriesOnNetworkError(t *testing.T) {
	attempts := 0
	var current *bolttest.Server
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagRun:
			attempts++
			if attempts == 1 {
				_ = current.CloseServer()
				return nil, map[string]any{}, nil
			}
			return nil, map[string]any{"fields": []any{"n"}, "has_more": true}, nil
		case conn.TagPull:
			return [][]any{{int64(42)}}, map[string]any{"has_more": false}, nil
		case conn.TagCommit:
			return nil, map[string]any{}, nil
		}
		return nil, map[string]any{}, nil
	}
	dial := func(ctx context.Context, addr string) (*conn.Connection, error) {
		current = bolttest.NewServer(conn.Version{Major: 5, Minor: 4}, h)
		return conn.NewFromTransportForTest(current.ClientConn(), conn.Config{Address: addr})
	}
	d := &Driver{cfg: defaultConfig(), parsed: &ParsedURI{Hosts: []string{"bolttest:7687"}}}
	d.cfg.TransactionRetryDelayInitial = 0
	d.cfg.TransactionRetryDelayMax = 0
	d.pool = pool.New(pool.Config{MaxConnectionsPerAddress: 4, Dial: dial})
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	ctx := context.Background()
	result, err := s.ExecuteWrite(ctx, func(tx *ExplicitTransaction) (any, error) {
		rs, err := tx.RunQuery(ctx, "MATCH (n) RETURN n", nil)
		if err != nil {
			return nil, err
		}
		return rs.Collect(ctx)
	})
	require.NoError(t, err)
	records := result.([]Record)
	require.Len(t, records, 1)
	require.Equal(t, 2, attempts)
}

// TestExecuteWriteDoesNotRetryServerFailure locks in that a server-reported
// failure is fatal to the call even when its code looks transient
// (Neo.TransientError...): only NetworkError is retryable here, unlike the
// routing layer's seed-retry policy.
func TestExecuteWriteDoesNotRetryServerFailure(t *testing.T) {
	attempts := 0
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagRun:
			attempts++
			return nil, nil, map[string]any{"code": "Neo.TransientError.Transaction.DeadlockDetected", "message": "deadlock"}
		case conn.TagCommit:
			return nil, map[string]any{}, nil
		}
		return nil, map[string]any{}, nil
	}
	d, _ := newTestDriver(t, h)
	d.cfg.TransactionRetryDelayInitial = 0
	d.cfg.TransactionRetryDelayMax = 0
	defer d.Close()

	s, err := d.NewSession(SessionConfig{})
	require.NoError(t, err)
	defer s.Close(context.Background())

	ctx := context.Background()
	_, err = s.ExecuteWrite(ctx, func(tx *ExplicitTransaction) (any, error) {
		rs, err := tx.RunQuery(ctx, "MATCH (n) RETURN n", nil)
		if err != nil {
			return nil, err
		}
		return rs.Collect(ctx)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
