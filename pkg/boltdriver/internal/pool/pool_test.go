package pool_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/bolttest"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/pool"
)

func dialFake(ctx context.Context, addr string) (*conn.Connection, error) {
	srv := bolttest.NewServer(conn.Version{Major: 5, Minor: 4}, nil)
	return conn.NewFromTransportForTest(srv.ClientConn(), conn.Config{
		Address:   addr,
		UserAgent: "nornicdb-bolt-driver/test",
		Proposals: conn.DefaultProposals,
	})
}

func TestAcquireDialsNewWithinCap(t *testing.T) {
	p := pool.New(pool.Config{MaxConnectionsPerAddress: 2, Dial: dialFake})
	defer p.Close()

	c1, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)
	require.NotEqual(t, c1.ID, c2.ID)
}

func TestReleaseReturnsToIdleAndIsReacquired(t *testing.T) {
	p := pool.New(pool.Config{MaxConnectionsPerAddress: 1, Dial: dialFake})
	defer p.Close()

	c1, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)
	firstID := c1.ID
	p.Release(c1)

	c2, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)
	require.Equal(t, firstID, c2.ID, "expected the released connection to be reused")
}

func TestAcquireBlocksAtCapacityUntilRelease(t *testing.T) {
	p := pool.New(pool.Config{MaxConnectionsPerAddress: 1, Dial: dialFake})
	defer p.Close()

	c1, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "a:7687")
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("acquire should have blocked while pool is at capacity")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(c1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := pool.New(pool.Config{MaxConnectionsPerAddress: 1, Dial: dialFake})
	defer p.Close()

	_, err := p.Acquire(context.Background(), "a:7687")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "a:7687")
	require.Error(t, err)
}
