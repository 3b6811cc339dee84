package conn_test

import (
	"testing"
	"time"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/bolttest"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
)

func dialFake(t *testing.T, v conn.Version, h bolttest.Handler) *conn.Connection {
	t.Helper()
	srv := bolttest.NewServer(v, h)
	c, err := conn.NewFromTransportForTest(srv.ClientConn(), conn.Config{
		Address:   "bolttest",
		UserAgent: "nornicdb-bolt-driver/test",
		Proposals: conn.DefaultProposals,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func TestHandshakeAndAuthReachesReady(t *testing.T) {
	c := dialFake(t, conn.Version{Major: 5, Minor: 4}, nil)
	if c.State() != conn.Ready {
		t.Fatalf("expected Ready after auth, got %s", c.State())
	}
	if c.Version.Major != 5 || c.Version.Minor != 4 {
		t.Fatalf("unexpected negotiated version: %+v", c.Version)
	}
}

func TestHandshakeAndAuthReachesReadyPre51(t *testing.T) {
	// Bolt < 5.1 folds auth into HELLO and has no LOGON phase, so the
	// post-HELLO state must land directly on Ready.
	c := dialFake(t, conn.Version{Major: 3, Minor: 0}, nil)
	if c.State() != conn.Ready {
		t.Fatalf("expected Ready after HELLO on a pre-5.1 connection, got %s", c.State())
	}

	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		if tag == conn.TagRun {
			return nil, map[string]any{"fields": []any{"n"}, "has_more": false}, nil
		}
		return nil, map[string]any{}, nil
	}
	c = dialFake(t, conn.Version{Major: 3, Minor: 0}, h)
	if _, err := c.SendRequestReceiveStream(conn.TagRun, []any{"RETURN 1", map[string]any{}, map[string]any{}}, nil); err != nil {
		t.Fatalf("RUN on a pre-5.1 connection should be legal immediately after HELLO: %v", err)
	}
}

func TestRunThenStreamingThenReady(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		switch tag {
		case conn.TagRun:
			return nil, map[string]any{"fields": []any{"n"}, "has_more": true}, nil
		case conn.TagPull:
			return [][]any{{int64(1)}}, map[string]any{"has_more": false}, nil
		}
		return nil, map[string]any{}, nil
	}
	c := dialFake(t, conn.Version{Major: 5, Minor: 4}, h)

	var got []any
	summary, err := c.SendRequestReceiveStream(conn.TagRun, []any{"RETURN 1", map[string]any{}, map[string]any{}}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.State() != conn.Streaming {
		t.Fatalf("expected Streaming after RUN with has_more, got %s", c.State())
	}
	_ = summary

	_, err = c.SendRequestReceiveStream(conn.TagPull, []any{map[string]any{"n": int64(1000)}}, func(fields []any) error {
		got = append(got, fields...)
		return nil
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if c.State() != conn.Ready {
		t.Fatalf("expected Ready after PULL with has_more false, got %s", c.State())
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record field, got %v", got)
	}
}

func TestServerFailureTransitionsToInterrupted(t *testing.T) {
	h := func(tag byte, fields []any) ([][]any, map[string]any, map[string]any) {
		return nil, nil, map[string]any{"code": "Neo.ClientError.Statement.SyntaxError", "message": "bad"}
	}
	c := dialFake(t, conn.Version{Major: 5, Minor: 4}, h)

	_, err := c.SendRequestReceiveStream(conn.TagRun, []any{"NOPE", map[string]any{}, map[string]any{}}, nil)
	if err == nil {
		t.Fatal("expected ServerFailure error")
	}
	if c.State() != conn.Interrupted {
		t.Fatalf("expected Interrupted after FAILURE, got %s", c.State())
	}
}

func TestPingSendsResetAndReturnsToReady(t *testing.T) {
	c := dialFake(t, conn.Version{Major: 5, Minor: 4}, nil)
	if err := c.Ping(2 * time.Second); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if c.State() != conn.Ready {
		t.Fatalf("expected Ready after RESET, got %s", c.State())
	}
}
