package boltdriver

import (
	"context"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Record is one RECORD's fields, paired with the field-name list from the
// RUN SUCCESS that started the stream.
type Record struct {
	Keys   []string
	Values []any
}

// Get returns the value for a field name, and whether it was present.
func (r Record) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// ResultStream is a per-query record iterator, per spec.md §4.E /
// §3 "ResultStream state": it buffers RECORDs fetched via PULL, drives
// further PULL/DISCARD, and produces a typed summary.
type ResultStream struct {
	session *Session
	conn    *conn.Connection

	fields []string
	qid    int64

	haveQID       bool
	serverHasMore bool
	isAutoCommit  bool

	buffered []Record
	consumed bool
	closed   bool

	runSummary   map[string]any
	finalSummary map[string]any

	failErr error
}

func newFailedResultStream(s *Session, err error) *ResultStream {
	return &ResultStream{session: s, failErr: err, consumed: true, closed: true}
}

// Keys returns the field names from the RUN SUCCESS that started this
// stream, available before any record is fetched.
func (rs *ResultStream) Keys() []string { return rs.fields }

// RunSummary returns the metadata map from the RUN SUCCESS itself
// (distinct from Consume's post-stream summary), e.g. query type hints a
// server may attach.
func (rs *ResultStream) RunSummary() map[string]any { return rs.runSummary }

// HasNext reports whether a call to Next would return a record without
// error, fetching more records from the server if the local buffer is
// empty but the server may still have more.
func (rs *ResultStream) HasNext(ctx context.Context) (bool, error) {
	if rs.failErr != nil {
		return false, rs.failErr
	}
	if len(rs.buffered) > 0 {
		return true, nil
	}
	if rs.consumed || !rs.serverHasMore {
		return false, nil
	}
	if err := rs.pull(ctx, rs.session.cfg.FetchSize); err != nil {
		return false, err
	}
	return len(rs.buffered) > 0, nil
}

// Next pops and returns the next buffered record, pulling more from the
// server first if necessary.
func (rs *ResultStream) Next(ctx context.Context) (Record, bool, error) {
	ok, err := rs.HasNext(ctx)
	if err != nil || !ok {
		return Record{}, false, err
	}
	r := rs.buffered[0]
	rs.buffered = rs.buffered[1:]
	return r, true, nil
}

// Single returns exactly one record, erroring if the stream yields zero
// or more than one.
func (rs *ResultStream) Single(ctx context.Context) (Record, error) {
	r, ok, err := rs.Next(ctx)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, errs.New(errs.InvalidArgument, "expected exactly one record, got zero")
	}
	more, err := rs.HasNext(ctx)
	if err != nil {
		return Record{}, err
	}
	if more {
		return Record{}, errs.New(errs.InvalidArgument, "expected exactly one record, got more than one")
	}
	return r, nil
}

// Collect buffers every remaining record. Per the fetch-size buffering
// strategy carried from original_source/ (see SPEC_FULL.md), it issues
// successive bounded PULLs rather than one n=-1 PULL unless the session's
// FetchSize is configured as -1 ("all").
func (rs *ResultStream) Collect(ctx context.Context) ([]Record, error) {
	var out []Record
	for {
		r, ok, err := rs.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, r)
	}
}

// Consume drains any remaining records with DISCARD and returns the final
// summary, per spec.md §4.E consume().
func (rs *ResultStream) Consume(ctx context.Context) (map[string]any, error) {
	if rs.closed {
		if rs.failErr != nil {
			return nil, rs.failErr
		}
		return rs.finalSummary, nil
	}
	if rs.serverHasMore {
		if err := rs.discard(ctx); err != nil {
			return nil, err
		}
	}
	rs.closed = true
	rs.consumed = true
	return rs.finalSummary, nil
}

// Close is the io.Closer-shaped best-effort cleanup for a stream the
// caller drops without calling Consume: it issues a DISCARD if the server
// might still have records. Go has no destructors, so callers that care
// about reclaiming server-side cursor state promptly should call Close or
// Consume explicitly rather than relying on this running at all.
func (rs *ResultStream) Close(ctx context.Context) error {
	_, err := rs.Consume(ctx)
	return err
}

func (rs *ResultStream) pull(ctx context.Context, n int) error {
	extras := map[string]any{"n": int64(n)}
	if rs.haveQID {
		extras["qid"] = rs.qid
	}
	var batch []Record
	summary, err := rs.conn.SendRequestReceiveStream(conn.TagPull, []any{extras}, func(fields []any) error {
		batch = append(batch, Record{Keys: rs.fields, Values: fields})
		return nil
	})
	if err != nil {
		rs.failErr = err
		rs.closed = true
		return err
	}
	rs.buffered = append(rs.buffered, batch...)
	rs.serverHasMore, _ = summary["has_more"].(bool)
	rs.finalSummary = summary
	if rs.isAutoCommit && !rs.serverHasMore {
		rs.updateBookmarksFromSummary(summary)
	}
	return nil
}

func (rs *ResultStream) discard(ctx context.Context) error {
	extras := map[string]any{"n": int64(-1)}
	if rs.haveQID {
		extras["qid"] = rs.qid
	}
	summary, err := rs.conn.SendRequestReceiveStream(conn.TagDiscard, []any{extras}, nil)
	if err != nil {
		rs.failErr = err
		return err
	}
	rs.serverHasMore, _ = summary["has_more"].(bool)
	rs.finalSummary = summary
	if rs.isAutoCommit {
		rs.updateBookmarksFromSummary(summary)
	}
	return nil
}

func (rs *ResultStream) updateBookmarksFromSummary(summary map[string]any) {
	rs.session.mu.Lock()
	defer rs.session.mu.Unlock()
	if bm, ok := summary["bookmark"].(string); ok && bm != "" {
		rs.session.bookmarks = []string{bm}
	} else {
		rs.session.bookmarks = nil
	}
}
