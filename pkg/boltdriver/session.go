package boltdriver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/conn"
	"github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"
)

// Session is a logical, strictly-ordered sequence of queries and
// transactions against one database, per spec.md §4.E. It is not safe
// for concurrent use by multiple goroutines (operations on one session
// are single in-flight, per spec.md §5).
type Session struct {
	id     string
	driver *Driver
	cfg    SessionConfig

	mu sync.Mutex

	addr string
	c    *conn.Connection

	bookmarks []string

	inTx         bool
	currentTxQID int64
	haveTxQID    bool
}

func (s *Session) ensureID() string {
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s.id
}

// acquire lazily dials (or reuses) this session's connection.
func (s *Session) acquire(ctx context.Context) (*conn.Connection, error) {
	if s.c != nil {
		return s.c, nil
	}
	role := s.cfg.AccessMode.routingRole()
	addr, err := s.driver.selectAddress(ctx, s.cfg.Database, s.cfg.ImpersonatedUser, role)
	if err != nil {
		return nil, err
	}
	c, err := s.driver.pool.Acquire(ctx, addr)
	if err != nil {
		return nil, err
	}
	s.addr = addr
	s.c = c
	return c, nil
}

// release returns the session's connection to the pool, or drops it and
// tells routing/pool to forget the address if it went defunct.
func (s *Session) release() {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	if c.Defunct() {
		s.driver.forgetAddress(s.addr)
	}
	s.driver.pool.Release(c)
}

// Close ends the session, rolling back any open explicit transaction and
// releasing its connection.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		_ = s.rollbackLocked(ctx)
	}
	s.release()
	return nil
}

// LastBookmarks returns the session's current bookmark list.
func (s *Session) LastBookmarks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bookmarks...)
}

func (s *Session) autoCommitExtras(includeMode bool) map[string]any {
	extras := map[string]any{
		"bookmarks": toAnyList(s.bookmarks),
	}
	if s.cfg.Database != "" {
		extras["db"] = s.cfg.Database
	}
	if s.cfg.ImpersonatedUser != "" {
		extras["imp_user"] = s.cfg.ImpersonatedUser
	}
	if includeMode && s.cfg.AccessMode == AccessModeRead {
		extras["mode"] = "r"
	}
	return extras
}

func toAnyList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// RunQuery sends an auto-commit RUN and returns a ResultStream, per
// spec.md §4.E run_query. If in_explicit_transaction, RUN carries only
// cypher+params; otherwise auto-commit extras (bookmarks/db/imp_user, plus
// mode below Bolt 5.0) are attached. No tx_metadata or tx_timeout is sent
// on an auto-commit RUN.
func (s *Session) RunQuery(ctx context.Context, cypher string, params map[string]any) (*ResultStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	var extras map[string]any
	preVersion5 := !c.Version.AtLeast(5, 0)
	if s.inTx {
		extras = map[string]any{}
	} else {
		extras = s.autoCommitExtras(preVersion5)
	}
	if params == nil {
		params = map[string]any{}
	}

	var fields []any
	summary, runErr := c.SendRequestReceiveStream(conn.TagRun, []any{cypher, params, extras}, nil)
	if runErr != nil {
		return newFailedResultStream(s, runErr), nil
	}
	if rawFields, ok := summary["fields"].([]any); ok {
		fields = rawFields
	}

	qid, haveQID := extractQID(summary)
	if s.inTx {
		s.currentTxQID = qid
		s.haveTxQID = haveQID
	}

	hasMore, _ := summary["has_more"].(bool)

	return &ResultStream{
		session:       s,
		conn:          c,
		fields:        fieldNames(fields),
		qid:           qid,
		haveQID:       haveQID,
		serverHasMore: hasMore,
		isAutoCommit:  !s.inTx,
		runSummary:    summary,
	}, nil
}

// RunConsume is the common "run and buffer everything" shorthand: it
// drives the ResultStream to completion and returns all records plus the
// final summary.
func (s *Session) RunConsume(ctx context.Context, cypher string, params map[string]any) ([]Record, map[string]any, error) {
	rs, err := s.RunQuery(ctx, cypher, params)
	if err != nil {
		return nil, nil, err
	}
	records, err := rs.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	summary, err := rs.Consume(ctx)
	return records, summary, err
}

func extractQID(summary map[string]any) (int64, bool) {
	if summary == nil {
		return 0, false
	}
	q, ok := summary["qid"].(int64)
	return q, ok
}

func fieldNames(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BeginTransaction sends BEGIN with {bookmarks, db, imp_user, mode
// (>=5.0), tx_metadata, tx_timeout}, per spec.md §4.E.
func (s *Session) BeginTransaction(ctx context.Context, metadata map[string]any, timeout int64) (*ExplicitTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inTx {
		return nil, errs.New(errs.InvalidArgument, "session already has an open explicit transaction")
	}
	c, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	extras := s.autoCommitExtras(false)
	if c.Version.AtLeast(5, 0) && s.cfg.AccessMode == AccessModeRead {
		extras["mode"] = "r"
	}
	if metadata != nil {
		extras["tx_metadata"] = metadata
	}
	if timeout > 0 {
		extras["tx_timeout"] = timeout
	}

	if _, err := c.SendRequestReceiveStream(conn.TagBegin, []any{extras}, nil); err != nil {
		return nil, err
	}
	s.inTx = true
	s.haveTxQID = false
	return &ExplicitTransaction{session: s}, nil
}

func (s *Session) commitLocked(ctx context.Context) error {
	if !s.inTx {
		return errs.New(errs.InvalidArgument, "COMMIT called outside a transaction")
	}
	c, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	summary, err := c.SendRequestReceiveStream(conn.TagCommit, nil, nil)
	s.inTx = false
	if err != nil {
		return err
	}
	if bm, ok := summary["bookmark"].(string); ok && bm != "" {
		s.bookmarks = []string{bm}
	} else {
		s.bookmarks = nil
	}
	return nil
}

func (s *Session) rollbackLocked(ctx context.Context) error {
	if !s.inTx {
		return nil
	}
	c, err := s.acquire(ctx)
	if err != nil {
		s.inTx = false
		return err
	}
	s.inTx = false
	// A prior FAILURE already aborted the transaction server-side and left
	// the connection Interrupted, where ROLLBACK is no longer a legal
	// outbound message; RESET is the recovery move in that state instead.
	tag := conn.TagRollback
	if c.State() == conn.Interrupted {
		tag = conn.TagReset
	}
	_, err = c.SendRequestReceiveStream(tag, nil, nil)
	// Bookmarks are never touched by rollback, per spec.md §9.
	return err
}
