package boltdriver

import (
	"context"
	"math/rand"
	"time"
)

// TransactionWork is the unit of work run inside a managed transaction. It
// may be invoked more than once if the driver retries after a transient
// failure, per spec.md §4.E ExecuteRead/ExecuteWrite.
type TransactionWork func(tx *ExplicitTransaction) (any, error)

// ExecuteRead runs work inside a managed, retried read transaction.
func (s *Session) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	prev := s.cfg.AccessMode
	s.cfg.AccessMode = AccessModeRead
	defer func() { s.cfg.AccessMode = prev }()
	return s.executeManaged(ctx, work)
}

// ExecuteWrite runs work inside a managed, retried write transaction.
func (s *Session) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	prev := s.cfg.AccessMode
	s.cfg.AccessMode = AccessModeWrite
	defer func() { s.cfg.AccessMode = prev }()
	return s.executeManaged(ctx, work)
}

// executeManaged implements the deadline-bounded exponential-backoff retry
// loop grounded on the original driver's managed-transaction internals:
// BEGIN, run work, COMMIT on success or ROLLBACK on failure, and retry the
// whole cycle while the error is retryable and the deadline hasn't passed.
func (s *Session) executeManaged(ctx context.Context, work TransactionWork) (any, error) {
	cfg := s.driver.cfg
	deadline := time.Now().Add(cfg.MaxTransactionRetryTime)
	delay := cfg.TransactionRetryDelayInitial

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := s.runOnce(ctx, work)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, lastErr
		}

		sleep := jitter(delay)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.TransactionRetryDelayMultiplier)
		if delay > cfg.TransactionRetryDelayMax {
			delay = cfg.TransactionRetryDelayMax
		}
	}
}

// runOnce performs a single BEGIN/work/COMMIT-or-ROLLBACK cycle. It always
// releases the session's connection back to the pool afterward, so a
// connection an attempt left Interrupted goes through the pool's
// Ping-based health check (and RESET) before the next attempt reuses it.
func (s *Session) runOnce(ctx context.Context, work TransactionWork) (result any, err error) {
	defer func() {
		s.mu.Lock()
		s.release()
		s.mu.Unlock()
	}()

	tx, err := s.BeginTransaction(ctx, nil, 0)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	result, werr := work(tx)
	if werr != nil {
		_ = tx.Rollback(ctx)
		return nil, werr
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// jitter applies +/-10% randomization to a backoff duration, the way the
// original implementation avoids retry storms across concurrent clients.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.1
	delta := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(delta)
}
