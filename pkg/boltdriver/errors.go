// Package boltdriver is a client library for the Bolt protocol spoken by
// any Bolt 3.0-5.x compatible graph database. It owns connection pooling,
// cluster routing, sessions, explicit and managed transactions, and result
// streaming; it does not parse or translate Cypher, which it treats as an
// opaque string.
package boltdriver

import "github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"

// Category classifies driver errors into a closed set.
type Category = errs.Category

// The closed set of error categories produced anywhere in this driver.
const (
	InvalidArgument            = errs.InvalidArgument
	SerializationError         = errs.SerializationError
	DeserializationError       = errs.DeserializationError
	InvalidMessageFormat       = errs.InvalidMessageFormat
	UnsupportedProtocolVersion = errs.UnsupportedProtoVersion
	HandshakeFailed            = errs.HandshakeFailed
	NetworkError               = errs.NetworkError
	ServerFailure              = errs.ServerFailure
	TransactionError           = errs.TransactionError
	FeatureNotSupported        = errs.FeatureNotSupported
	PoolExhausted              = errs.PoolExhausted
	Cancelled                  = errs.Cancelled
)

// Error is the concrete error type returned by every operation in this
// package. Use errors.As to recover one from a wrapped error, and its
// Category field to branch on error kind.
type Error = errs.Error

// IsRetryable reports whether err should be retried by a managed
// transaction: errors of the NetworkError category (which I/O failures
// that invalidate a connection carry) are retryable, everything else is
// not.
func IsRetryable(err error) bool { return errs.IsRetryable(err) }
