// Package errs defines the closed set of error categories shared by every
// layer of the Bolt driver (codec, connection, pool, routing, session) so
// that a category survives being wrapped as it propagates up to the public
// boltdriver.Error the application sees.
package errs

import "fmt"

// Category is a closed set of error classifications. New values must not
// be added without updating every switch over Category in this module.
type Category string

const (
	InvalidArgument          Category = "InvalidArgument"
	SerializationError       Category = "SerializationError"
	DeserializationError     Category = "DeserializationError"
	InvalidMessageFormat     Category = "InvalidMessageFormat"
	UnsupportedProtoVersion  Category = "UnsupportedProtocolVersion"
	HandshakeFailed          Category = "HandshakeFailed"
	NetworkError             Category = "NetworkError"
	ServerFailure            Category = "ServerFailure"
	TransactionError         Category = "TransactionError"
	FeatureNotSupported      Category = "FeatureNotSupported"
	PoolExhausted            Category = "PoolExhausted"
	Cancelled                Category = "Cancelled"
)

// Error is the concrete error type produced anywhere in the driver. The
// public boltdriver.Error is a type alias for this so callers never see a
// package boundary between "internal" and "public" errors.
type Error struct {
	Category Category
	Message  string

	// ServerCode and ServerDetails are populated only for Category ==
	// ServerFailure, carrying the raw FAILURE metadata map fields.
	ServerCode    string
	ServerDetails map[string]any

	cause error
}

func (e *Error) Error() string {
	if e.ServerCode != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Category, e.Message, e.ServerCode)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with no wrapped cause.
func New(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that preserves cause for errors.Is/As/Unwrap.
func Wrap(cat Category, cause error, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Failure builds a ServerFailure error from a FAILURE message's metadata
// map, as sent by the server in response to RUN/PULL/DISCARD/BEGIN/COMMIT/
// ROLLBACK/ROUTE.
func Failure(meta map[string]any) *Error {
	code, _ := meta["code"].(string)
	msg, _ := meta["message"].(string)
	return &Error{
		Category:      ServerFailure,
		Message:       msg,
		ServerCode:    code,
		ServerDetails: meta,
	}
}

// IsRetryable reports whether the managed-transaction retry loop should
// treat this error as transient: only the NetworkError category is, which
// is the category I/O failures that invalidate a connection carry. Other
// categories are not retryable, even when the connection was marked
// defunct (e.g. a DeserializationError). Server-reported failures are
// fatal to the call even when their code looks transient, the same boundary
// session_handle_managed_tx_internal.cpp draws around NETWORK_ERROR and
// !connection_is_valid_.
func IsRetryable(err error) bool {
	var be *Error
	if !As(err, &be) {
		return false
	}
	return be.Category == NetworkError
}

// As mirrors errors.As for *Error without importing errors here twice over
// call sites; kept local so the category-check helpers above stay
// allocation-free for the common non-matching case.
func As(err error, target **Error) bool {
	for err != nil {
		if be, ok := err.(*Error); ok {
			*target = be
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
