// Package errs holds the error taxonomy shared by the writer engine.
//
// Packages wrap or mark these sentinels so callers can classify failures with
// errors.Is regardless of which layer produced them:
//
//	if errors.Is(err, errs.ErrResourceExhausted) { /* back off */ }
package errs

import "github.com/cockroachdb/errors"

var (
	// ErrResourceExhausted reports a pool, history or registry at capacity.
	// Recoverable: release resources or apply backpressure and retry.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrDeadlineExceeded reports a send attempt (or lock acquisition) that
	// did not complete before its deadline. Partial delivery is not rolled back.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	// ErrInvalidPrecondition reports a caller contract violation, such as
	// releasing a change the writer does not own.
	ErrInvalidPrecondition = errors.New("invalid precondition")
	// ErrClosed reports use of a component after Close.
	ErrClosed = errors.New("closed")
)

// Exhausted returns an ErrResourceExhausted wrapped with context.
func Exhausted(format string, args ...interface{}) error {
	return errors.Wrapf(ErrResourceExhausted, format, args...)
}

// Precondition returns an ErrInvalidPrecondition wrapped with context.
func Precondition(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidPrecondition, format, args...)
}

// Deadline returns an ErrDeadlineExceeded wrapped with context.
func Deadline(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDeadlineExceeded, format, args...)
}
