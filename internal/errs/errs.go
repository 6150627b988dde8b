// Package errs centralizes the semantic error kinds from spec §7 so
// every layer returns and checks the same sentinels instead of ad hoc
// strings.
package errs

import "github.com/juju/errors"

var (
	// ErrDuplicateKey: insert when the primary key already exists.
	ErrDuplicateKey = errors.New("duplicate primary key")
	// ErrNotFound: update/delete/select on a missing key.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidProjection: projection vector length != column count.
	ErrInvalidProjection = errors.New("invalid projection")
	// ErrPhaseViolation: acquire attempted after a release in the same txn.
	ErrPhaseViolation = errors.New("transaction is in shrinking phase, cannot acquire more locks")
	// ErrDeadlock: a wait-for cycle was found on acquire or upgrade.
	ErrDeadlock = errors.New("deadlock detected")
	// ErrNoFrameAvailable: every buffer pool frame is pinned.
	ErrNoFrameAvailable = errors.New("no frame available in buffer pool")
	// ErrCorruption: a page file failed its checksum, or the catalog
	// could not be decoded.
	ErrCorruption = errors.New("page or catalog corruption detected")
)

// Is reports whether err is (or wraps) target, delegating to juju/errors
// so annotated errors still match their root cause.
func Is(err, target error) bool {
	return errors.Cause(err) == target
}

// Trace annotates err with a stack frame at the call site, the same
// errors.Trace(err) idiom used throughout the ddl and engine packages,
// while leaving errors.Cause(err) able to recover the original
// sentinel. A nil err traces to nil.
func Trace(err error) error {
	return errors.Trace(err)
}
