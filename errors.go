package tiercache

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyRejected marks malformed tenants, keys, patterns or cursors.
	ErrKeyRejected = errors.New("tiercache: key rejected")

	// ErrStoreUnavailable marks a backing-store fault (circuit open or
	// connection error). It is absorbed on the data path and only visible
	// through Flush errors and counters.
	ErrStoreUnavailable = errors.New("tiercache: backing store unavailable")
)

// SerializationError wraps a codec failure. Unlike store faults this is
// surfaced to the caller: it indicates a programming or data-corruption
// issue, not a transient fault.
type SerializationError struct {
	Op  string // "encode" or "decode"
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("tiercache: %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// FlushError aggregates the partial failures of a flush. The flush keeps
// going past individual page failures and reports everything at the end.
type FlushError struct {
	Tenant string
	Errs   []error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("tiercache: flush of tenant %q: %d page(s) failed: %v",
		e.Tenant, len(e.Errs), errors.Join(e.Errs...))
}

func (e *FlushError) Unwrap() []error { return e.Errs }
