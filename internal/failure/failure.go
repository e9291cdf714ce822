// Package failure defines the error taxonomy shared by every lockerbench
// component.
//
// Setup errors (store unreachable, fixture creation) are fatal for a run.
// Per-actor request errors are recorded as outcomes and never abort a run.
// Teardown errors are logged and superseded by the forced cleanup pass.
// An invariant violation is a test verdict, not an infrastructure failure,
// and callers report it distinctly.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindStoreUnavailable indicates the state store could not be reached.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"

	// KindSnapshotFailed indicates a reachable store could not be read,
	// e.g. a table is missing.
	KindSnapshotFailed Kind = "SNAPSHOT_FAILED"

	// KindProvisionFailed indicates fixture creation failed and was rolled back.
	KindProvisionFailed Kind = "PROVISION_FAILED"

	// KindRequestFailed indicates a remote API call failed or timed out.
	KindRequestFailed Kind = "REQUEST_FAILED"

	// KindRestoreFailed indicates the snapshot could not be restored.
	KindRestoreFailed Kind = "RESTORE_FAILED"

	// KindInvariantViolation indicates more than one actor won the same resource.
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"

	// KindNoLocationsAvailable indicates resources cannot be created because
	// the store has no locations to place them in.
	KindNoLocationsAvailable Kind = "NO_LOCATIONS_AVAILABLE"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrStoreUnavailable     = &Error{Kind: KindStoreUnavailable}
	ErrSnapshotFailed       = &Error{Kind: KindSnapshotFailed}
	ErrProvisionFailed      = &Error{Kind: KindProvisionFailed}
	ErrRequestFailed        = &Error{Kind: KindRequestFailed}
	ErrRestoreFailed        = &Error{Kind: KindRestoreFailed}
	ErrInvariantViolation   = &Error{Kind: KindInvariantViolation}
	ErrNoLocationsAvailable = &Error{Kind: KindNoLocationsAvailable}
)

// Error is a categorized failure with the operation that produced it.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op names the operation that failed (e.g. "snapshot.capture").
	Op string

	// Err is the underlying cause, if any.
	Err error

	// Details carries additional context for reports.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets the
// package sentinels match any wrapped failure of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a failure of the given kind for op wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a failure whose cause is a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// err carries no kind.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsInvariantViolation reports whether err is an invariant violation.
// Uses errors.Is to handle wrapped and joined errors.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
