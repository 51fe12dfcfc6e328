// Package errkind defines the sentinel error values shared across the
// resolver, matching the teacher's convention of one exported ErrXxx value
// per recoverable or terminal failure mode, tested with errors.Is rather
// than type assertion.
package errkind

import (
	"errors"
	"fmt"
)

// ErrNoNameserver is returned when no usable nameserver address remains for
// a zone after every known address has failed.
var ErrNoNameserver = errors.New("no nameserver available")

// ErrLoopedQuery is returned when iterative resolution re-enters a
// (name, zone) pair it has already visited for the same client query.
var ErrLoopedQuery = errors.New("looped query")

// ErrOutOfZone is returned when an operation targets a name outside the
// zone it was asked to operate on.
var ErrOutOfZone = errors.New("name is out of zone")

// ErrCNameCoexistsWithOtherRR is returned by zone mutation when a CNAME is
// added at a name that already carries other rrset types, or vice versa.
var ErrCNameCoexistsWithOtherRR = errors.New("CNAME cannot coexist with other rrsets at the same name")

// ErrDuplicateZone is returned when adding a zone whose origin is already
// present. Loading a zone file over an existing origin replaces it instead.
var ErrDuplicateZone = errors.New("duplicate zone")

// ErrUnknownZone is returned when an operation names a zone that has not
// been loaded.
var ErrUnknownZone = errors.New("unknown zone")

// Timeout wraps the address a query timed out waiting on, for logging.
type Timeout struct {
	Address string
}

func (e *Timeout) Error() string { return fmt.Sprintf("timeout waiting for reply from %s", e.Address) }

// TimerErr wraps a failure in the resolver's own deadline/retry bookkeeping,
// as distinct from an I/O timeout.
type TimerErr struct {
	Detail string
}

func (e *TimerErr) Error() string { return fmt.Sprintf("timer error: %s", e.Detail) }

// InvalidNSResponse wraps a malformed or inconsistent reply from a
// nameserver that is otherwise reachable.
type InvalidNSResponse struct {
	Detail string
}

func (e *InvalidNSResponse) Error() string { return fmt.Sprintf("invalid nameserver response: %s", e.Detail) }
