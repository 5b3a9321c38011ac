package scheduler

import (
	"errors"
	"fmt"

	"github.com/morbatex/matsecal/scheduler/recurrence"
)

// ErrInvalidSpan is returned when an event's start instant is not strictly
// before its end instant.
var ErrInvalidSpan = errors.New("event start must be before end")

// ConflictError is returned when a mutation would overlap existing
// non-cancellable occurrences. The operation left no state change behind;
// the conflicting occurrences are carried for the caller's decision.
type ConflictError struct {
	Conflicts []recurrence.Occurrence
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicts with %d existing occurrence(s)", len(e.Conflicts))
}

// IsConflict reports whether err is a conflict failure.
func IsConflict(err error) bool {
	var cerr *ConflictError
	return errors.As(err, &cerr)
}
