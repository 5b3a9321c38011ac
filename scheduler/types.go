package scheduler

import (
	"context"
	"time"

	"github.com/samber/mo"

	"github.com/morbatex/matsecal/scheduler/recurrence"
)

// EventDraft describes a new event. ID may be left empty to have the
// scheduler assign one.
type EventDraft struct {
	ID         string
	Title      string
	Start      time.Time
	End        time.Time
	Rule       *recurrence.Rule
	Exceptions []time.Time
	Metadata   map[string]string
	// Cancellable events never block others when conflicts are checked.
	Cancellable bool
	// CheckConflicts makes the create fail instead of double-booking.
	CheckConflicts bool
}

// EventPatch is a partial update. Absent fields keep their current value;
// Rule may be set to Some(nil) to clear the recurrence rule.
type EventPatch struct {
	Title          mo.Option[string]
	Start          mo.Option[time.Time]
	End            mo.Option[time.Time]
	Rule           mo.Option[*recurrence.Rule]
	Exceptions     mo.Option[[]time.Time]
	Metadata       mo.Option[map[string]string]
	Cancellable    mo.Option[bool]
	CheckConflicts mo.Option[bool]
}

// TouchesSpan reports whether applying the patch can change which instants
// the event occupies. Metadata-only patches skip conflict re-checking.
func (p EventPatch) TouchesSpan() bool {
	return p.Start.IsPresent() || p.End.IsPresent() ||
		p.Rule.IsPresent() || p.Exceptions.IsPresent()
}

// ConflictReport lists the existing occurrences overlapping a proposed span.
// Reports are transient query results, never persisted.
type ConflictReport struct {
	Span      recurrence.Span         `json:"span"`
	Conflicts []recurrence.Occurrence `json:"conflicts"`
}

// ChangeType names a committed mutation.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
	ChangeMoved   ChangeType = "moved"
)

// Change describes a committed mutation for downstream consumers.
type Change struct {
	Type       ChangeType `json:"type"`
	CalendarID string     `json:"calendarId"`
	EventID    string     `json:"eventId"`
	At         time.Time  `json:"at"`
}

// Notifier receives change notifications after a mutation commits. Failures
// are logged, never surfaced; notifications are best-effort.
type Notifier interface {
	EventChanged(ctx context.Context, change Change) error
}
