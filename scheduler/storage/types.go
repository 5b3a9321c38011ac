package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/morbatex/matsecal/scheduler/recurrence"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
	// ErrUnavailable marks transient backend failures. They are surfaced
	// unmodified so the caller can retry with backoff; the scheduler never
	// retries internally.
	ErrUnavailable ErrorType = "unavailable"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage not-found error.
func IsNotFound(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrNotFound
}

// IsUnavailable reports whether err is a transient storage failure.
func IsUnavailable(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Type == ErrUnavailable
}

// Calendar is an event collection. Calendars are created on first write and
// destroyed only by explicit deletion, which cascades to contained events.
type Calendar struct {
	ID       string
	Owner    string
	Created  time.Time
	Modified time.Time
}

// Event is a durable scheduled entry owned by exactly one calendar.
type Event struct {
	ID         string
	CalendarID string
	Title      string
	// Start must be strictly before End.
	Start time.Time
	End   time.Time
	// Rule, when set, makes the event recurring. A rule is immutable per
	// generation; replacing it bumps Generation.
	Rule       *recurrence.Rule
	Exceptions []time.Time
	Metadata   map[string]string
	// Cancellable events never block other events in conflict checks.
	Cancellable bool
	// CheckConflicts records whether mutations of this event must pass a
	// conflict check before committing.
	CheckConflicts bool
	Generation     int64
	Created        time.Time
	Modified       time.Time
}

// Span returns the event's first occurrence interval.
func (e *Event) Span() recurrence.Span {
	return recurrence.Span{Start: e.Start, End: e.End}
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Rule != nil {
		rule := *e.Rule
		rule.ByDay = append([]time.Weekday(nil), e.Rule.ByDay...)
		rule.ByMonthDay = append([]int(nil), e.Rule.ByMonthDay...)
		if e.Rule.Until != nil {
			until := *e.Rule.Until
			rule.Until = &until
		}
		cp.Rule = &rule
	}
	cp.Exceptions = append([]time.Time(nil), e.Exceptions...)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Storage is the durable persistence boundary consumed by the scheduler.
// Implementations must respond within the deadline carried by ctx and use
// the error types provided.
type Storage interface {
	// Calendar operations
	GetCalendar(ctx context.Context, calendarID string) (*Calendar, error)
	ListCalendars(ctx context.Context) ([]*Calendar, error)
	CreateCalendar(ctx context.Context, cal *Calendar) error
	// DeleteCalendar removes the calendar and every event it contains.
	DeleteCalendar(ctx context.Context, calendarID string) error

	// Event operations
	GetEvent(ctx context.Context, calendarID, eventID string) (*Event, error)
	ListEvents(ctx context.Context, calendarID string) ([]*Event, error)
	// PutEvent inserts or replaces an event. The calendar must exist.
	PutEvent(ctx context.Context, event *Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}
