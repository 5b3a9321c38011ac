package recurrence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frequency is the stepping unit of a recurrence rule. The set is closed;
// switches over it must handle every value.
type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
	Yearly
)

// String provides a human-readable representation of the Frequency.
func (f Frequency) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the frequency as its lowercase name.
func (f Frequency) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a lowercase frequency name.
func (f *Frequency) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "daily":
		*f = Daily
	case "weekly":
		*f = Weekly
	case "monthly":
		*f = Monthly
	case "yearly":
		*f = Yearly
	default:
		return fmt.Errorf("unknown frequency %q", s)
	}
	return nil
}

// Rule describes how an event repeats. A rule is immutable once attached to
// an event generation; changing it produces a new generation.
type Rule struct {
	Freq     Frequency `json:"freq"`
	Interval int       `json:"interval"`
	// Count and Until are mutually exclusive termination conditions.
	// Count == 0 and Until == nil means the rule never terminates on its own.
	Count int        `json:"count,omitempty"`
	Until *time.Time `json:"until,omitempty"`
	// ByDay restricts occurrences to the given weekdays within each step.
	ByDay []time.Weekday `json:"byDay,omitempty"`
	// ByMonthDay restricts occurrences to the given days of month. A day
	// that does not exist in a stepped month produces no occurrence for
	// that period.
	ByMonthDay []int `json:"byMonthDay,omitempty"`
}

// Validate reports ErrInvalidRule when the rule is malformed.
func (r *Rule) Validate() error {
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrInvalidRule, r.Interval)
	}
	if r.Count > 0 && r.Until != nil {
		return fmt.Errorf("%w: count and until are mutually exclusive", ErrInvalidRule)
	}
	for _, d := range r.ByMonthDay {
		if d < 1 || d > 31 {
			return fmt.Errorf("%w: by-month-day %d out of range", ErrInvalidRule, d)
		}
	}
	return nil
}

// Span is a half-open time interval [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (s Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Overlaps reports whether two half-open intervals intersect. Back-to-back
// spans do not overlap.
func (s Span) Overlaps(other Span) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Occurrence is one materialized instance of an event. Occurrences are
// recomputed per query and never persisted.
type Occurrence struct {
	EventID string    `json:"eventId"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Span returns the occurrence's interval.
func (o Occurrence) Span() Span {
	return Span{Start: o.Start, End: o.End}
}

// Input describes one event series to expand: the first occurrence span,
// an optional rule and the exception instants whose occurrences are dropped.
type Input struct {
	EventID    string
	Span       Span
	Rule       *Rule
	Exceptions []time.Time
}
