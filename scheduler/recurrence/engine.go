package recurrence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	// ErrInvalidRule is returned for malformed recurrence rules.
	ErrInvalidRule = errors.New("invalid recurrence rule")
	// ErrInvalidWindow is returned when a query window ends before it starts.
	ErrInvalidWindow = errors.New("invalid query window")
)

// Engine expands recurrence rules into concrete occurrences. It holds no
// mutable state; expansion on the same inputs always yields the same result.
type Engine struct{}

// NewEngine creates a new recurrence engine instance.
func NewEngine() *Engine {
	return &Engine{}
}

// Expand materializes the occurrences of in whose spans intersect window,
// ordered by start. Occurrences whose start matches an exception instant are
// omitted, not replaced. Expansion checks ctx between steps so a caller can
// abandon a large window early.
func (e *Engine) Expand(ctx context.Context, in Input, window Span) ([]Occurrence, error) {
	if window.Start.After(window.End) {
		return nil, fmt.Errorf("%w: start %s after end %s", ErrInvalidWindow, window.Start, window.End)
	}

	duration := in.Span.Duration()

	// Non-recurring event: at most the one occurrence.
	if in.Rule == nil {
		if in.Span.Overlaps(window) && !isExcluded(in.Span.Start, in.Exceptions) {
			return []Occurrence{{EventID: in.EventID, Start: in.Span.Start, End: in.Span.End}}, nil
		}
		return nil, nil
	}

	if err := in.Rule.Validate(); err != nil {
		return nil, err
	}

	r, err := buildRRule(in.Rule, in.Span.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	var out []Occurrence
	next := r.Iterator()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		start, ok := next()
		if !ok {
			break
		}
		// Starts are monotonically increasing; once a start reaches the
		// window end no later occurrence can intersect it.
		if !start.Before(window.End) {
			break
		}
		end := start.Add(duration)
		if !end.After(window.Start) {
			continue
		}
		if isExcluded(start, in.Exceptions) {
			continue
		}
		out = append(out, Occurrence{EventID: in.EventID, Start: start, End: end})
	}

	return out, nil
}

// Sort orders occurrences by start, tie-broken by event identifier.
func Sort(occs []Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if !occs[i].Start.Equal(occs[j].Start) {
			return occs[i].Start.Before(occs[j].Start)
		}
		return occs[i].EventID < occs[j].EventID
	})
}

func buildRRule(rule *Rule, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     freqToRRule(rule.Freq),
		Interval: rule.Interval,
		Dtstart:  dtstart,
		Count:    rule.Count,
	}
	if rule.Until != nil {
		opt.Until = *rule.Until
	}
	for _, wd := range rule.ByDay {
		opt.Byweekday = append(opt.Byweekday, weekdayToRRule(wd))
	}
	opt.Bymonthday = append(opt.Bymonthday, rule.ByMonthDay...)
	return rrule.NewRRule(opt)
}

func freqToRRule(f Frequency) rrule.Frequency {
	switch f {
	case Daily:
		return rrule.DAILY
	case Weekly:
		return rrule.WEEKLY
	case Monthly:
		return rrule.MONTHLY
	case Yearly:
		return rrule.YEARLY
	default:
		return rrule.DAILY
	}
}

func weekdayToRRule(d time.Weekday) rrule.Weekday {
	switch d {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// isExcluded checks if a given instant is in the exception list. Exceptions
// match exactly; there is no date-level normalization.
func isExcluded(t time.Time, exceptions []time.Time) bool {
	for _, ex := range exceptions {
		if t.Equal(ex) {
			return true
		}
	}
	return false
}
