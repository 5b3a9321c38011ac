// Package interval provides the per-calendar overlap index used by the
// scheduler for conflict detection. The index is a cache over a bounded
// materialization horizon; the durable store and the recurrence rules stay
// authoritative.
package interval

import (
	"sort"

	"github.com/morbatex/matsecal/scheduler/recurrence"
)

// Entry is one indexed interval owned by an event. Recurring events own one
// entry per materialized occurrence.
type Entry struct {
	EventID string
	Span    recurrence.Span
}

// Index holds intervals sorted by start instant, tie-broken by event
// identifier, so iteration order is deterministic. The index performs no
// locking of its own; the scheduler serializes access per calendar.
type Index struct {
	entries []Entry
}

// New creates an empty index.
func New() *Index {
	return &Index{}
}

// Len returns the number of stored intervals.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Insert adds one interval for the given event.
func (ix *Index) Insert(eventID string, span recurrence.Span) {
	e := Entry{EventID: eventID, Span: span}
	i := sort.Search(len(ix.entries), func(i int) bool {
		return less(e, ix.entries[i])
	})
	ix.entries = append(ix.entries, Entry{})
	copy(ix.entries[i+1:], ix.entries[i:])
	ix.entries[i] = e
}

// Remove drops every interval owned by the given event.
func (ix *Index) Remove(eventID string) {
	kept := ix.entries[:0]
	for _, e := range ix.entries {
		if e.EventID != eventID {
			kept = append(kept, e)
		}
	}
	ix.entries = kept
}

// Overlapping returns all stored intervals intersecting the half-open span
// [query.Start, query.End), in (start, event id) order. Back-to-back
// intervals are not reported.
func (ix *Index) Overlapping(query recurrence.Span) []Entry {
	// Entries are sorted by start, so nothing at or past query.End can
	// intersect. Earlier entries may still reach into the query span and
	// have to be filtered by their end instant.
	hi := sort.Search(len(ix.entries), func(i int) bool {
		return !ix.entries[i].Span.Start.Before(query.End)
	})

	var out []Entry
	for _, e := range ix.entries[:hi] {
		if e.Span.End.After(query.Start) {
			out = append(out, e)
		}
	}
	return out
}

// Clear drops all intervals.
func (ix *Index) Clear() {
	ix.entries = nil
}

func less(a, b Entry) bool {
	if !a.Span.Start.Equal(b.Span.Start) {
		return a.Span.Start.Before(b.Span.Start)
	}
	return a.EventID < b.EventID
}
