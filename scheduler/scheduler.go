// Package scheduler implements the conflict-aware scheduling core: event
// create/update/delete/move with atomic conflict checks, range queries with
// recurrence expansion, and per-calendar serialization of mutations.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/morbatex/matsecal/scheduler/interval"
	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

// DefaultHorizon bounds how far into the future (and past) recurring events
// are materialized into the interval index. The store and the rules stay
// authoritative; conflict checks beyond the horizon trigger a re-index over
// a wider window.
const DefaultHorizon = 2 * 365 * 24 * time.Hour

// Options configures a Scheduler.
type Options struct {
	// Horizon overrides DefaultHorizon when positive.
	Horizon time.Duration
	Logger  *slog.Logger
	// Notifier, when set, receives a Change after each committed mutation.
	Notifier Notifier
}

// Scheduler orchestrates all event mutations and queries for every calendar
// held by one store. The store handle is explicit; there is no ambient
// registry.
type Scheduler struct {
	store    storage.Storage
	engine   *recurrence.Engine
	locks    *lockTable
	horizon  time.Duration
	logger   *slog.Logger
	notifier Notifier

	statesMu sync.Mutex
	states   map[string]*calendarState
}

// calendarState caches one calendar's events and their materialized
// occurrences. It is only touched while holding the calendar's write lock.
type calendarState struct {
	index  *interval.Index
	events map[string]*storage.Event
	window recurrence.Span
	loaded bool
}

// New creates a Scheduler on top of the given store.
func New(store storage.Storage, opts Options) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:    store,
		engine:   recurrence.NewEngine(),
		locks:    newLockTable(),
		horizon:  horizon,
		logger:   logger,
		notifier: opts.Notifier,
		states:   make(map[string]*calendarState),
	}, nil
}

// CreateEvent validates and persists a new event. With CheckConflicts set,
// the event is rejected with *ConflictError when any of its occurrences
// would overlap a non-cancellable existing occurrence; nothing is mutated
// in that case. Returns the event identifier.
func (s *Scheduler) CreateEvent(ctx context.Context, calendarID string, draft EventDraft) (string, error) {
	if err := validateSpan(draft.Start, draft.End); err != nil {
		return "", err
	}
	if draft.Rule != nil {
		if err := draft.Rule.Validate(); err != nil {
			return "", err
		}
	}

	lk := s.locks.get(calendarID)
	lk.Lock()
	defer lk.Unlock()

	if err := s.ensureCalendarLocked(ctx, calendarID); err != nil {
		return "", err
	}

	st := s.state(calendarID)
	if err := s.ensureLocked(ctx, calendarID, st, recurrence.Span{Start: draft.Start, End: draft.End}); err != nil {
		return "", err
	}

	id := draft.ID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := st.events[id]; exists {
		return "", &storage.Error{Type: storage.ErrAlreadyExists, Message: "event already exists"}
	}

	event := &storage.Event{
		ID:             id,
		CalendarID:     calendarID,
		Title:          draft.Title,
		Start:          draft.Start,
		End:            draft.End,
		Rule:           draft.Rule,
		Exceptions:     draft.Exceptions,
		Metadata:       draft.Metadata,
		Cancellable:    draft.Cancellable,
		CheckConflicts: draft.CheckConflicts,
	}

	proposed, err := s.expandLocked(ctx, st, event)
	if err != nil {
		return "", err
	}

	if draft.CheckConflicts {
		if conflicts := s.conflictsLocked(st, proposed, id); len(conflicts) > 0 {
			return "", &ConflictError{Conflicts: conflicts}
		}
	}

	if err := s.store.PutEvent(ctx, event); err != nil {
		// The index was not touched; the failed write leaves no trace.
		return "", err
	}

	st.events[id] = event
	for _, occ := range proposed {
		st.index.Insert(id, occ.Span())
	}

	s.logger.Debug("event created", "calendar", calendarID, "event", id)
	s.notify(ctx, ChangeCreated, calendarID, id)
	return id, nil
}

// UpdateEvent applies a partial update. Patches that change the event's span
// or rule are re-checked for conflicts (excluding the event's own prior
// occurrences) when the event carries the CheckConflicts flag; metadata-only
// patches skip the check. A successful update persists a new generation.
func (s *Scheduler) UpdateEvent(ctx context.Context, calendarID, eventID string, patch EventPatch) error {
	lk := s.locks.get(calendarID)
	lk.Lock()
	defer lk.Unlock()

	return s.updateLocked(ctx, calendarID, eventID, patch, ChangeUpdated)
}

// MoveEvent shifts an event's start while preserving its duration,
// re-checking conflicts at the new position.
func (s *Scheduler) MoveEvent(ctx context.Context, calendarID, eventID string, newStart time.Time) error {
	lk := s.locks.get(calendarID)
	lk.Lock()
	defer lk.Unlock()

	st := s.state(calendarID)
	if err := s.ensureLocked(ctx, calendarID, st, recurrence.Span{}); err != nil {
		return err
	}
	event, ok := st.events[eventID]
	if !ok {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}

	patch := EventPatch{
		Start: mo.Some(newStart),
		End:   mo.Some(newStart.Add(event.End.Sub(event.Start))),
	}
	return s.updateLocked(ctx, calendarID, eventID, patch, ChangeMoved)
}

// DeleteEvent removes an event from store and index. Deleting an absent
// event reports not-found without any state change, so retries are safe.
func (s *Scheduler) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	lk := s.locks.get(calendarID)
	lk.Lock()
	defer lk.Unlock()

	st := s.state(calendarID)
	if err := s.ensureLocked(ctx, calendarID, st, recurrence.Span{}); err != nil {
		return err
	}
	if _, ok := st.events[eventID]; !ok {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}

	if err := s.store.DeleteEvent(ctx, calendarID, eventID); err != nil {
		return err
	}

	delete(st.events, eventID)
	st.index.Remove(eventID)

	s.logger.Debug("event deleted", "calendar", calendarID, "event", eventID)
	s.notify(ctx, ChangeDeleted, calendarID, eventID)
	return nil
}

// DeleteCalendar removes a calendar and every event it contains.
func (s *Scheduler) DeleteCalendar(ctx context.Context, calendarID string) error {
	lk := s.locks.get(calendarID)
	lk.Lock()
	defer lk.Unlock()

	if err := s.store.DeleteCalendar(ctx, calendarID); err != nil {
		return err
	}

	s.statesMu.Lock()
	delete(s.states, calendarID)
	s.statesMu.Unlock()

	s.logger.Debug("calendar deleted", "calendar", calendarID)
	return nil
}

// QueryRange materializes every occurrence in the calendar intersecting
// window, recurring events expanded, ordered by start instant and
// tie-broken by event identifier. Occurrences are recomputed per query,
// never cached across mutations.
func (s *Scheduler) QueryRange(ctx context.Context, calendarID string, window recurrence.Span) ([]recurrence.Occurrence, error) {
	if window.Start.After(window.End) {
		return nil, fmt.Errorf("%w: start %s after end %s", recurrence.ErrInvalidWindow, window.Start, window.End)
	}

	lk := s.locks.get(calendarID)
	lk.RLock()
	defer lk.RUnlock()

	events, err := s.store.ListEvents(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	var out []recurrence.Occurrence
	for _, ev := range events {
		occs, err := s.engine.Expand(ctx, expandInput(ev), window)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}

	recurrence.Sort(out)
	return out, nil
}

// FindConflicts reports every existing occurrence overlapping span. It runs
// under the shared lock and mutates nothing.
func (s *Scheduler) FindConflicts(ctx context.Context, calendarID string, span recurrence.Span) (*ConflictReport, error) {
	occs, err := s.QueryRange(ctx, calendarID, span)
	if err != nil {
		return nil, err
	}
	return &ConflictReport{Span: span, Conflicts: occs}, nil
}

// Internal helpers. Everything below assumes the calendar's write lock is
// held unless noted otherwise.

func (s *Scheduler) updateLocked(ctx context.Context, calendarID, eventID string, patch EventPatch, change ChangeType) error {
	st := s.state(calendarID)
	if err := s.ensureLocked(ctx, calendarID, st, recurrence.Span{}); err != nil {
		return err
	}

	event, ok := st.events[eventID]
	if !ok {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}

	next := event.Clone()
	applyPatch(next, patch)

	if err := validateSpan(next.Start, next.End); err != nil {
		return err
	}
	if next.Rule != nil {
		if err := next.Rule.Validate(); err != nil {
			return err
		}
	}

	spanChanged := patch.TouchesSpan()
	var proposed []recurrence.Occurrence
	if spanChanged {
		if err := s.ensureLocked(ctx, calendarID, st, next.Span()); err != nil {
			return err
		}
		var err error
		proposed, err = s.expandLocked(ctx, st, next)
		if err != nil {
			return err
		}
		if next.CheckConflicts {
			if conflicts := s.conflictsLocked(st, proposed, eventID); len(conflicts) > 0 {
				return &ConflictError{Conflicts: conflicts}
			}
		}
	}

	next.Generation = event.Generation + 1

	if err := s.store.PutEvent(ctx, next); err != nil {
		// Index not yet refreshed; the calendar is exactly as before.
		return err
	}

	st.events[eventID] = next
	if spanChanged {
		st.index.Remove(eventID)
		for _, occ := range proposed {
			st.index.Insert(eventID, occ.Span())
		}
	}

	s.logger.Debug("event updated", "calendar", calendarID, "event", eventID, "generation", next.Generation)
	s.notify(ctx, change, calendarID, eventID)
	return nil
}

// state returns the cached calendar state, creating it when absent. The map
// access is guarded by statesMu; the state contents by the calendar lock.
func (s *Scheduler) state(calendarID string) *calendarState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	st, ok := s.states[calendarID]
	if !ok {
		st = &calendarState{index: interval.New(), events: make(map[string]*storage.Event)}
		s.states[calendarID] = st
	}
	return st
}

// ensureLocked makes sure the state is loaded and its materialization window
// covers need, re-indexing from the store when it does not.
func (s *Scheduler) ensureLocked(ctx context.Context, calendarID string, st *calendarState, need recurrence.Span) error {
	if st.loaded && covers(st.window, need) {
		return nil
	}
	return s.reindexLocked(ctx, calendarID, st, need)
}

func (s *Scheduler) reindexLocked(ctx context.Context, calendarID string, st *calendarState, need recurrence.Span) error {
	window := st.window
	if !st.loaded {
		now := time.Now()
		window = recurrence.Span{Start: now.Add(-s.horizon), End: now.Add(s.horizon)}
	}
	window = union(window, need)

	events, err := s.store.ListEvents(ctx, calendarID)
	if err != nil {
		return err
	}

	index := interval.New()
	byID := make(map[string]*storage.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
		occs, err := s.engine.Expand(ctx, expandInput(ev), window)
		if err != nil {
			return err
		}
		for _, occ := range occs {
			index.Insert(ev.ID, occ.Span())
		}
	}

	st.index = index
	st.events = byID
	st.window = window
	st.loaded = true
	return nil
}

// expandLocked materializes an event's occurrences within the indexed
// window.
func (s *Scheduler) expandLocked(ctx context.Context, st *calendarState, event *storage.Event) ([]recurrence.Occurrence, error) {
	return s.engine.Expand(ctx, expandInput(event), st.window)
}

// conflictsLocked returns the non-cancellable occurrences overlapping any of
// the proposed ones, excluding those owned by excludeID.
func (s *Scheduler) conflictsLocked(st *calendarState, proposed []recurrence.Occurrence, excludeID string) []recurrence.Occurrence {
	var conflicts []recurrence.Occurrence
	seen := make(map[string]bool)
	for _, p := range proposed {
		for _, entry := range st.index.Overlapping(p.Span()) {
			if entry.EventID == excludeID {
				continue
			}
			if ev, ok := st.events[entry.EventID]; ok && ev.Cancellable {
				continue
			}
			key := entry.EventID + "/" + entry.Span.Start.Format(time.RFC3339Nano)
			if seen[key] {
				continue
			}
			seen[key] = true
			conflicts = append(conflicts, recurrence.Occurrence{
				EventID: entry.EventID,
				Start:   entry.Span.Start,
				End:     entry.Span.End,
			})
		}
	}
	recurrence.Sort(conflicts)
	return conflicts
}

// ensureCalendarLocked creates the calendar on first write.
func (s *Scheduler) ensureCalendarLocked(ctx context.Context, calendarID string) error {
	_, err := s.store.GetCalendar(ctx, calendarID)
	if err == nil {
		return nil
	}
	if !storage.IsNotFound(err) {
		return err
	}
	return s.store.CreateCalendar(ctx, &storage.Calendar{ID: calendarID})
}

func (s *Scheduler) notify(ctx context.Context, change ChangeType, calendarID, eventID string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.EventChanged(ctx, Change{
		Type:       change,
		CalendarID: calendarID,
		EventID:    eventID,
		At:         time.Now(),
	})
	if err != nil {
		s.logger.Warn("change notification failed",
			"calendar", calendarID,
			"event", eventID,
			"change", change,
			"err", err)
	}
}

func applyPatch(event *storage.Event, patch EventPatch) {
	if v, ok := patch.Title.Get(); ok {
		event.Title = v
	}
	if v, ok := patch.Start.Get(); ok {
		event.Start = v
	}
	if v, ok := patch.End.Get(); ok {
		event.End = v
	}
	if v, ok := patch.Rule.Get(); ok {
		event.Rule = v
	}
	if v, ok := patch.Exceptions.Get(); ok {
		event.Exceptions = v
	}
	if v, ok := patch.Metadata.Get(); ok {
		event.Metadata = v
	}
	if v, ok := patch.Cancellable.Get(); ok {
		event.Cancellable = v
	}
	if v, ok := patch.CheckConflicts.Get(); ok {
		event.CheckConflicts = v
	}
}

func expandInput(event *storage.Event) recurrence.Input {
	return recurrence.Input{
		EventID:    event.ID,
		Span:       event.Span(),
		Rule:       event.Rule,
		Exceptions: event.Exceptions,
	}
}

func validateSpan(start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("%w: start %s, end %s", ErrInvalidSpan, start, end)
	}
	return nil
}

// covers reports whether window fully contains need. A zero need is always
// covered.
func covers(window, need recurrence.Span) bool {
	if need.Start.IsZero() && need.End.IsZero() {
		return true
	}
	return !need.Start.Before(window.Start) && !need.End.After(window.End)
}

// union widens window to include need.
func union(window, need recurrence.Span) recurrence.Span {
	if need.Start.IsZero() && need.End.IsZero() {
		return window
	}
	out := window
	if need.Start.Before(out.Start) {
		out.Start = need.Start
	}
	if need.End.After(out.End) {
		out.End = need.End
	}
	return out
}
