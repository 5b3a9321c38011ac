// memory based implementation for testing and single-node deployments
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/morbatex/matsecal/scheduler/storage"
)

// Store implements storage.Storage using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	calendars map[string]*storage.Calendar
	events    map[string]*storage.Event // key: calendarID/eventID
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		calendars: make(map[string]*storage.Calendar),
		events:    make(map[string]*storage.Event),
	}
}

func (s *Store) eventKey(calendarID, eventID string) string {
	return fmt.Sprintf("%s/%s", calendarID, eventID)
}

// Calendar operations

func (s *Store) GetCalendar(_ context.Context, calendarID string) (*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[calendarID]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "calendar not found",
		}
	}

	cp := *cal
	return &cp, nil
}

func (s *Store) ListCalendars(_ context.Context) ([]*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var calendars []*storage.Calendar
	for _, cal := range s.calendars {
		cp := *cal
		calendars = append(calendars, &cp)
	}

	return calendars, nil
}

func (s *Store) CreateCalendar(_ context.Context, cal *storage.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calendars[cal.ID]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "calendar already exists",
		}
	}

	now := time.Now()
	cp := *cal
	cp.Created = now
	cp.Modified = now
	s.calendars[cal.ID] = &cp

	return nil
}

func (s *Store) DeleteCalendar(_ context.Context, calendarID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calendars[calendarID]; !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "calendar not found",
		}
	}

	delete(s.calendars, calendarID)

	// Deletion cascades to contained events.
	for key, ev := range s.events {
		if ev.CalendarID == calendarID {
			delete(s.events, key)
		}
	}

	return nil
}

// Event operations

func (s *Store) GetEvent(_ context.Context, calendarID, eventID string) (*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[s.eventKey(calendarID, eventID)]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}

	return ev.Clone(), nil
}

func (s *Store) ListEvents(_ context.Context, calendarID string) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.calendars[calendarID]; !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "calendar not found",
		}
	}

	var events []*storage.Event
	for _, ev := range s.events {
		if ev.CalendarID == calendarID {
			events = append(events, ev.Clone())
		}
	}

	return events, nil
}

func (s *Store) PutEvent(_ context.Context, event *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calendars[event.CalendarID]; !ok {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "calendar not found",
		}
	}

	key := s.eventKey(event.CalendarID, event.ID)
	cp := event.Clone()
	now := time.Now()
	if existing, ok := s.events[key]; ok {
		cp.Created = existing.Created
	} else {
		cp.Created = now
	}
	cp.Modified = now
	s.events[key] = cp

	return nil
}

func (s *Store) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.eventKey(calendarID, eventID)
	if _, exists := s.events[key]; !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}

	delete(s.events, key)
	return nil
}
