package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "matsecal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CalendarRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetCalendar(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))

	require.NoError(t, store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1", Owner: "alice"}))

	err = store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1"})
	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storage.ErrAlreadyExists, serr.Type)

	cal, err := store.GetCalendar(ctx, "cal1")
	require.NoError(t, err)
	assert.Equal(t, "alice", cal.Owner)
	assert.False(t, cal.Created.IsZero())

	calendars, err := store.ListCalendars(ctx)
	require.NoError(t, err)
	assert.Len(t, calendars, 1)
}

func TestStore_EventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1"}))

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ev := &storage.Event{
		ID:         "e1",
		CalendarID: "cal1",
		Title:      "lecture",
		Start:      start,
		End:        start.Add(90 * time.Minute),
		Rule: &recurrence.Rule{
			Freq:     recurrence.Weekly,
			Interval: 1,
			Count:    12,
			ByDay:    []time.Weekday{time.Monday, time.Thursday},
		},
		Exceptions:     []time.Time{start.AddDate(0, 0, 7)},
		Metadata:       map[string]string{"room": "AH IV", "category": "LECTURE"},
		CheckConflicts: true,
		Generation:     1,
	}
	require.NoError(t, store.PutEvent(ctx, ev))

	got, err := store.GetEvent(ctx, "cal1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "lecture", got.Title)
	assert.True(t, got.Start.Equal(start))
	require.NotNil(t, got.Rule)
	assert.Equal(t, recurrence.Weekly, got.Rule.Freq)
	assert.Equal(t, []time.Weekday{time.Monday, time.Thursday}, got.Rule.ByDay)
	require.Len(t, got.Exceptions, 1)
	assert.True(t, got.Exceptions[0].Equal(start.AddDate(0, 0, 7)))
	assert.Equal(t, "AH IV", got.Metadata["room"])
	assert.True(t, got.CheckConflicts)
	assert.EqualValues(t, 1, got.Generation)

	// Replacing through PutEvent keeps the original creation time.
	created := got.Created
	got.Title = "lecture (moved)"
	got.Generation = 2
	require.NoError(t, store.PutEvent(ctx, got))
	again, err := store.GetEvent(ctx, "cal1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "lecture (moved)", again.Title)
	assert.True(t, again.Created.Equal(created))
}

func TestStore_ListEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.ListEvents(ctx, "missing")
	assert.True(t, storage.IsNotFound(err))

	require.NoError(t, store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1"}))
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"e2", "e1"} {
		ev := &storage.Event{
			ID:         id,
			CalendarID: "cal1",
			Start:      start.Add(time.Duration(i) * time.Hour),
			End:        start.Add(time.Duration(i+1) * time.Hour),
		}
		require.NoError(t, store.PutEvent(ctx, ev))
	}

	events, err := store.ListEvents(ctx, "cal1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID) // ordered by start
}

func TestStore_DeleteCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1"}))
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ev := &storage.Event{ID: "e1", CalendarID: "cal1", Start: start, End: start.Add(time.Hour)}
	require.NoError(t, store.PutEvent(ctx, ev))

	require.NoError(t, store.DeleteCalendar(ctx, "cal1"))
	_, err := store.GetEvent(ctx, "cal1", "e1")
	assert.True(t, storage.IsNotFound(err))

	assert.True(t, storage.IsNotFound(store.DeleteCalendar(ctx, "cal1")))
}

func TestStore_DeleteEventIdempotence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCalendar(ctx, &storage.Calendar{ID: "cal1"}))
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ev := &storage.Event{ID: "e1", CalendarID: "cal1", Start: start, End: start.Add(time.Hour)}
	require.NoError(t, store.PutEvent(ctx, ev))

	require.NoError(t, store.DeleteEvent(ctx, "cal1", "e1"))
	assert.True(t, storage.IsNotFound(store.DeleteEvent(ctx, "cal1", "e1")))
}
