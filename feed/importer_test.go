package feed

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morbatex/matsecal/ics"
	"github.com/morbatex/matsecal/scheduler"
	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage/memory"
)

func TestDraft(t *testing.T) {
	name := "AH IV"
	street := "Ahornstr."
	nr := "55"
	lecturer := "Doe"
	mail := "doe@example.org"

	ev := Event{
		Name:        "Analysis",
		Start:       LocalTime{Time: time.Date(2024, 10, 7, 6, 15, 0, 0, time.UTC)},
		End:         LocalTime{Time: time.Date(2024, 10, 7, 7, 45, 0, 0, time.UTC)},
		Location:    Location{Name: &name, Street: &street, Nr: &nr},
		Lecturer:    Lecturer{Name: &lecturer, Mail: &mail},
		Information: "Erste Woche",
		IsLecture:   true,
	}

	draft := Draft(ev)
	assert.Equal(t, "20241007T061500Z-analysis", draft.ID)
	assert.Equal(t, "Analysis", draft.Title)
	assert.Equal(t, ev.Start.Time, draft.Start)
	assert.Equal(t, ev.End.Time, draft.End)
	assert.False(t, draft.Cancellable)
	assert.Equal(t, "Erste Woche", draft.Metadata[ics.MetaDescription])
	assert.Equal(t, "AH IV\nAhornstr. 55", draft.Metadata[ics.MetaLocation])
	assert.Equal(t, "CN=Doe:MAILTO:doe@example.org", draft.Metadata[ics.MetaOrganizer])
	assert.Equal(t, "LECTURE", draft.Metadata[ics.MetaCategory])
}

func TestDraftAllDayHoliday(t *testing.T) {
	ev := Event{
		Name:      "Feiertag",
		Start:     LocalTime{Time: time.Date(2024, 10, 2, 22, 0, 0, 0, time.UTC)},
		End:       LocalTime{Time: time.Date(2024, 10, 3, 21, 59, 0, 0, time.UTC)},
		IsHoliday: true,
		IsAllDay:  true,
	}

	draft := Draft(ev)
	assert.Equal(t, draft.Start.Add(24*time.Hour), draft.End)
	assert.True(t, draft.Cancellable)
	assert.Equal(t, "Holiday", draft.Metadata[ics.MetaCategory])
}

func TestImporter_Refresh(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/eventFeed/1" {
			w.Write([]byte(feedFixture))
			return
		}
		w.Write([]byte("[]"))
	}))

	sched, err := scheduler.New(memory.New(), scheduler.Options{})
	require.NoError(t, err)
	imp := NewImporter(client, sched, nil)

	ctx := context.Background()
	semester := Semester{Year: 2024, Winter: true}
	require.NoError(t, imp.Refresh(ctx, semester))

	window := recurrence.Span{Start: semester.Start(), End: semester.End()}
	occs, err := sched.QueryRange(ctx, CalendarID(semester, 1), window)
	require.NoError(t, err)
	assert.Len(t, occs, 2)

	// A second refresh replaces the calendar instead of duplicating it.
	require.NoError(t, imp.Refresh(ctx, semester))
	occs, err = sched.QueryRange(ctx, CalendarID(semester, 1), window)
	require.NoError(t, err)
	assert.Len(t, occs, 2)
}
