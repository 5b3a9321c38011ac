package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedFixture = `[
  {
    "name": "Analysis",
    "start": "2024-10-07T08:15:00",
    "end": "2024-10-07T09:45:00",
    "location": {"name": "AH IV", "street": "Ahornstr.", "nr": "55", "desc": null},
    "lecturer": {"name": "Doe", "mail": "doe@example.org"},
    "information": "Erste Woche",
    "isHoliday": "0",
    "isExercise": "0",
    "isLecture": "1"
  },
  {
    "name": "Feiertag",
    "start": "2024-10-03T00:00:00",
    "end": "2024-10-03T23:59:00",
    "location": {"name": null, "street": null, "nr": null, "desc": null},
    "lecturer": {"name": null, "mail": null},
    "information": null,
    "isHoliday": "1",
    "isExercise": null,
    "allDay": true,
    "isLecture": "0"
  }
]`

func TestSemesterWindow(t *testing.T) {
	winter := Semester{Year: 2024, Winter: true}
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), winter.Start())
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), winter.End())
	assert.Equal(t, "2024-ws", winter.String())

	summer := Semester{Year: 2024}
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), summer.Start())
	assert.Equal(t, time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC), summer.End())
	assert.Equal(t, "2024-ss", summer.String())
}

func TestCurrentSemester(t *testing.T) {
	tests := []struct {
		now  time.Time
		want Semester
	}{
		{time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), Semester{Year: 2024, Winter: true}},
		{time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), Semester{Year: 2024, Winter: true}},
		{time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), Semester{Year: 2025}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CurrentSemester(tt.now))
	}
}

func TestEventDecoding(t *testing.T) {
	var events []Event
	require.NoError(t, json.Unmarshal([]byte(feedFixture), &events))
	require.Len(t, events, 2)

	lecture := events[0]
	assert.Equal(t, "Analysis", lecture.Name)
	assert.True(t, bool(lecture.IsLecture))
	assert.False(t, bool(lecture.IsHoliday))
	assert.Equal(t, "LECTURE", lecture.Category())
	// 08:15 Berlin in October is 06:15 UTC (CEST).
	assert.Equal(t, time.Date(2024, 10, 7, 6, 15, 0, 0, time.UTC), lecture.Start.Time)
	assert.Equal(t, "AH IV\nAhornstr. 55", lecture.Location.String())
	assert.Equal(t, "CN=Doe:MAILTO:doe@example.org", lecture.Lecturer.String())

	holiday := events[1]
	assert.True(t, bool(holiday.IsHoliday))
	assert.False(t, bool(holiday.IsExercise)) // null decodes to false
	assert.True(t, holiday.IsAllDay)
	assert.Equal(t, "Holiday", holiday.Category())
	assert.False(t, holiday.Location.HasInformation())
	assert.False(t, holiday.Lecturer.HasInformation())
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{BaseURL: srv.URL + "/eventFeed/"})
	require.NoError(t, err)
	return client, srv
}

func TestClient_AcademicYearEvents(t *testing.T) {
	var mu sync.Mutex
	var requests []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.String())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(feedFixture))
	}))

	sem := Semester{Year: 2024, Winter: true}
	events, err := client.AcademicYearEvents(context.Background(), sem, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.Len(t, requests, 1)
	assert.Contains(t, requests[0], "/eventFeed/1")
	assert.Contains(t, requests[0], "start=2024-09-01")
	assert.Contains(t, requests[0], "end=2025-03-15")

	// Second call within the TTL is served from cache.
	_, err = client.AcademicYearEvents(context.Background(), sem, 1)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
}

func TestClient_AcademicYearBounds(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	_, err := client.AcademicYearEvents(context.Background(), Semester{Year: 2024}, 0)
	assert.Error(t, err)
	_, err = client.AcademicYearEvents(context.Background(), Semester{Year: 2024}, 5)
	assert.Error(t, err)
}

func TestClient_AllEventsSkipsFailingYears(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only academic year 2 has data; everything else is a client error.
		if r.URL.Path == "/eventFeed/2" {
			w.Write([]byte(feedFixture))
			return
		}
		http.Error(w, "nope", http.StatusNotFound)
	}))

	events := client.AllEvents(context.Background(), Semester{Year: 2024, Winter: true})
	assert.Len(t, events, 2)
}

func TestClient_SelectedEvents(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/eventFeed/1" {
			w.Write([]byte(feedFixture))
			return
		}
		w.Write([]byte("[]"))
	}))

	events := client.SelectedEvents(context.Background(), Semester{Year: 2024, Winter: true}, []string{"Analysis"})
	require.Len(t, events, 1)
	assert.Equal(t, "Analysis", events[0].Name)
}

func TestClient_EventCategoriesExcludesHolidays(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/eventFeed/1" {
			w.Write([]byte(feedFixture))
			return
		}
		w.Write([]byte("[]"))
	}))

	categories := client.EventCategories(context.Background(), Semester{Year: 2024, Winter: true})
	require.Len(t, categories, 4)
	assert.Equal(t, "1. Lehrjahr", categories[0].Name)
	assert.Equal(t, []string{"Analysis"}, categories[0].Courses)
	assert.Empty(t, categories[1].Courses)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("[]"))
	}))

	_, err := client.AcademicYearEvents(context.Background(), Semester{Year: 2024}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
