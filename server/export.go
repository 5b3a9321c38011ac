package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/morbatex/matsecal/feed"
	"github.com/morbatex/matsecal/ics"
	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

// handleExport serves the upstream timetable as an ICS download. With no
// curses parameter every course is included.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	semester, ok := s.parseSemester(w, r)
	if !ok {
		return
	}

	var events []feed.Event
	if courses := parseCourses(r); len(courses) > 0 {
		events = s.feed.SelectedEvents(r.Context(), semester, courses)
	} else {
		events = s.feed.AllEvents(r.Context(), semester)
	}

	occs := make([]recurrence.Occurrence, 0, len(events))
	byID := make(map[string]*storage.Event, len(events))
	for _, ev := range events {
		draft := feed.Draft(ev)
		byID[draft.ID] = &storage.Event{
			ID:       draft.ID,
			Title:    draft.Title,
			Start:    draft.Start,
			End:      draft.End,
			Metadata: draft.Metadata,
		}
		occs = append(occs, recurrence.Occurrence{
			EventID: draft.ID,
			Start:   draft.Start,
			End:     draft.End,
		})
	}

	body, err := ics.Encode(occs, byID)
	if err != nil {
		s.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="matse.ics"`)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleEventCategories(w http.ResponseWriter, r *http.Request) {
	semester, ok := s.parseSemester(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.feed.EventCategories(r.Context(), semester))
}

// parseSemester reads the winter_semester and year query parameters, falling
// back to the semester containing the wall clock.
func (s *Server) parseSemester(w http.ResponseWriter, r *http.Request) (feed.Semester, bool) {
	semester := feed.CurrentSemester(time.Now())
	q := r.URL.Query()

	if raw := q.Get("year"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			s.badRequest(w, "invalid year: "+err.Error())
			return feed.Semester{}, false
		}
		semester.Year = year
	}
	if raw := q.Get("winter_semester"); raw != "" {
		winter, err := strconv.ParseBool(raw)
		if err != nil {
			s.badRequest(w, "invalid winter_semester: "+err.Error())
			return feed.Semester{}, false
		}
		semester.Winter = winter
	}
	return semester, true
}

// parseCourses accepts both repeated curses parameters and a single
// comma-separated one, as existing feed consumers send either form.
func parseCourses(r *http.Request) []string {
	var courses []string
	for _, raw := range r.URL.Query()["curses"] {
		for _, course := range strings.Split(raw, ",") {
			if course = strings.TrimSpace(course); course != "" {
				courses = append(courses, course)
			}
		}
	}
	return courses
}
