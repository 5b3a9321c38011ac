// Package feed fetches the upstream MATSE timetable feed and imports it
// into the scheduler.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// AcademicYearNames labels the four upstream feed groups.
var AcademicYearNames = [4]string{"1. Lehrjahr", "2. Lehrjahr", "3. Lehrjahr", "Wahlpflicht"}

// Semester identifies one teaching period. The winter semester of year Y
// runs from Sep 1 of Y to Mar 15 of Y+1; the summer semester from Mar 1 to
// Sep 15 of Y.
type Semester struct {
	Year   int
	Winter bool
}

// Start returns the first day of the semester window.
func (s Semester) Start() time.Time {
	if s.Winter {
		return time.Date(s.Year, time.September, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(s.Year, time.March, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the semester window.
func (s Semester) End() time.Time {
	if s.Winter {
		return time.Date(s.Year+1, time.March, 15, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(s.Year, time.September, 15, 0, 0, 0, 0, time.UTC)
}

func (s Semester) String() string {
	if s.Winter {
		return fmt.Sprintf("%d-ws", s.Year)
	}
	return fmt.Sprintf("%d-ss", s.Year)
}

// CurrentSemester derives the semester containing now.
func CurrentSemester(now time.Time) Semester {
	switch {
	case now.Month() >= time.September:
		return Semester{Year: now.Year(), Winter: true}
	case now.Month() < time.March:
		return Semester{Year: now.Year() - 1, Winter: true}
	default:
		return Semester{Year: now.Year(), Winter: false}
	}
}

// Event is one entry of the upstream feed.
type Event struct {
	Name        string    `json:"name"`
	Start       LocalTime `json:"start"`
	End         LocalTime `json:"end"`
	Location    Location  `json:"location"`
	Lecturer    Lecturer  `json:"lecturer"`
	Information string    `json:"information"`
	IsHoliday   Flag      `json:"isHoliday"`
	IsExercise  Flag      `json:"isExercise"`
	IsAllDay    bool      `json:"allDay"`
	IsLecture   Flag      `json:"isLecture"`
}

// Category returns the ICS category label for the event, empty when none
// applies. Lecture wins over exercise wins over holiday, as upstream does.
func (e Event) Category() string {
	switch {
	case bool(e.IsLecture):
		return "LECTURE"
	case bool(e.IsExercise):
		return "Exercise"
	case bool(e.IsHoliday):
		return "Holiday"
	default:
		return ""
	}
}

// Location describes where an event takes place. All fields are optional.
type Location struct {
	Name   *string `json:"name"`
	Street *string `json:"street"`
	Nr     *string `json:"nr"`
	Desc   *string `json:"desc"`
}

// HasInformation reports whether any location detail is present.
func (l Location) HasInformation() bool {
	return l.Name != nil || l.Street != nil || l.Desc != nil
}

func (l Location) String() string {
	var b strings.Builder
	if l.Name != nil {
		fmt.Fprintf(&b, "%s\n", *l.Name)
	}
	if l.Street != nil {
		nr := ""
		if l.Nr != nil {
			nr = *l.Nr
		}
		fmt.Fprintf(&b, "%s %s\n", *l.Street, nr)
	}
	if l.Desc != nil {
		b.WriteString(*l.Desc)
	}
	return strings.TrimSpace(b.String())
}

// Lecturer identifies the responsible lecturer. Rendered in the calendar
// ORGANIZER parameter shape.
type Lecturer struct {
	Name *string `json:"name"`
	Mail *string `json:"mail"`
}

// HasInformation reports whether any lecturer detail is present.
func (l Lecturer) HasInformation() bool {
	return l.Name != nil || l.Mail != nil
}

func (l Lecturer) String() string {
	switch {
	case l.Name != nil && l.Mail != nil:
		return fmt.Sprintf("CN=%s:MAILTO:%s", *l.Name, *l.Mail)
	case l.Name != nil:
		return fmt.Sprintf("CN=%s", *l.Name)
	case l.Mail != nil:
		return fmt.Sprintf(":MAILTO:%s", *l.Mail)
	default:
		return ""
	}
}

// Flag decodes the feed's stringly booleans: "0" and null mean false, any
// other string means true. Plain JSON booleans are accepted as well.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = s != "0"
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flag(b)
		return nil
	}
	return fmt.Errorf("cannot decode %q as flag", data)
}

// LocalTime decodes the feed's naive Europe/Berlin timestamps and carries
// them as UTC instants.
type LocalTime struct {
	time.Time
}

const localTimeLayout = "2006-01-02T15:04:05"

func (t *LocalTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(localTimeLayout, s, berlin())
	if err != nil {
		return fmt.Errorf("cannot decode %q as feed timestamp: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

var (
	berlinOnce sync.Once
	berlinLoc  *time.Location
)

func berlin() *time.Location {
	berlinOnce.Do(func() {
		loc, err := time.LoadLocation("Europe/Berlin")
		if err != nil {
			// No tzdata available; naive timestamps degrade to UTC.
			loc = time.UTC
		}
		berlinLoc = loc
	})
	return berlinLoc
}
