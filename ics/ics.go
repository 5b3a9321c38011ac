// Package ics renders materialized occurrences as an iCalendar document.
package ics

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

const (
	prodID    = "-//morbatex/calendar/matse"
	uidDomain = "matse.morbatex.com"
)

// Metadata keys picked up from events when rendering.
const (
	MetaDescription = "description"
	MetaLocation    = "location"
	MetaOrganizer   = "organizer"
	MetaCategory    = "category"
)

// Encode renders the occurrences as a VCALENDAR. Event lookup supplies
// titles and metadata; occurrences without a known event are skipped.
func Encode(occs []recurrence.Occurrence, events map[string]*storage.Event) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	now := time.Now().UTC()
	for _, occ := range occs {
		ev, ok := events[occ.EventID]
		if !ok {
			continue
		}
		cal.Children = append(cal.Children, occurrenceComponent(occ, ev, now))
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func occurrenceComponent(occ recurrence.Occurrence, ev *storage.Event, stamp time.Time) *ical.Component {
	out := ical.NewEvent()
	out.Props.SetText(ical.PropUID, occurrenceUID(occ, ev))
	out.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	out.Props.SetDateTime(ical.PropDateTimeStart, occ.Start.UTC())
	out.Props.SetDateTime(ical.PropDateTimeEnd, occ.End.UTC())
	out.Props.SetText(ical.PropSummary, ev.Title)

	if desc := ev.Metadata[MetaDescription]; desc != "" {
		// Upstream descriptions carry HTML line breaks.
		out.Props.SetText(ical.PropDescription, strings.ReplaceAll(desc, "<br />", "\n"))
	}
	if loc := ev.Metadata[MetaLocation]; loc != "" {
		out.Props.SetText(ical.PropLocation, loc)
	}
	if org := ev.Metadata[MetaOrganizer]; org != "" {
		out.Props.SetText(ical.PropOrganizer, org)
	}
	if cat := ev.Metadata[MetaCategory]; cat != "" {
		out.Props.SetText(ical.PropCategories, cat)
	}

	return out.Component
}

// occurrenceUID builds a stable identifier from the occurrence start and the
// event title, matching the feed's historical UID shape.
func occurrenceUID(occ recurrence.Occurrence, ev *storage.Event) string {
	name := strings.ReplaceAll(strings.ToLower(ev.Title), " ", "_")
	return fmt.Sprintf("%s-%s@%s", occ.Start.UTC().Format("20060102T150405Z"), name, uidDomain)
}
