package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morbatex/matsecal/ics"
	"github.com/morbatex/matsecal/scheduler"
	"github.com/morbatex/matsecal/scheduler/storage"
)

// Importer mirrors the upstream feed into scheduler calendars, one per
// semester and academic year, so feed events participate in range queries
// and conflict reports.
type Importer struct {
	client *Client
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewImporter creates an importer on top of an existing client.
func NewImporter(client *Client, sched *scheduler.Scheduler, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{client: client, sched: sched, logger: logger}
}

// CalendarID names the calendar holding one academic year's feed events.
func CalendarID(semester Semester, academicYear int) string {
	return fmt.Sprintf("matse-%s-year%d", semester, academicYear)
}

// Refresh replaces the imported calendars of the given semester with the
// current feed content. The feed is the source of truth here, so each
// calendar is rebuilt rather than diffed.
func (imp *Importer) Refresh(ctx context.Context, semester Semester) error {
	for year := 1; year <= len(AcademicYearNames); year++ {
		events, err := imp.client.AcademicYearEvents(ctx, semester, year)
		if err != nil {
			return fmt.Errorf("failed to fetch academic year %d: %w", year, err)
		}

		calendarID := CalendarID(semester, year)
		if err := imp.sched.DeleteCalendar(ctx, calendarID); err != nil && !storage.IsNotFound(err) {
			return err
		}

		imported := 0
		for _, ev := range events {
			if _, err := imp.sched.CreateEvent(ctx, calendarID, Draft(ev)); err != nil {
				// Upstream occasionally repeats entries; skip and go on.
				imp.logger.Warn("skipping feed event",
					"calendar", calendarID,
					"event", ev.Name,
					"err", err)
				continue
			}
			imported++
		}

		imp.logger.Info("imported feed calendar",
			"calendar", calendarID,
			"events", imported)
	}
	return nil
}

// Draft converts a feed event into a scheduler draft. The identifier is
// derived from start instant and name so re-imports stay stable.
func Draft(ev Event) scheduler.EventDraft {
	start := ev.Start.Time
	end := ev.End.Time
	if ev.IsAllDay {
		end = start.Add(24 * time.Hour)
	}

	metadata := map[string]string{}
	if info := ev.Information; info != "" {
		metadata[ics.MetaDescription] = info
	}
	if ev.Location.HasInformation() {
		metadata[ics.MetaLocation] = ev.Location.String()
	}
	if ev.Lecturer.HasInformation() {
		metadata[ics.MetaOrganizer] = ev.Lecturer.String()
	}
	if cat := ev.Category(); cat != "" {
		metadata[ics.MetaCategory] = cat
	}

	return scheduler.EventDraft{
		ID:    eventID(ev),
		Title: ev.Name,
		Start: start,
		End:   end,
		// Holidays span whole days without blocking anything.
		Cancellable: bool(ev.IsHoliday),
		Metadata:    metadata,
	}
}

func eventID(ev Event) string {
	name := strings.ReplaceAll(strings.ToLower(ev.Name), " ", "_")
	return fmt.Sprintf("%s-%s", ev.Start.UTC().Format("20060102T150405Z"), name)
}
