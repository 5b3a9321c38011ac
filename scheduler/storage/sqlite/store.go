// Package sqlite provides a SQLite-backed implementation of
// storage.Storage. Uses WAL mode so reads proceed during writes.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage for calendars and events.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path. Applies the
// required pragmas and the schema automatically; safe to call repeatedly.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY errors under concurrent mutations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Calendar operations

func (s *Store) GetCalendar(ctx context.Context, calendarID string) (*storage.Calendar, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, created, modified FROM calendars WHERE id = ?`, calendarID)

	var cal storage.Calendar
	var created, modified string
	if err := row.Scan(&cal.ID, &cal.Owner, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &storage.Error{Type: storage.ErrNotFound, Message: "calendar not found"}
		}
		return nil, unavailable("get calendar", err)
	}
	cal.Created = parseTime(created)
	cal.Modified = parseTime(modified)
	return &cal, nil
}

func (s *Store) ListCalendars(ctx context.Context) ([]*storage.Calendar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, created, modified FROM calendars ORDER BY id`)
	if err != nil {
		return nil, unavailable("list calendars", err)
	}
	defer rows.Close()

	var calendars []*storage.Calendar
	for rows.Next() {
		var cal storage.Calendar
		var created, modified string
		if err := rows.Scan(&cal.ID, &cal.Owner, &created, &modified); err != nil {
			return nil, unavailable("scan calendar", err)
		}
		cal.Created = parseTime(created)
		cal.Modified = parseTime(modified)
		calendars = append(calendars, &cal)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list calendars", err)
	}
	return calendars, nil
}

func (s *Store) CreateCalendar(ctx context.Context, cal *storage.Calendar) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendars (id, owner, created, modified) VALUES (?, ?, ?, ?)`,
		cal.ID, cal.Owner, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return &storage.Error{Type: storage.ErrAlreadyExists, Message: "calendar already exists"}
		}
		return unavailable("create calendar", err)
	}
	return nil
}

func (s *Store) DeleteCalendar(ctx context.Context, calendarID string) error {
	// ON DELETE CASCADE removes the contained events.
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, calendarID)
	if err != nil {
		return unavailable("delete calendar", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete calendar", err)
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "calendar not found"}
	}
	return nil
}

// Event operations

const eventColumns = `calendar_id, id, title, start_utc, end_utc, rule, exceptions,
	metadata, cancellable, check_conflicts, generation, created, modified`

func (s *Store) GetEvent(ctx context.Context, calendarID, eventID string) (*storage.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND id = ?`,
		calendarID, eventID)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
		}
		return nil, unavailable("get event", err)
	}
	return ev, nil
}

func (s *Store) ListEvents(ctx context.Context, calendarID string) ([]*storage.Event, error) {
	if _, err := s.GetCalendar(ctx, calendarID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? ORDER BY start_utc, id`,
		calendarID)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, unavailable("scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list events", err)
	}
	return events, nil
}

func (s *Store) PutEvent(ctx context.Context, event *storage.Event) error {
	if _, err := s.GetCalendar(ctx, event.CalendarID); err != nil {
		return err
	}

	ruleJSON, err := marshalNullable(event.Rule)
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "encode rule", Err: err}
	}
	exceptions, err := json.Marshal(timesUTC(event.Exceptions))
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "encode exceptions", Err: err}
	}
	metadata, err := json.Marshal(orEmpty(event.Metadata))
	if err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "encode metadata", Err: err}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (calendar_id, id) DO UPDATE SET
			title = excluded.title,
			start_utc = excluded.start_utc,
			end_utc = excluded.end_utc,
			rule = excluded.rule,
			exceptions = excluded.exceptions,
			metadata = excluded.metadata,
			cancellable = excluded.cancellable,
			check_conflicts = excluded.check_conflicts,
			generation = excluded.generation,
			modified = excluded.modified`,
		event.CalendarID, event.ID, event.Title,
		event.Start.UTC().Format(time.RFC3339Nano), event.End.UTC().Format(time.RFC3339Nano),
		ruleJSON, string(exceptions), string(metadata),
		boolToInt(event.Cancellable), boolToInt(event.CheckConflicts),
		event.Generation, now, now)
	if err != nil {
		return unavailable("put event", err)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE calendar_id = ? AND id = ?`, calendarID, eventID)
	if err != nil {
		return unavailable("delete event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete event", err)
	}
	if n == 0 {
		return &storage.Error{Type: storage.ErrNotFound, Message: "event not found"}
	}
	return nil
}

// Helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*storage.Event, error) {
	var ev storage.Event
	var start, end, exceptions, metadata, created, modified string
	var rule sql.NullString
	var cancellable, checkConflicts int

	err := row.Scan(&ev.CalendarID, &ev.ID, &ev.Title, &start, &end, &rule,
		&exceptions, &metadata, &cancellable, &checkConflicts,
		&ev.Generation, &created, &modified)
	if err != nil {
		return nil, err
	}

	ev.Start = parseTime(start)
	ev.End = parseTime(end)
	ev.Cancellable = cancellable != 0
	ev.CheckConflicts = checkConflicts != 0
	ev.Created = parseTime(created)
	ev.Modified = parseTime(modified)

	if rule.Valid && rule.String != "" {
		var r recurrence.Rule
		if err := json.Unmarshal([]byte(rule.String), &r); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		ev.Rule = &r
	}
	if err := json.Unmarshal([]byte(exceptions), &ev.Exceptions); err != nil {
		return nil, fmt.Errorf("decode exceptions: %w", err)
	}
	if len(ev.Exceptions) == 0 {
		ev.Exceptions = nil
	}
	if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if len(ev.Metadata) == 0 {
		ev.Metadata = nil
	}

	return &ev, nil
}

func marshalNullable(rule *recurrence.Rule) (any, error) {
	if rule == nil {
		return nil, nil
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func timesUTC(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.UTC()
	}
	return out
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint failures in the error text;
	// matching it avoids importing the cgo error codes here.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func unavailable(op string, err error) error {
	return &storage.Error{Type: storage.ErrUnavailable, Message: op, Err: err}
}
