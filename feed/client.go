package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/morbatex/matsecal/internal/retry"
)

// DefaultBaseURL is the upstream timetable feed.
const DefaultBaseURL = "https://www.matse.itc.rwth-aachen.de/stundenplan/web/eventFeed/"

// DefaultCacheTTL matches the upstream refresh cadence.
const DefaultCacheTTL = 15 * time.Minute

const dateLayout = "2006-01-02"

// Client fetches feed events with a per-(semester, academic year) response
// cache and retry on transient failures.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	retryer    *retry.Retryer
	logger     *slog.Logger
	ttl        time.Duration

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

type cacheKey struct {
	semester     Semester
	academicYear int
}

type cacheEntry struct {
	events  []Event
	fetched time.Time
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL overrides DefaultBaseURL when non-empty.
	BaseURL string
	// CacheTTL overrides DefaultCacheTTL when positive.
	CacheTTL   time.Duration
	HTTPClient *http.Client
	Retry      *retry.Config
	Logger     *slog.Logger
}

// NewClient creates a feed client.
func NewClient(opts ClientOptions) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid feed base url: %w", err)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		retryer:    retry.NewRetryer(opts.Retry, logger),
		logger:     logger,
		ttl:        ttl,
		cache:      make(map[cacheKey]cacheEntry),
	}, nil
}

// AcademicYearEvents returns the events of one academic year (1..4) within
// the semester window, served from cache when fresh.
func (c *Client) AcademicYearEvents(ctx context.Context, semester Semester, academicYear int) ([]Event, error) {
	if academicYear < 1 || academicYear > len(AcademicYearNames) {
		return nil, fmt.Errorf("academic year must be in 1..%d, got %d", len(AcademicYearNames), academicYear)
	}

	key := cacheKey{semester: semester, academicYear: academicYear}
	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && time.Since(entry.fetched) < c.ttl {
		return entry.events, nil
	}

	events, err := c.fetch(ctx, semester, academicYear)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{events: events, fetched: time.Now()}
	c.mu.Unlock()
	return events, nil
}

// AllEvents returns the events of every academic year. Years that fail to
// fetch are logged and skipped, matching the upstream service's tolerance
// for partial feeds.
func (c *Client) AllEvents(ctx context.Context, semester Semester) []Event {
	var events []Event
	for year := 1; year <= len(AcademicYearNames); year++ {
		yearEvents, err := c.AcademicYearEvents(ctx, semester, year)
		if err != nil {
			c.logger.Warn("failed to fetch academic year",
				"semester", semester.String(),
				"academic_year", year,
				"err", err)
			continue
		}
		events = append(events, yearEvents...)
	}
	return events
}

// SelectedEvents returns all events whose name is in courses.
func (c *Client) SelectedEvents(ctx context.Context, semester Semester, courses []string) []Event {
	wanted := make(map[string]bool, len(courses))
	for _, course := range courses {
		wanted[course] = true
	}

	var selected []Event
	for _, ev := range c.AllEvents(ctx, semester) {
		if wanted[ev.Name] {
			selected = append(selected, ev)
		}
	}
	return selected
}

// Categories lists per academic year the distinct course names on offer,
// holidays excluded.
type Categories struct {
	Name    string   `json:"name"`
	Courses []string `json:"curses"`
}

// EventCategories returns the course catalogue per academic year.
func (c *Client) EventCategories(ctx context.Context, semester Semester) []Categories {
	out := make([]Categories, 0, len(AcademicYearNames))
	for year := 1; year <= len(AcademicYearNames); year++ {
		events, err := c.AcademicYearEvents(ctx, semester, year)
		if err != nil {
			c.logger.Warn("failed to fetch academic year",
				"semester", semester.String(),
				"academic_year", year,
				"err", err)
			events = nil
		}

		names := make(map[string]bool)
		for _, ev := range events {
			if !ev.IsHoliday {
				names[ev.Name] = true
			}
		}
		courses := make([]string, 0, len(names))
		for name := range names {
			courses = append(courses, name)
		}
		sort.Strings(courses)

		out = append(out, Categories{Name: AcademicYearNames[year-1], Courses: courses})
	}
	return out
}

func (c *Client) fetch(ctx context.Context, semester Semester, academicYear int) ([]Event, error) {
	u := c.baseURL.JoinPath(fmt.Sprintf("%d", academicYear))
	q := u.Query()
	q.Set("start", semester.Start().Format(dateLayout))
	q.Set("end", semester.End().Format(dateLayout))
	u.RawQuery = q.Encode()

	var events []Event
	err := c.retryer.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("feed returned status %d", resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		events = nil
		if err := json.Unmarshal(body, &events); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode feed: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched feed events",
		"semester", semester.String(),
		"academic_year", academicYear,
		"count", len(events))
	return events, nil
}
