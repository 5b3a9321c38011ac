// Package server exposes the scheduler over HTTP: a JSON API for calendar
// mutations and range queries, plus the timetable export endpoints.
package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/morbatex/matsecal/feed"
	"github.com/morbatex/matsecal/scheduler"
)

// Server routes HTTP requests to the scheduler and feed client.
type Server struct {
	sched  *scheduler.Scheduler
	feed   *feed.Client
	logger *slog.Logger
}

// Options configures a Server.
type Options struct {
	// Feed enables the timetable export endpoints when non-nil.
	Feed   *feed.Client
	Logger *slog.Logger
}

// New creates a Server around the scheduler.
func New(sched *scheduler.Scheduler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		sched:  sched,
		feed:   opts.Feed,
		logger: logger,
	}
}

// Handler builds the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /calendars/{calendar}/events", s.handleCreateEvent)
	mux.HandleFunc("PATCH /calendars/{calendar}/events/{event}", s.handleUpdateEvent)
	mux.HandleFunc("POST /calendars/{calendar}/events/{event}/move", s.handleMoveEvent)
	mux.HandleFunc("DELETE /calendars/{calendar}/events/{event}", s.handleDeleteEvent)
	mux.HandleFunc("GET /calendars/{calendar}/events", s.handleQueryRange)
	mux.HandleFunc("GET /calendars/{calendar}/conflicts", s.handleFindConflicts)
	mux.HandleFunc("DELETE /calendars/{calendar}", s.handleDeleteCalendar)

	if s.feed != nil {
		mux.HandleFunc("GET /calendar", s.handleExport)
		mux.HandleFunc("GET /eventCategories", s.handleEventCategories)
	}
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
