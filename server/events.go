package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/mo"

	"github.com/morbatex/matsecal/scheduler"
	"github.com/morbatex/matsecal/scheduler/recurrence"
)

const timeLayout = time.RFC3339

type eventRequest struct {
	ID             string            `json:"id,omitempty"`
	Title          string            `json:"title"`
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Rule           *recurrence.Rule  `json:"rule,omitempty"`
	Exceptions     []time.Time       `json:"exceptions,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Cancellable    bool              `json:"cancellable,omitempty"`
	CheckConflicts bool              `json:"checkConflicts,omitempty"`
}

// eventPatchRequest distinguishes absent fields from explicit nulls: an
// absent field keeps the current value, "rule": null clears the rule.
type eventPatchRequest struct {
	Title          *string            `json:"title"`
	Start          *time.Time         `json:"start"`
	End            *time.Time         `json:"end"`
	Rule           json.RawMessage    `json:"rule"`
	Exceptions     *[]time.Time       `json:"exceptions"`
	Metadata       *map[string]string `json:"metadata"`
	Cancellable    *bool              `json:"cancellable"`
	CheckConflicts *bool              `json:"checkConflicts"`
}

type moveRequest struct {
	Start time.Time `json:"start"`
}

type occurrenceResponse struct {
	EventID string    `json:"eventId"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

func occurrencesResponse(occs []recurrence.Occurrence) []occurrenceResponse {
	out := make([]occurrenceResponse, 0, len(occs))
	for _, occ := range occs {
		out = append(out, occurrenceResponse{EventID: occ.EventID, Start: occ.Start, End: occ.End})
	}
	return out
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	id, err := s.sched.CreateEvent(r.Context(), r.PathValue("calendar"), scheduler.EventDraft{
		ID:             req.ID,
		Title:          req.Title,
		Start:          req.Start,
		End:            req.End,
		Rule:           req.Rule,
		Exceptions:     req.Exceptions,
		Metadata:       req.Metadata,
		Cancellable:    req.Cancellable,
		CheckConflicts: req.CheckConflicts,
	})
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	patch, err := req.patch()
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	if err := s.sched.UpdateEvent(r.Context(), r.PathValue("calendar"), r.PathValue("event"), patch); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (req eventPatchRequest) patch() (scheduler.EventPatch, error) {
	var patch scheduler.EventPatch
	if req.Title != nil {
		patch.Title = mo.Some(*req.Title)
	}
	if req.Start != nil {
		patch.Start = mo.Some(*req.Start)
	}
	if req.End != nil {
		patch.End = mo.Some(*req.End)
	}
	if len(req.Rule) > 0 {
		if bytes.Equal(req.Rule, []byte("null")) {
			patch.Rule = mo.Some[*recurrence.Rule](nil)
		} else {
			rule := &recurrence.Rule{}
			if err := json.Unmarshal(req.Rule, rule); err != nil {
				return patch, err
			}
			patch.Rule = mo.Some(rule)
		}
	}
	if req.Exceptions != nil {
		patch.Exceptions = mo.Some(*req.Exceptions)
	}
	if req.Metadata != nil {
		patch.Metadata = mo.Some(*req.Metadata)
	}
	if req.Cancellable != nil {
		patch.Cancellable = mo.Some(*req.Cancellable)
	}
	if req.CheckConflicts != nil {
		patch.CheckConflicts = mo.Some(*req.CheckConflicts)
	}
	return patch, nil
}

func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := s.sched.MoveEvent(r.Context(), r.PathValue("calendar"), r.PathValue("event"), req.Start); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteEvent(r.Context(), r.PathValue("calendar"), r.PathValue("event")); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCalendar(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.DeleteCalendar(r.Context(), r.PathValue("calendar")); err != nil {
		s.sendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryRange(w http.ResponseWriter, r *http.Request) {
	window, ok := s.parseWindow(w, r)
	if !ok {
		return
	}

	occs, err := s.sched.QueryRange(r.Context(), r.PathValue("calendar"), window)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse(occs))
}

func (s *Server) handleFindConflicts(w http.ResponseWriter, r *http.Request) {
	window, ok := s.parseWindow(w, r)
	if !ok {
		return
	}

	report, err := s.sched.FindConflicts(r.Context(), r.PathValue("calendar"), window)
	if err != nil {
		s.sendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Start     time.Time            `json:"start"`
		End       time.Time            `json:"end"`
		Conflicts []occurrenceResponse `json:"conflicts"`
	}{
		Start:     report.Span.Start,
		End:       report.Span.End,
		Conflicts: occurrencesResponse(report.Conflicts),
	})
}

func (s *Server) parseWindow(w http.ResponseWriter, r *http.Request) (recurrence.Span, bool) {
	start, err := time.Parse(timeLayout, r.URL.Query().Get("start"))
	if err != nil {
		s.badRequest(w, "invalid start: "+err.Error())
		return recurrence.Span{}, false
	}
	end, err := time.Parse(timeLayout, r.URL.Query().Get("end"))
	if err != nil {
		s.badRequest(w, "invalid end: "+err.Error())
		return recurrence.Span{}, false
	}
	return recurrence.Span{Start: start, End: end}, true
}
