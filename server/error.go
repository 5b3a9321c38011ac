package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/morbatex/matsecal/scheduler"
	"github.com/morbatex/matsecal/scheduler/recurrence"
	"github.com/morbatex/matsecal/scheduler/storage"
)

type errorResponse struct {
	Error     string               `json:"error"`
	Conflicts []conflictOccurrence `json:"conflicts,omitempty"`
}

type conflictOccurrence struct {
	EventID string `json:"eventId"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var cerr *scheduler.ConflictError
	switch {
	case errors.As(err, &cerr):
		status = http.StatusConflict
		for _, occ := range cerr.Conflicts {
			resp.Conflicts = append(resp.Conflicts, conflictOccurrence{
				EventID: occ.EventID,
				Start:   occ.Start.Format(timeLayout),
				End:     occ.End.Format(timeLayout),
			})
		}
	case storage.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, scheduler.ErrInvalidSpan),
		errors.Is(err, recurrence.ErrInvalidRule),
		errors.Is(err, recurrence.ErrInvalidWindow):
		status = http.StatusBadRequest
	case storage.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
