package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/lp_lending_risk/internal/domain"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, domain.ErrRunNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error(msg, zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err, "Failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, "Failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, newRunView(*run))
}

func (s *Server) handleListDays(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err, "Failed to get run")
		return
	}

	days, err := s.runs.ListDays(r.Context(), id)
	if err != nil {
		s.writeError(w, err, "Failed to list days")
		return
	}

	views := make([]dayView, 0, len(days))
	for _, d := range days {
		views = append(views, newDayView(d))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListPositionLines(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		http.Error(w, "Invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if _, err := s.runs.GetRun(r.Context(), id); err != nil {
		s.writeError(w, err, "Failed to get run")
		return
	}

	lines, err := s.runs.ListPositionLines(r.Context(), id, date)
	if err != nil {
		s.writeError(w, err, "Failed to list position lines")
		return
	}

	views := make([]lineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, newLineView(l))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, status)
}
