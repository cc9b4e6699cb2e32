package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/scheduler"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CatalogSize:   len(catalog.All()),
	})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	cases := catalog.All()
	infos := make([]TestCaseInfo, 0, len(cases))
	for _, c := range cases {
		infos = append(infos, TestCaseInfo{
			ID:          c.ID,
			Kind:        string(c.Kind),
			Category:    string(c.Category),
			Description: c.Description,
		})
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	paths := r.URL.Query()["path"]
	if len(paths) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one path query parameter is required")
		return
	}
	respondJSON(w, http.StatusOK, s.scan(paths...))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Paths) == 0 {
		s.writeError(w, http.StatusBadRequest, "paths must not be empty")
		return
	}

	timeout := s.config.DefaultTimeout
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = parsed
	}

	opts := scheduler.Options{
		Paths:   req.Paths,
		Filter:  req.TestFilter,
		Timeout: timeout,
	}

	s.logger.Info("validation requested",
		"paths", len(req.Paths), "filter", req.TestFilter, "workers", req.Workers)

	run := s.validator.Validate(r.Context(), opts, req.Workers)
	respondJSON(w, http.StatusOK, ValidateResponse{Run: run, Tally: run.Tally()})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
