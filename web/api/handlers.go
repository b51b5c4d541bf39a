package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/runstore"
)

// StatusResponse is the API response for the current run
type StatusResponse struct {
	RunID     string   `json:"run_id,omitempty"`
	Running   bool     `json:"running"`
	StartedAt string   `json:"started_at,omitempty"`
	State     string   `json:"state"`
	Step      string   `json:"step"`
	Index     int      `json:"index"`
	Total     int      `json:"total"`
	Acquired  int      `json:"acquired"`
	Processed int      `json:"processed"`
	Outcome   string   `json:"outcome,omitempty"`
	Message   string   `json:"message,omitempty"`
	Failures  []string `json:"failures,omitempty"`
}

// SampleResponse is the API response for one sample
type SampleResponse struct {
	Index       int           `json:"index"`
	Name        string        `json:"name"`
	Directory   string        `json:"directory,omitempty"`
	Acquisition domain.Status `json:"acquisition"`
	Processing  domain.Status `json:"processing"`
}

// RunResponse is the API response for a stored run
type RunResponse struct {
	ID                    string           `json:"id"`
	StartedAt             string           `json:"started_at"`
	FinishedAt            *string          `json:"finished_at,omitempty"`
	Duration              string           `json:"duration,omitempty"`
	Outcome               string           `json:"outcome,omitempty"`
	SampleCount           int              `json:"sample_count"`
	IndividualDirectories bool             `json:"individual_directories"`
	BridgePort            string           `json:"bridge_port,omitempty"`
	Samples               []SampleResponse `json:"samples,omitempty"`
	Events                []EventResponse  `json:"events,omitempty"`
}

// EventResponse is the API response for a stored event
type EventResponse struct {
	Timestamp string `json:"timestamp"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func runToResponse(r *runstore.Run) RunResponse {
	resp := RunResponse{
		ID:                    r.ID,
		StartedAt:             r.StartedAt.Format(time.RFC3339),
		Outcome:               string(r.Outcome),
		SampleCount:           r.SampleCount,
		IndividualDirectories: r.IndividualDirectories,
		BridgePort:            r.BridgePort,
	}
	if r.Finished() {
		finished := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
		resp.Duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.live.Status())
	}
}

func (s *Server) samplesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.live.Samples())
	}
}

func (s *Server) abortHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !sameOrigin(r) {
			s.log.Warn("cross-origin abort refused", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
			writeError(w, http.StatusForbidden, "cross-origin request refused")
			return
		}
		if !s.live.Abort() {
			writeError(w, http.StatusConflict, "no batch running")
			return
		}
		s.log.Info("abort requested over http", "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "aborting"})
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "no run history configured")
			return
		}

		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		runs, err := s.store.ListRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			resp = append(resp, runToResponse(run))
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "no run history configured")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		run, err := s.store.GetRun(id)
		if errors.Is(err, runstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		samples, err := s.store.ListSamples(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		events, err := s.store.ListEvents(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := runToResponse(run)
		for _, smp := range samples {
			resp.Samples = append(resp.Samples, SampleResponse{
				Index:       smp.Index,
				Name:        smp.Name,
				Directory:   smp.OutputDirectory,
				Acquisition: smp.Acquisition,
				Processing:  smp.Processing,
			})
		}
		for _, e := range events {
			resp.Events = append(resp.Events, EventResponse{
				Timestamp: e.Timestamp.Format(time.RFC3339),
				Kind:      e.Kind,
				Message:   e.Message,
			})
		}
		writeJSON(w, resp)
	}
}
