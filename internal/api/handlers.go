package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/motion"
)

// analyzeRequest is the request body for POST /analyze.
type analyzeRequest struct {
	Text     string `json:"text"`
	Autoplay bool   `json:"autoplay"`
}

// analyzeFailure is returned when every analysis attempt failed. The stored
// record is included so callers can inspect the last response.
type analyzeFailure struct {
	Error
	Analysis *analysis.Record `json:"analysis,omitempty"`
}

// handleAnalyze runs an analysis and optionally starts playback.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.control.Analyze(r.Context(), req.Text, req.Autoplay)
	if err != nil {
		if errors.Is(err, analysis.ErrAnalysisFailed) && res != nil {
			writeJSON(w, http.StatusBadGateway, analyzeFailure{
				Error: Error{
					Status:  http.StatusBadGateway,
					Code:    ErrCodeAnalysisFailed,
					Message: err.Error(),
				},
				Analysis: res.Record,
			})
			return
		}
		s.writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleGetPlayback returns the playback, device and settings snapshot.
func (s *Server) handleGetPlayback(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.control.Status())
}

// handlePlay starts an inline movement set.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var set motion.MovementSet
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.control.Play(r.Context(), set); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.control.Status().Playback)
}

// handleStop stops playback and halts the device.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.control.Stop(r.Context()); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.control.Status().Playback)
}

// handleListAnalyses returns recent analyses. ?limit=N bounds the result.
func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.control.Analyses(r.Context(), limit)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	if records == nil {
		records = []analysis.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": records,
		"count":    len(records),
	})
}

// handleGetAnalysis returns one stored analysis.
func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.control.Analysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handlePlayAnalysis replays a stored analysis.
func (s *Server) handlePlayAnalysis(w http.ResponseWriter, r *http.Request) {
	if _, err := s.control.PlayAnalysis(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.control.Status().Playback)
}

// handleGetDevice returns the device driver and readiness.
func (s *Server) handleGetDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.control.DeviceStatus())
}

// Compile-time check that the control service satisfies Controller.
var _ Controller = (*control.Service)(nil)
