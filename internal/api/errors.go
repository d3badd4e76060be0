package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/motion"
	"github.com/nerrad567/motion-core/internal/playback"
)

// Error is the body of every non-2xx JSON response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Machine-readable values for Error.Code.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeAnalysisFailed = "analysis_failed"
	ErrCodeInternal       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// controlErrors maps control service sentinels to responses. The first
// entry with a matching sentinel wins; message overrides err.Error().
var controlErrors = []struct {
	targets []error
	status  int
	code    string
	message string
}{
	{[]error{control.ErrEmptyInput, motion.ErrEmptyMovementSet}, http.StatusBadRequest, ErrCodeValidation, ""},
	{[]error{analysis.ErrNotFound}, http.StatusNotFound, ErrCodeNotFound, "analysis not found"},
	{[]error{control.ErrNothingToPlay}, http.StatusConflict, ErrCodeConflict, ""},
	{[]error{playback.ErrDeviceUnavailable, control.ErrHistoryDisabled}, http.StatusServiceUnavailable, ErrCodeUnavailable, ""},
	{[]error{analysis.ErrAnalysisFailed}, http.StatusBadGateway, ErrCodeAnalysisFailed, ""},
}

// writeControlError writes the response for a control service error.
// Unmapped errors are logged and hidden behind a 500.
func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	for _, m := range controlErrors {
		for _, target := range m.targets {
			if !errors.Is(err, target) {
				continue
			}
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	s.logger.Error("control operation failed", "error", err)
	writeInternalError(w, "internal server error")
}
