package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/scanlink/internal/events"
	"github.com/nerrad567/scanlink/internal/scanner"
)

// defaultScanListLimit is used when GET /scanner/scans has no limit.
const defaultScanListLimit = 50

// handleSessionStatus reports the capture session.
func (s *Server) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.capture.Status())
}

// handleStartSession opens the capture session. It is a no-op while one is
// already open or opening.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.StartSession(r.Context()); err != nil {
		s.logger.Error("starting capture session failed", "error", err)
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.capture.Status())
}

// handleStopSession closes the capture session.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.StopSession(r.Context()); err != nil {
		s.logger.Error("stopping capture session failed", "error", err)
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.capture.Status())
}

// scannerResponse is the body of GET /scanner.
type scannerResponse struct {
	Scanner   *scanner.Record `json:"scanner"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// handleGetScanner returns the persisted scanner, or a null scanner.
// updated_at is omitted when nothing is saved or no stamp source is wired.
func (s *Server) handleGetScanner(w http.ResponseWriter, r *http.Request) {
	rec, err := s.capture.CurrentScanner(r.Context())
	if err != nil {
		s.logger.Error("reading scanner record failed", "error", err)
		writeInternalError(w, "failed to read scanner")
		return
	}

	resp := scannerResponse{Scanner: rec}
	if rec != nil && s.stamp != nil {
		ts, stampErr := s.stamp.UpdatedAt(r.Context())
		switch {
		case stampErr != nil:
			s.logger.Warn("reading scanner timestamp failed", "error", stampErr)
		case !ts.IsZero():
			resp.UpdatedAt = &ts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleForgetScanner removes the bond and the persisted record.
func (s *Server) handleForgetScanner(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.ForgetScanner(r.Context()); err != nil {
		s.logger.Error("forgetting scanner failed", "error", err)
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleForgetSavedScanners is kept for clients of the multi-scanner API.
// There is only ever one saved scanner, so it always succeeds.
func (s *Server) handleForgetSavedScanners(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.ForgetSavedScanners(r.Context()); err != nil {
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// renameRequest is the body of PUT /scanner/name.
type renameRequest struct {
	Name string `json:"name"`
}

// handleRenameScanner writes a new friendly name to the connected scanner.
func (s *Server) handleRenameScanner(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.capture.UpdateScannerName(r.Context(), req.Name); err != nil {
		s.logger.Warn("renaming scanner failed", "error", err)
		writeOperationError(w, err)
		return
	}

	rec, err := s.capture.CurrentScanner(r.Context())
	if err != nil {
		writeInternalError(w, "failed to read scanner")
		return
	}
	writeJSON(w, http.StatusOK, events.DevicePayload{Scanner: rec})
}

// handleGoodBeep plays the positive feedback pattern.
func (s *Server) handleGoodBeep(w http.ResponseWriter, _ *http.Request) {
	s.writeBeepResult(w, s.capture.GoodBeep())
}

// handleBadBeep plays the negative feedback pattern.
func (s *Server) handleBadBeep(w http.ResponseWriter, _ *http.Request) {
	s.writeBeepResult(w, s.capture.BadBeep())
}

func (s *Server) writeBeepResult(w http.ResponseWriter, err error) {
	if err != nil {
		s.logger.Debug("scanner feedback failed", "error", err)
		writeOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListScans returns recent scans, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50)
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	if s.scans == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "scan history is disabled")
		return
	}

	limit := defaultScanListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	scans, err := s.scans.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing scans failed", "error", err)
		writeInternalError(w, "failed to list scans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": scans, "count": len(scans)})
}
