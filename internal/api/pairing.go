package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/scanlink/internal/bluetooth"
)

// pairRequest is the body of POST /pairing.
type pairRequest struct {
	Address string `json:"address"`
}

// handlePair starts bonding with a discovered peripheral. The outcome is
// reported as pairing.state events tagged with the returned attempt ID.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !bluetooth.ValidAddress(req.Address) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "address must look like AA:BB:CC:DD:EE:FF")
		return
	}

	attemptID, err := s.pairing.Pair(r.Context(), req.Address)
	if err != nil {
		s.logger.Warn("pairing failed", "address", req.Address, "attempt_id", attemptID, "error", err)
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"attempt_id": attemptID,
		"address":    req.Address,
	})
}

// handleGetPairing returns the attempt in flight, if any.
func (s *Server) handleGetPairing(w http.ResponseWriter, _ *http.Request) {
	attempt, ok := s.pairing.Current()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "attempt": attempt})
}

// handleStopPairing abandons the current attempt.
func (s *Server) handleStopPairing(w http.ResponseWriter, _ *http.Request) {
	s.pairing.StopPairing()
	w.WriteHeader(http.StatusNoContent)
}
