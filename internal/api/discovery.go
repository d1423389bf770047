package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// filterRequest is the body of discovery start and filter updates. A
// missing or null filter falls back to the configured default.
type filterRequest struct {
	Filter *string `json:"filter"`
}

// decodeOptionalJSON decodes r's body into v. An empty body leaves v
// untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// resolveFilter applies the default filter to a request that named none.
func (s *Server) resolveFilter(req filterRequest) *string {
	if req.Filter != nil {
		return req.Filter
	}
	if s.defaultFilter == "" {
		return nil
	}
	f := s.defaultFilter
	return &f
}

// handleDiscoveryStatus reports the scan state and active filter.
func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.discovery.Status(),
		"filter": s.discovery.Filter(),
		"count":  len(s.discovery.Devices()),
	})
}

// handleListPeripherals returns the filtered discovery snapshot.
func (s *Server) handleListPeripherals(w http.ResponseWriter, _ *http.Request) {
	devices := s.discovery.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleStartDiscovery begins continuous discovery. With the radio off the
// controller asks for it to be enabled and scanning starts once it is.
func (s *Server) handleStartDiscovery(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	filter := s.resolveFilter(req)
	if err := s.discovery.StartDiscovery(r.Context(), filter); err != nil {
		s.logger.Error("starting discovery failed", "error", err)
		writeOperationError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": s.discovery.Status(),
		"filter": filter,
	})
}

// handleStopDiscovery stops discovery and discards the cache.
func (s *Server) handleStopDiscovery(w http.ResponseWriter, r *http.Request) {
	if err := s.discovery.StopDiscovery(r.Context()); err != nil {
		s.logger.Error("stopping discovery failed", "error", err)
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": s.discovery.Status()})
}

// handleClearDiscovery empties the discovery cache.
func (s *Server) handleClearDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.discovery.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleSetFilter replaces the name prefix filter. Discovery keeps running.
func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	filter := s.resolveFilter(req)
	s.discovery.SetFilter(filter)
	writeJSON(w, http.StatusOK, map[string]any{"filter": filter})
}
