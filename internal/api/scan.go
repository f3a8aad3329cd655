package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/mosys-billing/tvfleet/internal/scan"
)

type scanRequest struct {
	Subnet     string `json:"subnet"`
	RangeStart *int   `json:"rangeStart"`
	RangeEnd   *int   `json:"rangeEnd"`
}

// handleStartScan starts a background sweep and answers immediately.
// An empty body scans .1 through .254 of the default subnet.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rng := scan.Range{Subnet: req.Subnet, Start: 1, End: 254}
	if req.RangeStart != nil {
		rng.Start = *req.RangeStart
	}
	if req.RangeEnd != nil {
		rng.End = *req.RangeEnd
	}

	rng, err := s.scanner.Normalize(rng)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.scanner.Scan(r.Context(), rng); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "accepted",
		"range":  rng,
	})
}

// handleScanResults returns the latest persisted sweep.
func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request) {
	snap, err := s.scanner.LastResults(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": snap,
		"running": s.scanner.Running(),
	})
}
