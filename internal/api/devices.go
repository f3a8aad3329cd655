package api

import (
	"net/http"
)

type registerDeviceRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type removeDeviceRequest struct {
	Address string `json:"address"`
}

type editDeviceRequest struct {
	OldAddress string `json:"oldAddress"`
	NewName    string `json:"newName"`
	NewAddress string `json:"newAddress"`
}

// handleListDevices returns every record keyed by address.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleDeviceStats returns record counts by status.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleRegisterDevice adds a display. Monitoring starts immediately.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.registry.Register(r.Context(), req.Name, req.Address)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("device registered", "address", rec.Address, "name", rec.Name)
	writeJSON(w, http.StatusOK, map[string]any{"device": rec})
}

// handleRemoveDevice removes a display and stops its monitoring.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	var req removeDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	if err := s.registry.Remove(r.Context(), req.Address); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.logger.Info("device removed", "address", req.Address)
	writeJSON(w, http.StatusOK, map[string]any{"removed": req.Address})
}

// handleEditDevice renames and/or re-addresses a display. Empty fields
// keep the current value.
func (s *Server) handleEditDevice(w http.ResponseWriter, r *http.Request) {
	var req editDeviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.OldAddress == "" {
		writeBadRequest(w, "oldAddress is required")
		return
	}

	rec, err := s.registry.Edit(r.Context(), req.OldAddress, req.NewName, req.NewAddress)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"device": rec})
}
