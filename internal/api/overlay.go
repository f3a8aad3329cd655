package api

import (
	"net/http"
)

type overlayRequest struct {
	Address    string `json:"address"`
	Seconds    int    `json:"seconds"`
	CustomText string `json:"customText"`
}

type overlayTextRequest struct {
	CustomText *string `json:"custom_text"`
}

// handleShowOverlay shows a text overlay on a display. Without customText
// the saved overlay text is used.
func (s *Server) handleShowOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	out, err := s.dispatcher.ShowOverlay(r.Context(), req.Address, req.Seconds, req.CustomText)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

func (s *Server) handleGetOverlayText(w http.ResponseWriter, r *http.Request) {
	text, err := s.settings.OverlayText(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"custom_text": text})
}

func (s *Server) handleSetOverlayText(w http.ResponseWriter, r *http.Request) {
	var req overlayTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CustomText == nil {
		writeBadRequest(w, "custom_text is required")
		return
	}

	if err := s.settings.SetOverlayText(r.Context(), *req.CustomText); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"custom_text": *req.CustomText})
}
