package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// mediaFormField is the multipart field carrying the uploaded file.
const mediaFormField = "file"

// handleStreamMedia uploads a file to a display and starts playback.
// The multipart body is streamed part by part, never buffered whole.
func (s *Server) handleStreamMedia(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeBadRequest(w, "multipart/form-data body required")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeBadRequest(w, "missing file field")
			return
		}
		if err != nil {
			writeBadRequest(w, "malformed multipart body")
			return
		}
		if part.FormName() != mediaFormField {
			part.Close() //nolint:errcheck // skipping unrelated field
			continue
		}

		out, err := s.dispatcher.StreamMedia(r.Context(), address, part.FileName(), part)
		part.Close() //nolint:errcheck // body fully consumed or abandoned
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOutcome(w, out)
		return
	}
}
