package api

import (
	"math"
	"net/http"
	"time"

	"github.com/mosys-billing/tvfleet/internal/dispatch"
)

type commandRequest struct {
	Address     string `json:"address"`
	CommandName string `json:"commandName"`
}

type batchRequest struct {
	Addresses   []string `json:"addresses"`
	CommandName string   `json:"commandName"`
}

type timerRequest struct {
	Address      string  `json:"address"`
	CommandName  string  `json:"commandName"`
	DelaySeconds float64 `json:"delaySeconds"`
}

type cancelTimerRequest struct {
	ID string `json:"id"`
}

// batchResultResponse is one address's entry in a batch response.
type batchResultResponse struct {
	Status     string  `json:"status"`
	Code       string  `json:"code,omitempty"`
	Detail     string  `json:"detail,omitempty"`
	DurationMS float64 `json:"duration_ms"`
}

// handleListCommands lists the command names this backend accepts.
func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":  s.backend,
		"commands": s.dispatcher.Adapter().Commands(),
	})
}

// handleSendCommand sends one command now.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	out, err := s.dispatcher.SendImmediate(r.Context(), req.Address, req.CommandName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOutcome(w, out)
}

// handleSendBatch sends one command to many displays. Per-address failures
// are reported in the results, not as an HTTP error.
func (s *Server) handleSendBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	results, err := s.dispatcher.SendBatch(r.Context(), req.Addresses, req.CommandName)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make(map[string]batchResultResponse, len(results))
	succeeded := 0
	for address, res := range results {
		if res.Err != nil {
			_, code := classify(res.Err)
			out[address] = batchResultResponse{Status: "rejected", Code: code, Detail: res.Err.Error()}
			continue
		}
		if res.Outcome.OK() {
			succeeded++
		}
		out[address] = batchResultResponse{
			Status:     string(res.Outcome.Status),
			Detail:     res.Outcome.Detail,
			DurationMS: res.Outcome.DurationMS,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":   out,
		"total":     len(out),
		"succeeded": succeeded,
	})
}

// handleScheduleTimer accepts a delayed command.
func (s *Server) handleScheduleTimer(w http.ResponseWriter, r *http.Request) {
	var req timerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if math.IsNaN(req.DelaySeconds) || req.DelaySeconds <= 0 {
		writeBadRequest(w, "delaySeconds must be a positive number")
		return
	}
	if req.DelaySeconds > dispatch.MaxDelay.Seconds() {
		writeBadRequest(w, "delaySeconds exceeds 24 hours")
		return
	}

	delay := time.Duration(req.DelaySeconds * float64(time.Second))
	timer, err := s.dispatcher.ScheduleDelayed(r.Context(), req.Address, req.CommandName, delay)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"timer": timer})
}

// handleListTimers lists pending delayed commands, soonest first.
func (s *Server) handleListTimers(w http.ResponseWriter, _ *http.Request) {
	timers := s.dispatcher.Timers()
	writeJSON(w, http.StatusOK, map[string]any{"timers": timers, "count": len(timers)})
}

// handleCancelTimer cancels a pending delayed command.
func (s *Server) handleCancelTimer(w http.ResponseWriter, r *http.Request) {
	var req cancelTimerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}

	if err := s.dispatcher.CancelTimer(req.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": req.ID})
}
