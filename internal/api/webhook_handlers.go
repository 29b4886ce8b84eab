package api

import (
	"net/http"

	"github.com/storylineai/storyline/internal/dialog"
)

// Form fields posted by the telephony provider.
const (
	formCallSid      = "CallSid"
	formFrom         = "From"
	formDigits       = "Digits"
	formSpeechResult = "SpeechResult"
	formCallStatus   = "CallStatus"
)

// handleVoiceWebhook answers the initial webhook for an inbound call.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	callID := r.PostFormValue(formCallSid)
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	s.serveTurn(w, r, callID, dialog.InputEvent{
		Type: dialog.EventCallStart,
		From: r.PostFormValue(formFrom),
	})
}

// handleTurnWebhook receives gathered digits or speech, or a no-input
// timeout redirect.
func (s *Server) handleTurnWebhook(w http.ResponseWriter, r *http.Request) {
	callID := r.PostFormValue(formCallSid)
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	ev := dialog.InputEvent{From: r.PostFormValue(formFrom)}
	switch {
	case r.PostFormValue(formDigits) != "":
		ev.Type = dialog.EventDigits
		ev.Digits = r.PostFormValue(formDigits)
	case r.PostFormValue(formSpeechResult) != "":
		ev.Type = dialog.EventSpeech
		ev.Speech = r.PostFormValue(formSpeechResult)
	default:
		ev.Type = dialog.EventTimeout
	}

	s.serveTurn(w, r, callID, ev)
}

// handlePlaybackWebhook is posted after the story finished playing.
func (s *Server) handlePlaybackWebhook(w http.ResponseWriter, r *http.Request) {
	callID := r.PostFormValue(formCallSid)
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	s.serveTurn(w, r, callID, dialog.InputEvent{
		Type: dialog.EventPlaybackDone,
		From: r.PostFormValue(formFrom),
	})
}

// handleStatusWebhook receives call status callbacks. Terminal statuses
// become hangup events; a duplicate delivery is a harmless no-op.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	callID := r.PostFormValue(formCallSid)
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing CallSid")
		return
	}

	switch r.PostFormValue(formCallStatus) {
	case "completed", "failed", "busy", "no-answer", "canceled":
		s.engine.ReceiveTurn(r.Context(), callID, dialog.InputEvent{
			Type: dialog.EventHangup,
			From: r.PostFormValue(formFrom),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// serveTurn runs the engine and renders its response as TwiML.
func (s *Server) serveTurn(w http.ResponseWriter, r *http.Request, callID string, ev dialog.InputEvent) {
	resp := s.engine.ReceiveTurn(r.Context(), callID, ev)

	body, err := renderTurn(resp, s.webhookURL("/webhook/turn"), s.webhookURL("/webhook/playback"))
	if err != nil {
		s.logger.Error("twiml rendering failed", "call_id", callID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("writing twiml response failed", "call_id", callID, "error", err)
	}
}

func (s *Server) webhookURL(path string) string {
	if s.cfg.WebhookBaseURL != "" {
		return s.cfg.WebhookBaseURL + path
	}
	return path
}
