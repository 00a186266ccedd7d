package server

import (
	"io"
	"net/http"

	"restocore/payments"
)

const maxWebhookBody = 1 << 20

// HandleWebhook ingests provider payment notifications. The processor is
// idempotent, so the provider may retry freely; anything we cannot act on
// is acknowledged to stop the retries.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	n, err := payments.DecodeNotification(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed notification"})
		return
	}
	if err := s.Webhooks.HandleNotification(r.Context(), n, raw); err != nil {
		s.Log.Error("webhook processing failed", "action", n.ActionType, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
