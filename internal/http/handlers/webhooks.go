package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
)

const maxWebhookBody = 1 << 20

// ProviderWebhook receives completion pushes from the compute provider.
// Anything that parses gets a 200 so the provider stops retrying: duplicates
// and orphans are normal traffic here, not errors.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	var envelope lifecycle.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid webhook payload")
		return
	}
	if envelope.TaskID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "task_id required")
		return
	}
	if err := a.Ingestor.HandleWebhook(r.Context(), envelope, body); err != nil {
		// A transient failure here is worth a provider retry.
		a.Logger.Error().Err(err).Str("external_ref", envelope.TaskID).Msg("webhook processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process webhook")
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"received": true})
}
