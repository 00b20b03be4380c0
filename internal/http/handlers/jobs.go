package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
)

type jobSubmitRequest struct {
	ToolType   string          `json:"tool_type"`
	CreditCost int             `json:"credit_cost"`
	Payload    json.RawMessage `json:"payload"`
}

// JobsSubmit accepts a new processing job. 202 carries the job whether it
// started running or queued; the two rejection cases map to 409 (an active
// job already holds the slot) and 402 (not enough credits).
func (a *App) JobsSubmit(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req jobSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	job, err := a.Admission.Submit(r.Context(), lifecycle.SubmitParams{
		UserID:     userID,
		ToolType:   domain.ToolType(req.ToolType),
		CreditCost: req.CreditCost,
		Payload:    req.Payload,
	})
	if err != nil {
		if active, ok := domain.AsActiveJob(err); ok {
			a.json(w, http.StatusConflict, map[string]any{
				"error":      "active_job_exists",
				"message":    "finish or cancel your current job first",
				"active_job": viewJob(active.Job),
			})
			return
		}
		switch {
		case errors.Is(err, domain.ErrInsufficientCredits):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this tool")
		case errors.Is(err, domain.ErrUnsupportedTool):
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported tool type")
		default:
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("job submission failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}
	a.json(w, http.StatusAccepted, viewJob(job))
}

func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Guard.Get(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch job")
		return
	}
	a.json(w, http.StatusOK, viewJob(job))
}

// JobsActive returns the caller's queued or running job, or 404 when the
// slot is free.
func (a *App) JobsActive(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Guard.GetActive(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("active job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch active job")
		return
	}
	if job == nil {
		a.error(w, http.StatusNotFound, "not_found", "no active job")
		return
	}
	a.json(w, http.StatusOK, viewJob(job))
}

func (a *App) JobsCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Guard.Cancel(r.Context(), userID, jobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, domain.ErrNotCancellable):
			a.error(w, http.StatusConflict, "not_cancellable", "job already finished")
		default:
			a.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("cancel failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		}
		return
	}
	a.json(w, http.StatusOK, viewJob(job))
}

// JobsPoll lets the client pull completion for operation-handle jobs instead
// of waiting for the background poller.
func (a *App) JobsPoll(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}
	job, err := a.Guard.Get(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch job")
		return
	}
	done := job.Status.Terminal()
	if !done && job.Status == domain.JobStatusRunning && job.ExternalTaskRef != "" {
		done, err = a.Ingestor.Poll(r.Context(), job)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("on-demand poll failed")
			a.error(w, http.StatusBadGateway, "provider_unavailable", "provider status check failed")
			return
		}
		job, err = a.Guard.Get(r.Context(), userID, jobID)
		if err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to fetch job")
			return
		}
	}
	a.json(w, http.StatusOK, map[string]any{"done": done, "job": viewJob(job)})
}

func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	acc, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no credit account")
			return
		}
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("balance lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch balance")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"user_id":          acc.UserID,
		"monthly_balance":  acc.MonthlyBalance,
		"lifetime_balance": acc.LifetimeBalance,
		"total":            acc.Total(),
	})
}
