package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
)

// Pinger is the slice of the database pool the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App bundles the handler dependencies. Handlers translate HTTP onto the
// lifecycle components and never touch the database directly.
type App struct {
	Admission *lifecycle.Admission
	Guard     *lifecycle.Guard
	Ingestor  *lifecycle.Ingestor
	Credits   domain.CreditLedger
	DB        Pinger
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

// currentUserID reads the caller identity forwarded by the gateway. Auth
// itself happens upstream; this service only needs to know who is asking.
func (a *App) currentUserID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

type stepView struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

type jobView struct {
	ID              string          `json:"id"`
	ToolType        string          `json:"tool_type"`
	Status          string          `json:"status"`
	CreditCost      int             `json:"credit_cost"`
	CurrentStep     string          `json:"current_step,omitempty"`
	StepHistory     []stepView      `json:"step_history,omitempty"`
	OutputURL       string          `json:"output_url,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreditsRefunded bool            `json:"credits_refunded"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func viewJob(j *domain.Job) jobView {
	v := jobView{
		ID:              j.ID.String(),
		ToolType:        string(j.ToolType),
		Status:          string(j.Status),
		CreditCost:      j.CreditCost,
		CurrentStep:     j.CurrentStep,
		OutputURL:       j.OutputURL,
		ErrorMessage:    j.ErrorMessage,
		CreditsRefunded: j.CreditsRefunded,
		Payload:         j.Payload,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
	for _, s := range j.StepHistory {
		v.StepHistory = append(v.StepHistory, stepView(s))
	}
	return v
}
