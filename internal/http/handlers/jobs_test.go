package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/providers/compute"
)

// fakeStore implements just enough of both repositories for handler tests.
type fakeStore struct {
	jobs    map[uuid.UUID]*domain.Job
	order   []uuid.UUID
	balance map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*domain.Job), balance: make(map[string]int)}
}

func (s *fakeStore) clone(j *domain.Job) *domain.Job { cp := *j; return &cp }

func (s *fakeStore) CreateAdmitted(ctx context.Context, job *domain.Job, maxConcurrent int) error {
	for _, id := range s.order {
		if j := s.jobs[id]; j.UserID == job.UserID && j.Active() {
			return &domain.ActiveJobError{Job: s.clone(j)}
		}
	}
	running := 0
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusRunning {
			running++
		}
	}
	now := time.Now()
	job.Status = domain.JobStatusQueued
	if running < maxConcurrent {
		job.Status = domain.JobStatusRunning
		job.StartedAt = &now
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = s.clone(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.clone(j), nil
}

func (s *fakeStore) FindByExternalRef(ctx context.Context, ref string) (*domain.Job, error) {
	for _, j := range s.jobs {
		if ref != "" && j.ExternalTaskRef == ref {
			return s.clone(j), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) FindActiveByUser(ctx context.Context, userID string) (*domain.Job, error) {
	for _, id := range s.order {
		if j := s.jobs[id]; j.UserID == userID && j.Active() {
			return s.clone(j), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) TransitionTo(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, fields domain.TerminalFields) error {
	j, ok := s.jobs[id]
	if !ok || j.Status != from {
		return domain.ErrConflict
	}
	j.Status = to
	if fields.OutputURL != "" {
		j.OutputURL = fields.OutputURL
	}
	if fields.ErrorMessage != "" {
		j.ErrorMessage = fields.ErrorMessage
	}
	now := time.Now()
	j.UpdatedAt = now
	if to.Terminal() {
		j.CompletedAt = &now
	}
	return nil
}

func (s *fakeStore) SetExternalRef(ctx context.Context, id uuid.UUID, ref string, requiresPoll bool) error {
	j, ok := s.jobs[id]
	if !ok || j.Status != domain.JobStatusRunning {
		return domain.ErrConflict
	}
	j.ExternalTaskRef = ref
	j.RequiresPoll = requiresPoll
	return nil
}

func (s *fakeStore) AppendStep(ctx context.Context, id uuid.UUID, step, details string) error {
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	j.CurrentStep = step
	j.StepHistory = append(j.StepHistory, domain.StepEntry{Step: step, Timestamp: time.Now(), Details: details})
	return nil
}

func (s *fakeStore) PromoteOldestQueued(ctx context.Context, maxConcurrent int) (*domain.Job, error) {
	return nil, nil
}

func (s *fakeStore) ListStalled(ctx context.Context, stuckAfter time.Duration, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (s *fakeStore) Touch(ctx context.Context, id uuid.UUID) error { return nil }

func (s *fakeStore) MarkChecked(ctx context.Context, id uuid.UUID) error { return nil }

func (s *fakeStore) ListRunningPollable(ctx context.Context, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (s *fakeStore) Reserve(ctx context.Context, userID string, jobID uuid.UUID, amount int, description string) (int, error) {
	if s.balance[userID] < amount {
		return 0, domain.ErrInsufficientCredits
	}
	s.balance[userID] -= amount
	return s.balance[userID], nil
}

func (s *fakeStore) Refund(ctx context.Context, jobID uuid.UUID, userID string, amount int, description string) (int, error) {
	j, ok := s.jobs[jobID]
	if !ok || j.CreditsRefunded || !j.Status.Terminal() {
		return 0, domain.ErrAlreadyRefunded
	}
	j.CreditsRefunded = true
	s.balance[userID] += amount
	return s.balance[userID], nil
}

func (s *fakeStore) Reset(ctx context.Context, userID string, amount int, description string) (int, error) {
	s.balance[userID] = amount
	return amount, nil
}

func (s *fakeStore) Grant(ctx context.Context, userID string, amount int, description string) (int, error) {
	s.balance[userID] += amount
	return s.balance[userID], nil
}

func (s *fakeStore) Balance(ctx context.Context, userID string) (*domain.CreditAccount, error) {
	bal, ok := s.balance[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.CreditAccount{UserID: userID, LifetimeBalance: bal}, nil
}

type staticClient struct{}

func (staticClient) SubmitTask(ctx context.Context, req compute.TaskRequest) (compute.TaskHandle, error) {
	return compute.TaskHandle{Ref: "task-" + req.JobID.String()[:8]}, nil
}

func (staticClient) CheckOperation(ctx context.Context, ref string) (compute.Operation, error) {
	return compute.Operation{Done: true, Succeeded: true, OutputURL: "https://cdn.example.com/out.png"}, nil
}

func newTestApp(store *fakeStore) *App {
	log := zerolog.Nop()
	finalizer := lifecycle.NewFinalizer(store, store, log)
	dispatcher := lifecycle.NewDispatcher(store, staticClient{}, finalizer, "https://app.example.com/v1/webhooks/provider", log)
	promoter := lifecycle.NewPromoter(store, dispatcher, 3, log)
	return &App{
		Admission: lifecycle.NewAdmission(store, store, dispatcher, promoter, 3, log),
		Guard:     lifecycle.NewGuard(store, finalizer, promoter, log),
		Ingestor:  lifecycle.NewIngestor(store, staticClient{}, finalizer, promoter, log),
		Credits:   store,
		Logger:    log,
	}
}

func withJobID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("job_id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func submitBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"tool_type":   "upscaler",
		"credit_cost": 10,
		"payload":     map[string]string{"image_url": "https://cdn.example.com/in.png"},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestJobsSubmitAccepted(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 50
	app := newTestApp(store)

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()

	app.JobsSubmit(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp jobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "running", resp.Status)
	require.Equal(t, "upscaler", resp.ToolType)
	require.Equal(t, 40, store.balance["user-1"])
}

func TestJobsSubmitConflictCarriesActiveJob(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 50
	app := newTestApp(store)

	first := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	first.Header.Set("X-User-ID", "user-1")
	app.JobsSubmit(httptest.NewRecorder(), first)

	second := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	second.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, second)

	require.Equal(t, http.StatusConflict, rr.Code)
	var resp struct {
		Error     string  `json:"error"`
		ActiveJob jobView `json:"active_job"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "active_job_exists", resp.Error)
	require.Equal(t, "running", resp.ActiveJob.Status)
}

func TestJobsSubmitPaymentRequired(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 3
	app := newTestApp(store)

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, req)

	require.Equal(t, http.StatusPaymentRequired, rr.Code)
}

func TestJobsSubmitWithoutUser(t *testing.T) {
	app := newTestApp(newFakeStore())

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJobsGetHidesForeignJobs(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 50
	app := newTestApp(store)

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, req)
	var created jobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	get := httptest.NewRequest("GET", "/v1/jobs/"+created.ID, nil)
	get.Header.Set("X-User-ID", "user-2")
	rr = httptest.NewRecorder()
	app.JobsGet(rr, withJobID(get, created.ID))

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobsActiveEmptySlot(t *testing.T) {
	store := newFakeStore()
	app := newTestApp(store)

	req := httptest.NewRequest("GET", "/v1/jobs/active", nil)
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsActive(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestJobsCancelRefunds(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 50
	app := newTestApp(store)

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, req)
	var created jobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
	require.Equal(t, 40, store.balance["user-1"])

	cancel := httptest.NewRequest("POST", "/v1/jobs/"+created.ID+"/cancel", nil)
	cancel.Header.Set("X-User-ID", "user-1")
	rr = httptest.NewRecorder()
	app.JobsCancel(rr, withJobID(cancel, created.ID))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp jobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "cancelled", resp.Status)
	require.True(t, resp.CreditsRefunded)
	require.Equal(t, 50, store.balance["user-1"])

	// Second cancel hits a terminal job.
	rr = httptest.NewRecorder()
	again := httptest.NewRequest("POST", "/v1/jobs/"+created.ID+"/cancel", nil)
	again.Header.Set("X-User-ID", "user-1")
	app.JobsCancel(rr, withJobID(again, created.ID))
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestProviderWebhookCompletesJob(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 50
	app := newTestApp(store)

	req := httptest.NewRequest("POST", "/v1/jobs", submitBody(t))
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.JobsSubmit(rr, req)
	var created jobView
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&created))

	jobID := uuid.MustParse(created.ID)
	ref := store.jobs[jobID].ExternalTaskRef
	body, err := json.Marshal(map[string]string{
		"task_id":    ref,
		"status":     "completed",
		"output_url": "https://cdn.example.com/out.png",
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		hook := httptest.NewRequest("POST", "/v1/webhooks/provider", bytes.NewReader(body))
		rr = httptest.NewRecorder()
		app.ProviderWebhook(rr, hook)
		require.Equal(t, http.StatusOK, rr.Code)
	}

	require.Equal(t, domain.JobStatusCompleted, store.jobs[jobID].Status)
	require.Equal(t, "https://cdn.example.com/out.png", store.jobs[jobID].OutputURL)
	require.Equal(t, 40, store.balance["user-1"])
}

func TestProviderWebhookOrphanAcknowledged(t *testing.T) {
	app := newTestApp(newFakeStore())

	body := []byte(`{"task_id":"task-unknown","status":"completed"}`)
	rr := httptest.NewRecorder()
	app.ProviderWebhook(rr, httptest.NewRequest("POST", "/v1/webhooks/provider", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestProviderWebhookRejectsMalformedPayload(t *testing.T) {
	app := newTestApp(newFakeStore())

	rr := httptest.NewRecorder()
	app.ProviderWebhook(rr, httptest.NewRequest("POST", "/v1/webhooks/provider", bytes.NewReader([]byte("not json"))))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	app.ProviderWebhook(rr, httptest.NewRequest("POST", "/v1/webhooks/provider", bytes.NewReader([]byte(`{"status":"completed"}`))))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreditsBalance(t *testing.T) {
	store := newFakeStore()
	store.balance["user-1"] = 25
	app := newTestApp(store)

	req := httptest.NewRequest("GET", "/v1/credits/balance", nil)
	req.Header.Set("X-User-ID", "user-1")
	rr := httptest.NewRecorder()
	app.CreditsBalance(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, 25, resp.Total)
}
