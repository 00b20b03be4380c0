package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/adapter/repo"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/domain"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra/credentials"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/providers/compute"
)

const pollBatchSize = 20

// The worker runs the background halves of the lifecycle: the watchdog sweep
// for stalled jobs, the promotion sweep that backstops dropped promotion
// triggers, and the poll loop for providers that never call back.
type worker struct {
	jobs     domain.JobRepository
	ingestor *lifecycle.Ingestor
	watchdog *lifecycle.Watchdog
	promoter *lifecycle.Promoter
	logger   infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	apiKey := strings.TrimSpace(cfg.ProviderAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.ComputeAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("worker: failed to load provider api key from store")
		} else {
			apiKey = keyFromStore
		}
	}

	webhookURL := strings.TrimRight(cfg.WebhookBaseURL, "/") + "/v1/webhooks/provider"
	client := compute.NewHTTPClient(compute.Options{
		BaseURL:    cfg.ProviderBaseURL,
		APIKey:     apiKey,
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{},
	})

	jobs := repo.NewJobRepository(runner)
	credits := repo.NewCreditLedger(runner)

	finalizer := lifecycle.NewFinalizer(jobs, credits, logger)
	dispatcher := lifecycle.NewDispatcher(jobs, client, finalizer, webhookURL, logger)
	promoter := lifecycle.NewPromoter(jobs, dispatcher, cfg.MaxConcurrent, logger)
	ingestor := lifecycle.NewIngestor(jobs, client, finalizer, promoter, logger)
	watchdog := lifecycle.NewWatchdog(jobs, ingestor, finalizer, promoter,
		cfg.StuckThreshold, cfg.RecheckCooldown, logger)

	w := &worker{
		jobs:     jobs,
		ingestor: ingestor,
		watchdog: watchdog,
		promoter: promoter,
		logger:   logger,
	}

	scheduler := cron.New(cron.WithSeconds())
	if _, err := scheduler.AddFunc(everySpec(cfg.WatchdogInterval), func() {
		if err := w.watchdog.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("worker: watchdog sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule watchdog")
	}
	if _, err := scheduler.AddFunc(everySpec(cfg.PromoterInterval), func() {
		if err := w.promoter.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("worker: promotion sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule promoter")
	}
	scheduler.Start()
	defer scheduler.Stop()

	logger.Info().
		Dur("watchdog_interval", cfg.WatchdogInterval).
		Dur("promoter_interval", cfg.PromoterInterval).
		Dur("poll_interval", cfg.PollInterval).
		Msg("worker: started")

	if err := w.runPollLoop(ctx, cfg.PollInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// runPollLoop drives completion for jobs whose provider hands back an
// operation handle instead of calling the webhook.
func (w *worker) runPollLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *worker) pollOnce(ctx context.Context) {
	pollable, err := w.jobs.ListRunningPollable(ctx, pollBatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: failed to list pollable jobs")
		return
	}
	for i := range pollable {
		job := &pollable[i]
		done, err := w.ingestor.Poll(ctx, job)
		if err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("worker: poll failed")
			continue
		}
		if done {
			w.logger.Info().
				Str("job_id", job.ID.String()).
				Str("status", string(job.Status)).
				Msg("worker: poll finalized job")
		}
	}
}
