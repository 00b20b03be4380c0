package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/adapter/repo"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/http/handlers"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/http/httpapi"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/infra/credentials"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/lifecycle"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/providers/compute"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)

	apiKey := strings.TrimSpace(cfg.ProviderAPIKey)
	if apiKey == "" {
		credStore := credentials.NewStore(runner)
		keyFromStore, err := credStore.ComputeAPIKey(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load provider api key from store")
		} else {
			apiKey = keyFromStore
		}
	}
	if apiKey == "" {
		logger.Warn().Msg("provider api key missing, dispatches will fail")
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

	app := &handlers.App{
		Admission: lifecycle.NewAdmission(jobs, credits, dispatcher, promoter, cfg.MaxConcurrent, logger),
		Guard:     lifecycle.NewGuard(jobs, finalizer, promoter, logger),
		Ingestor:  lifecycle.NewIngestor(jobs, client, finalizer, promoter, logger),
		Credits:   credits,
		DB:        pool,
		Logger:    logger,
	}

	router := httpapi.NewRouter(app, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
