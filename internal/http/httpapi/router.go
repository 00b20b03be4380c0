package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/http/handlers"
	"github.com/jonathanspositodesigner/arcanoapp-sub007/internal/middleware"
)

// NewRouter wires the public API. The webhook route sits outside the rate
// limiter: the provider controls that traffic, not our users.
func NewRouter(app *handlers.App, rateLimitPerMin int) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/webhooks/provider", app.ProviderWebhook)

	r.Group(func(r chi.Router) {
		if rateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(rateLimitPerMin, time.Minute))
		}
		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsSubmit)
			r.Get("/active", app.JobsActive)
			r.Get("/{job_id}", app.JobsGet)
			r.Post("/{job_id}/cancel", app.JobsCancel)
			r.Post("/{job_id}/poll", app.JobsPoll)
		})
		r.Get("/v1/credits/balance", app.CreditsBalance)
	})

	return r
}
