package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Raymond9734/congregation-console/internal/metrics"
)

// RouterDeps holds the handlers mounted by NewRouter. Metrics may be nil.
type RouterDeps struct {
	Wizard      *WizardHandler
	Campaigns   *CampaignHandler
	Submissions *SubmissionHandler
	Health      *HealthHandler
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// NewRouter builds the console API router
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RecoveryMiddleware(deps.Logger))
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(CORSMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	if deps.Health != nil {
		r.Get("/health", deps.Health.Health)
	}

	r.Route("/api/console", func(r chi.Router) {
		r.Route("/wizard", func(r chi.Router) {
			r.Post("/", deps.Wizard.Start)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deps.Wizard.Get)
				r.Delete("/", deps.Wizard.Cancel)
				r.Patch("/draft", deps.Wizard.UpdateDraft)
				r.Post("/advance", deps.Wizard.Advance)
				r.Post("/retreat", deps.Wizard.Retreat)
				r.Post("/refresh-stats", deps.Wizard.RefreshStats)
				r.Get("/preview", deps.Wizard.Preview)
				r.Post("/submit", deps.Wizard.Submit)
				r.Post("/save-draft", deps.Wizard.SaveDraft)
				r.Post("/retry", deps.Wizard.Retry)
			})
		})

		if deps.Campaigns != nil {
			r.Get("/campaigns", deps.Campaigns.ListCampaigns)
		}
		if deps.Submissions != nil {
			r.Get("/submissions", deps.Submissions.ListSubmissions)
			r.Get("/submissions/{event_id}", deps.Submissions.GetSubmission)
		}
	})

	return r
}
