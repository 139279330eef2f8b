package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/evidentops/storypack/internal/api"
	"github.com/evidentops/storypack/internal/api/handlers"
	"github.com/evidentops/storypack/internal/api/middleware"
)

type RouterConfig struct {
	AuthValidator    middleware.AuthValidator
	AnalysisHandler  *handlers.AnalysisHandler
	QACheckHandler   *handlers.QACheckHandler
	QualityHandler   *handlers.QualityHandler
	BaselineHandler  *handlers.BaselineHandler
	AnalyticsHandler *handlers.AnalyticsHandler
	AuthHandler      *handlers.AuthHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Post("/sources/{id}/classify", cfg.AnalysisHandler.Classify)

		r.Route("/projects/{id}/conflicts", func(r chi.Router) {
			r.Post("/detect", cfg.AnalysisHandler.DetectConflicts)
			r.Get("/", cfg.AnalysisHandler.ListConflicts)
			r.Delete("/", cfg.AnalysisHandler.PurgeConflicts)
		})

		r.Route("/versions/{id}", func(r chi.Router) {
			r.Post("/qa", cfg.QACheckHandler.Run)
			r.Get("/quality", cfg.QualityHandler.Report)
			r.Get("/trace", cfg.QualityHandler.Trace)
		})

		r.Route("/packs/{id}", func(r chi.Router) {
			r.Post("/baselines", cfg.BaselineHandler.Create)
			r.Get("/baselines", cfg.BaselineHandler.List)
			r.Post("/diverged", cfg.BaselineHandler.MarkDiverged)
			r.Post("/refreshed", cfg.BaselineHandler.Refreshed)
			r.Post("/health", cfg.BaselineHandler.EvaluateHealth)
		})

		r.Get("/baselines/{id}", cfg.BaselineHandler.Get)

		r.Get("/analytics", cfg.AnalyticsHandler.Workspace)

		r.Delete("/apikeys/{id}", cfg.AuthHandler.RevokeAPIKey)
	})

	r.Post("/workspaces", cfg.AuthHandler.CreateWorkspace)
	r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)

	return r
}
