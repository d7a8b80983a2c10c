package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func NewRouter(e *engine.Engine, schema *store.ProvisionReport, adminToken string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(600))

	students := NewStudentsHandler(e, logger)
	admin := NewAdminHandler(e, schema, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Route("/students/{identifier}", func(r chi.Router) {
			r.Get("/score", students.Score)
			r.Get("/snapshot", students.Snapshot)
			r.Post("/recompute", students.Recompute)

			r.Put("/grades/{year}", students.SetGrade)
			r.Put("/mastery", students.SetMastery)
			r.Post("/challenges", students.SubmitChallenge)

			r.Post("/attendance", students.RecordAttendance)
			r.Post("/attendance/{id}/verify", students.VerifyAttendance)
			r.Delete("/attendance/{id}", students.DeleteAttendance)

			r.Post("/extracurricular", students.RecordExtracurricular)
			r.Delete("/extracurricular/{id}", students.DeleteExtracurricular)
		})

		r.Get("/leaderboard", students.Leaderboard)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(adminToken))
			r.Get("/weights", admin.GetWeights)
			r.Put("/weights", admin.SetWeights)
			r.Get("/schema", admin.Schema)
			r.Post("/students", admin.EnrollStudent)
			r.Post("/challenges", admin.CreateChallenge)
			r.Post("/recompute", admin.RecomputeAll)
			r.Post("/leaderboard/rebuild", admin.RebuildLeaderboard)
		})
	})

	return r
}

// NewMetricsRouter serves /health and /metrics from gatherer; nil means the default
// registry.
func NewMetricsRouter(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
