package http

import (
	"net/http"

	"bulksend/internal/auth"
	"bulksend/internal/config"
	"bulksend/internal/http/handler"
	mw "bulksend/internal/http/middleware"
	"bulksend/internal/jobs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func NewRouter(cfg config.Config, db *gorm.DB, jwtSvc *auth.JWT, ctl *jobs.Controller, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLog(log))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: db, JWT: jwtSvc, Log: log}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: db}
	r.With(auth.RequireAuth(jwtSvc)).Get("/me", me.Me)

	jh := &handler.JobHandler{Ctl: ctl, Log: log}
	// create and retry share one per-owner budget
	createLimit := mw.Throttle(cfg.CreateRatePerMin)

	r.Route("/jobs", func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.With(createLimit).Post("/", jh.Create)
		r.Get("/", jh.List)

		r.Get("/{id}", jh.Get)
		r.Get("/{id}/items", jh.Items)

		r.Post("/{id}/pause", jh.Pause())
		r.Post("/{id}/resume", jh.Resume())
		r.Post("/{id}/cancel", jh.Cancel())
		r.With(createLimit).Post("/{id}/retry", jh.Retry)
	})

	return r
}
