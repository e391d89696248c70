// Package router assembles the HTTP surface: gated participant pages,
// the JSON API the front end drives, and the operational endpoints.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/oversightlab/llm-safety-study/internal/http/middleware"
	"github.com/oversightlab/llm-safety-study/internal/study"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	StudyHandler       *study.Handler
	Pages              PageRenderer
	StaticHandler      http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ChatRatePerSecond throttles the model-facing chat endpoint per IP.
	// Zero disables throttling.
	ChatRatePerSecond float64
	ChatRateBurst     int
}

// PageRenderer serves the HTML shell for one participant page.
type PageRenderer interface {
	Page(route study.Route) http.HandlerFunc
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	h := cfg.StudyHandler

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	if cfg.StaticHandler != nil {
		r.Handle("/static/*", cfg.StaticHandler)
	}

	// Participant pages, each behind the navigation gate.
	if cfg.Pages != nil {
		for _, route := range []study.Route{
			study.RouteLanding,
			study.RouteDemographics,
			study.RouteDetectionGame,
			study.RouteElicitationGame,
			study.RouteComplete,
		} {
			r.Get(string(route), h.Page(route, cfg.Pages.Page(route)))
		}
	}

	// JSON API.
	r.Route("/api", func(api chi.Router) {
		api.Post("/session", h.CreateSession)
		api.Get("/session", h.GetSession)
		api.Delete("/session", h.ClearSession)
		api.Post("/demographics", h.SubmitDemographics)
		api.Get("/sequence", h.Sequence)

		api.Post("/detection/view", h.MarkViewed)
		api.Post("/detection/submit", h.SubmitTurn)

		api.Group(func(limited chi.Router) {
			if cfg.ChatRatePerSecond > 0 {
				limited.Use(httpmiddleware.RateLimit(cfg.ChatRatePerSecond, cfg.ChatRateBurst))
			}
			limited.Post("/chat", h.Chat)
		})
		api.Post("/chat/reset", h.ResetChat)
		api.Post("/elicitation/answer", h.SubmitAnswer)
		api.Post("/response", h.SubmitResponse)

		api.Post("/complete", h.Complete)
		api.Get("/score", h.ScoreHandler)
	})

	return r
}
