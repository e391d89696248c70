// Package web serves the embedded HTML shells for the participant pages.
// The shells are intentionally thin; all state lives behind the JSON API.
package web

import (
	"embed"
	"net/http"

	"github.com/oversightlab/llm-safety-study/internal/study"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

//go:embed pages/*.html
var pagesFS embed.FS

//go:embed static
var staticFS embed.FS

var pageFiles = map[study.Route]string{
	study.RouteLanding:         "pages/landing.html",
	study.RouteDemographics:    "pages/demographics.html",
	study.RouteDetectionGame:   "pages/detection.html",
	study.RouteElicitationGame: "pages/elicitation.html",
	study.RouteComplete:        "pages/complete.html",
}

// Renderer serves the page shells.
type Renderer struct {
	logger *logging.Logger
}

// NewRenderer creates a Renderer.
func NewRenderer(logger *logging.Logger) *Renderer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Renderer{logger: logger.Component("web")}
}

// Page returns the handler serving the shell for one route.
func (r *Renderer) Page(route study.Route) http.HandlerFunc {
	name, ok := pageFiles[route]
	return func(w http.ResponseWriter, req *http.Request) {
		if !ok {
			http.NotFound(w, req)
			return
		}
		data, err := pagesFS.ReadFile(name)
		if err != nil {
			r.logger.Error("failed to read embedded page", "page", name, "error", err)
			http.Error(w, "Page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(data)
	}
}

// Static returns the handler for the bundled assets, mounted at /static/.
func Static() http.Handler {
	return http.FileServer(http.FS(staticFS))
}
