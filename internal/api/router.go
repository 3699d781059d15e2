// Package api exposes the reader over HTTP as a small JSON API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rss_reader/internal/explore"
)

// Deps are the services behind the API.
type Deps struct {
	Feeds     FeedService
	Catalog   *explore.Catalog
	Refresher Refresher
	Metrics   http.Handler
	Log       *slog.Logger
}

// NewRouter returns the API routes.
//
//	GET    /healthz
//	GET    /metrics
//	GET    /api/feeds                  ?favorites=true
//	POST   /api/feeds                  {"url": ...}
//	DELETE /api/feeds                  ?url=...
//	GET    /api/feeds/items            ?url=...
//	POST   /api/feeds/favorite         {"url": ...}
//	POST   /api/feeds/notifications    {"url": ...}
//	GET    /api/explore                ?category=...
//	POST   /api/refresh
func NewRouter(deps *Deps) http.Handler {
	h := &handler{feeds: deps.Feeds, catalog: deps.Catalog, refresher: deps.Refresher, log: deps.Log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Log))

	r.Get("/healthz", h.health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", h.listFeeds)
			r.Post("/", h.addFeed)
			r.Delete("/", h.deleteFeed)
			r.Get("/items", h.feedItems)
			r.Post("/favorite", h.toggleFavorite)
			r.Post("/notifications", h.toggleNotifications)
		})
		r.Get("/explore", h.explore)
		r.Post("/refresh", h.refresh)
	})

	return r
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}
