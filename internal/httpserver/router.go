package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gallerygate/internal/handlers"
	"gallerygate/internal/metrics"
	"gallerygate/internal/middleware"
)

// Handlers bundles the route handlers the router wires up.
type Handlers struct {
	Listing *handlers.ListingHandler
	Gallery *handlers.GalleryHandler
	Image   *handlers.ImageProxyHandler
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, h Handlers, requestTimeout time.Duration) {
	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/", h.Listing.Home)
	r.Get("/search", h.Listing.Search)

	r.Route("/gallery/{gid}/{token}", func(r chi.Router) {
		r.Get("/", h.Gallery.Detail)
		r.Get("/images", h.Gallery.Images)
	})

	r.Get("/image/proxy", h.Image.Proxy)

	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", metrics.Handler())
}
