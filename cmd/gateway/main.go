package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gallerygate/internal/cache"
	"gallerygate/internal/config"
	"gallerygate/internal/handlers"
	"gallerygate/internal/httpserver"
	"gallerygate/internal/metrics"
	"gallerygate/internal/pagination"
	"gallerygate/internal/upstream"
	"gallerygate/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("addr", cfg.Server.Address()),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("upstream_base_url", cfg.Upstream.BaseURL),
		zap.Duration("upstream_timeout", cfg.Upstream.Timeout),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.Cache.RedisAddr),
		)
	}

	// ----- Cache tiers -----
	newTier := func(tier string, capacity int, ttl time.Duration) cache.Store {
		store := cache.NewStore(cache.Config{
			Tier:     tier,
			Backend:  cfg.Cache.Backend,
			Capacity: capacity,
			TTL:      ttl,
			Prefix:   cfg.Cache.Prefix,
		}, redisClient)
		return cache.NewLoggingStore(store, tier)
	}

	listings := newTier(cache.TierListing, cfg.Cache.ListingCapacity, cfg.Cache.ListingTTL)
	details := newTier(cache.TierDetail, cfg.Cache.DetailCapacity, cfg.Cache.DetailTTL)
	images := newTier(cache.TierImage, cfg.Cache.ImageCapacity, cfg.Cache.ImageTTL)
	cursors := newTier(cache.TierCursor, cfg.Cache.CursorCapacity, cfg.Cache.CursorTTL)

	// ----- Upstream client -----
	client, err := upstream.NewClient(upstream.Config{
		Endpoints: upstream.Endpoints{
			BaseURL:      cfg.Upstream.BaseURL,
			MirrorURL:    cfg.Upstream.MirrorURL,
			MirrorMarker: cfg.Upstream.MirrorMarker,
		},
		Timeout:     cfg.Upstream.Timeout,
		MaxRetries:  cfg.Upstream.MaxRetries,
		BaseBackoff: cfg.Upstream.BaseBackoff,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	// ----- Pagination -----
	cursorManager := pagination.NewManager(cursors, client)

	// ----- Handlers -----
	h := httpserver.Handlers{
		Listing: handlers.NewListingHandler(listings, cursorManager, client,
			cfg.Image.ThumbnailWidth, cfg.Image.ThumbnailQuality),
		Gallery: handlers.NewGalleryHandler(details, client,
			cfg.Upstream.FetchConcurrency, cfg.Image.ThumbnailWidth, cfg.Image.ThumbnailQuality),
		Image: handlers.NewImageProxyHandler(images, client),
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, h, cfg.Server.RequestTimeout)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
