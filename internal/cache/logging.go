package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gallerygate/internal/metrics"
	"gallerygate/pkg/logging"
)

// LoggingStore wraps a Store with logging + metrics. The inner store stays
// oblivious to observability; callers own hit/miss events.
type LoggingStore struct {
	inner Store
	tier  string
}

// NewLoggingStore returns a store that logs lookups and records per-tier
// hit/miss metrics.
func NewLoggingStore(inner Store, tier string) Store {
	return &LoggingStore{inner: inner, tier: tier}
}

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(s.tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", s.tier),
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.inner.Set(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_tier", s.tier),
		zap.String("cache_key", key),
		zap.Int("value_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("cache_set", fields...)
	}

	return err
}

func (s *LoggingStore) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	if err != nil {
		logging.L(ctx).Error("cache_delete",
			zap.String("cache_tier", s.tier),
			zap.String("cache_key", key),
			zap.Error(err),
		)
	}
	return err
}
