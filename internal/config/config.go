package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	Cache    CacheConfig
	Upstream UpstreamConfig
	Image    ImageConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"45s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// CacheConfig holds cache backend selection and per-tier sizing.
//
// The four tiers are independent; the defaults are the authoritative ones
// (listing 100/5m, detail 500/60m, image 1000/24h, cursor 200/10m).
type CacheConfig struct {
	Backend string `envconfig:"CACHE_BACKEND" default:"memory"` // "memory" or "redis"
	Prefix  string `envconfig:"CACHE_PREFIX" default:"gallerygate"`

	ListingCapacity int           `envconfig:"CACHE_LISTING_CAPACITY" default:"100"`
	ListingTTL      time.Duration `envconfig:"CACHE_LISTING_TTL" default:"5m"`
	DetailCapacity  int           `envconfig:"CACHE_DETAIL_CAPACITY" default:"500"`
	DetailTTL       time.Duration `envconfig:"CACHE_DETAIL_TTL" default:"60m"`
	ImageCapacity   int           `envconfig:"CACHE_IMAGE_CAPACITY" default:"1000"`
	ImageTTL        time.Duration `envconfig:"CACHE_IMAGE_TTL" default:"24h"`
	CursorCapacity  int           `envconfig:"CACHE_CURSOR_CAPACITY" default:"200"`
	CursorTTL       time.Duration `envconfig:"CACHE_CURSOR_TTL" default:"10m"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// UpstreamConfig holds upstream gallery source settings.
type UpstreamConfig struct {
	BaseURL      string        `envconfig:"UPSTREAM_BASE_URL" default:"https://e-hentai.org"`
	MirrorURL    string        `envconfig:"UPSTREAM_MIRROR_URL" default:"https://exhentai.org"`
	MirrorMarker string        `envconfig:"UPSTREAM_MIRROR_MARKER" default:"igneous=EX"`
	Timeout      time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"20s"`
	MaxRetries   int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"2"`
	BaseBackoff  time.Duration `envconfig:"UPSTREAM_BASE_BACKOFF" default:"100ms"`

	// FetchConcurrency bounds the fan-out when resolving full-size image
	// URLs for a gallery page.
	FetchConcurrency int `envconfig:"UPSTREAM_FETCH_CONCURRENCY" default:"10"`
}

// ImageConfig holds image proxy defaults for URLs the gateway itself emits
// (listing thumbnails, sprite previews).
type ImageConfig struct {
	ThumbnailWidth   int `envconfig:"IMAGE_THUMBNAIL_WIDTH" default:"150"`
	ThumbnailQuality int `envconfig:"IMAGE_THUMBNAIL_QUALITY" default:"40"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}
