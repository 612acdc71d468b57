// Package upstream fetches listing pages, gallery detail and raw image
// bytes from the upstream gallery source. It performs no caching; cache
// semantics are layered on top by the handlers so the two stay
// independently testable.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"gallerygate/internal/metrics"
)

const (
	// browserUserAgent keeps the upstream from serving us its bot page.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36"

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"

	// maxImageBytes caps a raw image download.
	maxImageBytes = 32 * 1024 * 1024

	// maxDocumentBytes caps an HTML page download.
	maxDocumentBytes = 8 * 1024 * 1024
)

// Config holds upstream client settings.
type Config struct {
	Endpoints Endpoints

	Timeout     time.Duration // per-request timeout (default: 20s)
	MaxRetries  int           // retry attempts (default: 2)
	BaseBackoff time.Duration // initial backoff (default: 100ms)

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 100

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate checks required fields only.
func (c *Config) Validate() error {
	if c.Endpoints.BaseURL == "" {
		return errors.New("Endpoints.BaseURL is required")
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	cfg.Endpoints.BaseURL = strings.TrimRight(cfg.Endpoints.BaseURL, "/")
	cfg.Endpoints.MirrorURL = strings.TrimRight(cfg.Endpoints.MirrorURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 100
	}

	return cfg
}

// Client is the upstream content fetcher. All methods take the opaque
// forwarded credential; an empty credential means anonymous access and is
// always valid, at most reducing the result set.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an upstream client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("upstream"),
	}, nil
}

// defaultTransport creates a pooled HTTP transport.
func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// FetchListing fetches one listing page. Empty query is the front page;
// cursor "" fetches page one, anything else must be an upstream-issued
// continuation token.
func (c *Client) FetchListing(ctx context.Context, query, cursor, cred string) (ListingPage, error) {
	url := c.cfg.Endpoints.listingURL(cred, query, cursor)

	doc, err := c.fetchDocument(ctx, "listing", url, cred)
	if err != nil {
		return ListingPage{}, err
	}

	page := parseListing(doc)
	if len(page.Items) == 0 {
		c.logger.Warn("listing parsed empty",
			zap.String("url", url),
			zap.String("query", query),
		)
	}
	return page, nil
}

// FetchDetail fetches and parses a gallery's detail page.
func (c *Client) FetchDetail(ctx context.Context, id GalleryIdentity, cred string) (DetailRecord, error) {
	url := c.cfg.Endpoints.galleryURL(cred, id)

	doc, err := c.fetchDocument(ctx, "detail", url, cred)
	if err != nil {
		return DetailRecord{}, err
	}

	detail := parseDetail(doc)
	if detail.empty() {
		return DetailRecord{}, &Error{Op: "detail", Err: fmt.Errorf("page for %s did not parse as a gallery", id.ComicID())}
	}

	detail.ComicID = id.ComicID()
	return detail, nil
}

// FetchPreviews fetches the sprite-sheet preview records for one gallery
// page (0-based, as the upstream counts preview pages).
func (c *Client) FetchPreviews(ctx context.Context, id GalleryIdentity, page int, cred string) ([]PreviewRecord, error) {
	url := c.cfg.Endpoints.previewsURL(cred, id, page)

	doc, err := c.fetchDocument(ctx, "previews", url, cred)
	if err != nil {
		return nil, err
	}

	previews := parsePreviews(doc)
	if len(previews) == 0 {
		c.logger.Warn("previews parsed empty",
			zap.String("url", url),
			zap.String("comic_id", id.ComicID()),
		)
	}
	return previews, nil
}

// FetchImagePageURL resolves an image page to the full-size image URL it
// embeds.
func (c *Client) FetchImagePageURL(ctx context.Context, pageURL, cred string) (string, error) {
	doc, err := c.fetchDocument(ctx, "image_page", pageURL, cred)
	if err != nil {
		return "", err
	}

	src := parseImagePage(doc)
	if src == "" {
		return "", &Error{Op: "image_page", Err: fmt.Errorf("no image found at %s", pageURL)}
	}
	return src, nil
}

// FetchRawImage downloads raw image bytes.
func (c *Client) FetchRawImage(ctx context.Context, url, cred string) ([]byte, error) {
	data, err := c.get(ctx, "raw_image", url, cred, maxImageBytes)
	if err != nil {
		return nil, err
	}

	metrics.UpstreamRequestsTotal.WithLabelValues("raw_image", "ok").Inc()
	return data, nil
}

// fetchDocument GETs url and parses the body as HTML.
func (c *Client) fetchDocument(ctx context.Context, op, url, cred string) (*goquery.Document, error) {
	body, err := c.get(ctx, op, url, cred, maxDocumentBytes)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &Error{Op: op, Err: fmt.Errorf("parse body: %w", err)}
	}

	metrics.UpstreamRequestsTotal.WithLabelValues(op, "ok").Inc()
	return doc, nil
}

// get performs one authenticated GET with retries, maps the outcome to the
// error taxonomy (404 is ErrNotFound, everything else non-2xx is a
// transient *Error) and returns the body, capped at maxBytes. The body is
// read in full here, before the per-request timeout context is cancelled.
func (c *Client) get(parentCtx context.Context, op, url, cred string, maxBytes int64) ([]byte, error) {
	var ctx context.Context
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parentCtx, c.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	doOnce := func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build HTTP request: %w", err)
		}
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Referer", c.cfg.Endpoints.referer(cred))
		if cred != "" {
			req.Header.Set("Cookie", cred)
		}
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, op, doOnce)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "not_found").Inc()
		return nil, fmt.Errorf("%s %s: %w", op, url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &Error{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(data)) > maxBytes {
		metrics.UpstreamRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &Error{Op: op, Err: fmt.Errorf("body exceeds %d bytes", maxBytes)}
	}

	return data, nil
}
