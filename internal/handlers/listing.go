package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gallerygate/internal/cache"
	"gallerygate/internal/pagination"
	"gallerygate/pkg/apierror"
	"gallerygate/pkg/logging"
)

// ListingHandler serves the front page and search results. Pages are
// cached by (query, page); the page-number to upstream-cursor mapping
// lives in the pagination manager.
type ListingHandler struct {
	listings cache.Store
	cursors  *pagination.Manager
	fetcher  Fetcher
	thumbW   int
	thumbQ   int
}

func NewListingHandler(listings cache.Store, cursors *pagination.Manager, fetcher Fetcher, thumbWidth, thumbQuality int) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		cursors:  cursors,
		fetcher:  fetcher,
		thumbW:   thumbWidth,
		thumbQ:   thumbQuality,
	}
}

type listingItemResponse struct {
	ComicID        string  `json:"comic_id"`
	Title          string  `json:"title"`
	Thumbnail      string  `json:"thumbnail"`
	ThumbnailProxy string  `json:"thumbnail_proxy"`
	Posted         string  `json:"posted,omitempty"`
	Category       string  `json:"category,omitempty"`
	Rating         float64 `json:"rating"`
	Uploader       string  `json:"uploader,omitempty"`
	Pages          int     `json:"pages"`
}

type listingResponse struct {
	Success bool                  `json:"success"`
	Query   string                `json:"query,omitempty"`
	Page    int                   `json:"page"`
	Count   int                   `json:"count"`
	HasNext bool                  `json:"has_next"`
	Items   []listingItemResponse `json:"items"`
}

// Home handles GET /.
func (h *ListingHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// Search handles GET /search.
func (h *ListingHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, r, apierror.BadRequest("missing required parameter: q"))
		return
	}
	h.serve(w, r, query)
}

func (h *ListingHandler) serve(w http.ResponseWriter, r *http.Request, query string) {
	ctx := r.Context()
	logger := logging.L(ctx)

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, apierror.BadRequest("page must be a positive integer"))
			return
		}
		page = parsed
	}

	cred := credential(r)
	key := cache.ListingKey(query, page)
	start := time.Now()

	if data, ok, err := h.listings.Get(ctx, key); err == nil && ok {
		var cached listingResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			logger.Info("listing served",
				zap.String("query", query),
				zap.Int("page", page),
				zap.String("cache_decision", "hit"),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			)
			writeJSON(w, cached)
			return
		}
		logger.Warn("discarding undecodable listing cache entry", zap.String("cache_key", key))
	}

	cursor, err := h.cursors.Resolve(ctx, query, page, cred)
	if err != nil {
		writeError(w, r, err)
		return
	}

	lp, err := h.fetcher.FetchListing(ctx, query, cursor, cred)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if lp.HasNext {
		h.cursors.Observe(ctx, query, page+1, lp.NextCursor)
	}

	resp := listingResponse{
		Success: true,
		Query:   query,
		Page:    page,
		Count:   len(lp.Items),
		HasNext: lp.HasNext,
		Items:   make([]listingItemResponse, 0, len(lp.Items)),
	}
	for _, item := range lp.Items {
		resp.Items = append(resp.Items, listingItemResponse{
			ComicID:        item.ComicID,
			Title:          item.Title,
			Thumbnail:      item.Thumbnail,
			ThumbnailProxy: proxyURL(item.Thumbnail, nil, h.thumbW, h.thumbQ),
			Posted:         item.Posted,
			Category:       item.Category,
			Rating:         item.Rating,
			Uploader:       item.Uploader,
			Pages:          item.Pages,
		})
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := h.listings.Set(ctx, key, data); err != nil {
			logger.Warn("listing cache write failed", zap.String("cache_key", key), zap.Error(err))
		}
	}

	logger.Info("listing served",
		zap.String("query", query),
		zap.Int("page", page),
		zap.String("cache_decision", "miss"),
		zap.Int("items", len(resp.Items)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	writeJSON(w, resp)
}
