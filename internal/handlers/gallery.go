package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gallerygate/internal/cache"
	"gallerygate/internal/imaging"
	"gallerygate/internal/upstream"
	"gallerygate/pkg/apierror"
	"gallerygate/pkg/logging"
)

// GalleryHandler serves gallery metadata and per-page image references.
// Detail records and resolved image lists share the detail cache tier.
type GalleryHandler struct {
	details     cache.Store
	fetcher     Fetcher
	concurrency int
	thumbW      int
	thumbQ      int
}

func NewGalleryHandler(details cache.Store, fetcher Fetcher, concurrency, thumbWidth, thumbQuality int) *GalleryHandler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &GalleryHandler{
		details:     details,
		fetcher:     fetcher,
		concurrency: concurrency,
		thumbW:      thumbWidth,
		thumbQ:      thumbQuality,
	}
}

type detailResponse struct {
	Success bool                   `json:"success"`
	Gallery map[string]interface{} `json:"gallery"`
}

type galleryImage struct {
	Index        int    `json:"index"`
	ThumbnailJPG string `json:"thumbnail_jpg"`
	ImageJPG     string `json:"image_jpg"`
}

type imagesResponse struct {
	Success bool           `json:"success"`
	ComicID string         `json:"comic_id"`
	Page    int            `json:"page"`
	Count   int            `json:"count"`
	Images  []galleryImage `json:"images"`
}

func identityFromRequest(r *http.Request) (upstream.GalleryIdentity, error) {
	gid := chi.URLParam(r, "gid")
	token := chi.URLParam(r, "token")
	return upstream.NewGalleryIdentity(gid, token)
}

// Detail handles GET /gallery/{gid}/{token}.
func (h *GalleryHandler) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, r, apierror.BadRequest("invalid gallery identifier"))
		return
	}

	key := cache.DetailKey(id.ComicID())
	start := time.Now()

	if data, ok, err := h.details.Get(ctx, key); err == nil && ok {
		var record upstream.DetailRecord
		if err := json.Unmarshal(data, &record); err == nil {
			logger.Info("gallery detail served",
				zap.String("comic_id", id.ComicID()),
				zap.String("cache_decision", "hit"),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			)
			writeJSON(w, h.detailResponse(record))
			return
		}
		logger.Warn("discarding undecodable detail cache entry", zap.String("cache_key", key))
	}

	record, err := h.fetcher.FetchDetail(ctx, id, credential(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if data, err := json.Marshal(record); err == nil {
		if err := h.details.Set(ctx, key, data); err != nil {
			logger.Warn("detail cache write failed", zap.String("cache_key", key), zap.Error(err))
		}
	}

	logger.Info("gallery detail served",
		zap.String("comic_id", id.ComicID()),
		zap.String("cache_decision", "miss"),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	writeJSON(w, h.detailResponse(record))
}

func (h *GalleryHandler) detailResponse(record upstream.DetailRecord) detailResponse {
	gallery := map[string]interface{}{
		"comic_id":        record.ComicID,
		"title":           record.Title,
		"title_original":  record.TitleOriginal,
		"category":        record.Category,
		"thumbnail":       record.Thumbnail,
		"thumbnail_proxy": proxyURL(record.Thumbnail, nil, h.thumbW, h.thumbQ),
		"tags":            record.Tags,
		"rating":          record.Rating,
		"pages":           record.Pages,
	}
	return detailResponse{Success: true, Gallery: gallery}
}

// Images handles GET /gallery/{gid}/{token}/images. The p parameter is the
// upstream preview page, zero-based. Each preview cell needs a second fetch
// to resolve the full image URL, so those run fanned out with a bound.
func (h *GalleryHandler) Images(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	id, err := identityFromRequest(r)
	if err != nil {
		writeError(w, r, apierror.BadRequest("invalid gallery identifier"))
		return
	}

	page := 0
	if raw := r.URL.Query().Get("p"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, apierror.BadRequest("p must be a non-negative integer"))
			return
		}
		page = parsed
	}

	key := cache.GalleryImagesKey(id.ComicID(), page)
	start := time.Now()

	if data, ok, err := h.details.Get(ctx, key); err == nil && ok {
		var cached imagesResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			logger.Info("gallery images served",
				zap.String("comic_id", id.ComicID()),
				zap.Int("preview_page", page),
				zap.String("cache_decision", "hit"),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			)
			writeJSON(w, cached)
			return
		}
		logger.Warn("discarding undecodable images cache entry", zap.String("cache_key", key))
	}

	cred := credential(r)
	previews, err := h.fetcher.FetchPreviews(ctx, id, page, cred)
	if err != nil {
		writeError(w, r, err)
		return
	}

	images := h.resolveImages(r, previews, cred)

	resp := imagesResponse{
		Success: true,
		ComicID: id.ComicID(),
		Page:    page,
		Count:   len(images),
		Images:  images,
	}

	if data, err := json.Marshal(resp); err == nil {
		if err := h.details.Set(ctx, key, data); err != nil {
			logger.Warn("images cache write failed", zap.String("cache_key", key), zap.Error(err))
		}
	}

	logger.Info("gallery images served",
		zap.String("comic_id", id.ComicID()),
		zap.Int("preview_page", page),
		zap.String("cache_decision", "miss"),
		zap.Int("previews", len(previews)),
		zap.Int("resolved", len(images)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	writeJSON(w, resp)
}

// resolveImages turns preview cells into proxy references. Cells whose
// image page cannot be resolved are dropped rather than failing the whole
// page.
func (h *GalleryHandler) resolveImages(r *http.Request, previews []upstream.PreviewRecord, cred string) []galleryImage {
	ctx := r.Context()
	logger := logging.L(ctx)

	resolved := make([]*galleryImage, len(previews))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, preview := range previews {
		i, preview := i, preview
		g.Go(func() error {
			imageURL, err := h.fetcher.FetchImagePageURL(gctx, preview.PageURL, cred)
			if err != nil {
				logger.Warn("image page resolution failed",
					zap.Int("preview_index", preview.Index),
					zap.String("page_url", preview.PageURL),
					zap.Error(err),
				)
				return nil
			}
			crop := &imaging.Rect{X: preview.CropX, Y: preview.CropY, W: preview.CropW, H: preview.CropH}
			resolved[i] = &galleryImage{
				Index:        preview.Index,
				ThumbnailJPG: proxyURL(preview.ThumbnailURL, crop, h.thumbW, h.thumbQ),
				ImageJPG:     proxyURL(imageURL, nil, 0, 0),
			}
			return nil
		})
	}
	_ = g.Wait()

	images := make([]galleryImage, 0, len(previews))
	for _, img := range resolved {
		if img != nil {
			images = append(images, *img)
		}
	}
	return images
}
