package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gallerygate/internal/cache"
	"gallerygate/internal/imaging"
	"gallerygate/pkg/apierror"
	"gallerygate/pkg/logging"
)

// ImageProxyHandler fetches, transforms and caches upstream images. Cached
// entries are the final JPEG bytes, so identical requests replay
// byte-identically. Concurrent misses for the same key collapse into a
// single fetch+transform.
type ImageProxyHandler struct {
	images  cache.Store
	fetcher Fetcher
	group   singleflight.Group
}

func NewImageProxyHandler(images cache.Store, fetcher Fetcher) *ImageProxyHandler {
	return &ImageProxyHandler{images: images, fetcher: fetcher}
}

type transformOutcome struct {
	data      []byte
	width     int
	height    int
	srcWidth  int
	srcHeight int
}

// Proxy handles GET /image/proxy.
func (h *ImageProxyHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	src := r.URL.Query().Get("url")
	if src == "" {
		writeError(w, r, apierror.BadRequest("missing required parameter: url"))
		return
	}

	profile := deviceProfile(r)
	width := profile.Width
	quality := profile.Quality

	if raw := r.URL.Query().Get("w"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, apierror.BadRequest("w must be a positive integer"))
			return
		}
		width = parsed
	}
	if raw := r.URL.Query().Get("q"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, apierror.BadRequest("q must be an integer"))
			return
		}
		quality = parsed
	}
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	crop, err := cropFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cropKey := ""
	if crop != nil {
		cropKey = crop.String()
	}
	key := cache.ImageKey(src, cropKey, width, quality)
	start := time.Now()

	if data, ok, err := h.images.Get(ctx, key); err == nil && ok {
		logger.Info("image served",
			zap.String("cache_decision", "hit"),
			zap.Int("bytes", len(data)),
			zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		)
		writeImage(w, data, "")
		return
	}

	// The flight is shared by every collapsed waiter, so it must not die
	// with the first caller's connection. The upstream client applies its
	// own per-request timeout.
	flightCtx := context.WithoutCancel(ctx)
	cred := credential(r)

	v, err, shared := h.group.Do(key, func() (interface{}, error) {
		raw, err := h.fetcher.FetchRawImage(flightCtx, src, cred)
		if err != nil {
			return nil, err
		}
		result, err := imaging.Transform(raw, imaging.Request{Crop: crop, Width: width, Quality: quality})
		if err != nil {
			return nil, err
		}
		if err := h.images.Set(flightCtx, key, result.Data); err != nil {
			logger.Warn("image cache write failed", zap.String("cache_key", key), zap.Error(err))
		}
		return transformOutcome{
			data:      result.Data,
			width:     result.Width,
			height:    result.Height,
			srcWidth:  result.SourceWidth,
			srcHeight: result.SourceHeight,
		}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	outcome := v.(transformOutcome)

	logger.Info("image served",
		zap.String("cache_decision", "miss"),
		zap.Bool("collapsed", shared),
		zap.Int("source_width", outcome.srcWidth),
		zap.Int("source_height", outcome.srcHeight),
		zap.Int("output_width", outcome.width),
		zap.Int("output_height", outcome.height),
		zap.Int("bytes", len(outcome.data)),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	writeImage(w, outcome.data, fmt.Sprintf("%dx%d", outcome.width, outcome.height))
}

func writeImage(w http.ResponseWriter, data []byte, outputSize string) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if outputSize != "" {
		w.Header().Set("X-Image-Output-Size", outputSize)
	}
	_, _ = w.Write(data)
}

// cropFromQuery reads the crop rectangle. All four parameters must be
// present together or absent together.
func cropFromQuery(r *http.Request) (*imaging.Rect, error) {
	q := r.URL.Query()
	names := []string{"crop_x", "crop_y", "crop_w", "crop_h"}

	present := 0
	values := make([]int, len(names))
	for i, name := range names {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apierror.BadRequest(name + " must be an integer")
		}
		values[i] = parsed
		present++
	}

	switch present {
	case 0:
		return nil, nil
	case len(names):
		return &imaging.Rect{X: values[0], Y: values[1], W: values[2], H: values[3]}, nil
	default:
		return nil, apierror.BadRequest("crop_x, crop_y, crop_w and crop_h must be supplied together")
	}
}
