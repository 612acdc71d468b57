package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"gallerygate/internal/device"
	"gallerygate/internal/imaging"
	"gallerygate/internal/pagination"
	"gallerygate/internal/upstream"
	"gallerygate/pkg/apierror"
	"gallerygate/pkg/logging"
)

// Request headers the gateway consumes. The credential is an opaque blob
// forwarded to the upstream unmodified; the device identifier only picks
// image defaults.
const (
	HeaderCredential = "X-EH-Cookie"
	HeaderDeviceID   = "X-Device-ID"
)

// Fetcher is the slice of the upstream client the handlers need.
// Implemented by *upstream.Client; faked in tests.
type Fetcher interface {
	FetchListing(ctx context.Context, query, cursor, cred string) (upstream.ListingPage, error)
	FetchDetail(ctx context.Context, id upstream.GalleryIdentity, cred string) (upstream.DetailRecord, error)
	FetchPreviews(ctx context.Context, id upstream.GalleryIdentity, page int, cred string) ([]upstream.PreviewRecord, error)
	FetchImagePageURL(ctx context.Context, pageURL, cred string) (string, error)
	FetchRawImage(ctx context.Context, url, cred string) ([]byte, error)
}

func credential(r *http.Request) string {
	return r.Header.Get(HeaderCredential)
}

func deviceProfile(r *http.Request) device.Profile {
	return device.Resolve(r.Header.Get(HeaderDeviceID))
}

// writeJSON sends JSON responses consistently.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError translates the error taxonomy into the structured payload,
// distinguishing "try again" conditions from invalid-input conditions.
// Lower-layer failures never reach a cache; they only reach this.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierror.Error

	switch {
	case errors.As(err, &apiErr):
		// already shaped
	case errors.Is(err, pagination.ErrPageUnreachable):
		apiErr = apierror.PageUnreachable("page not reachable; page sequentially from the last reachable page")
	case errors.Is(err, upstream.ErrNotFound):
		apiErr = apierror.NotFound("the upstream no longer serves this identifier")
	case errors.Is(err, imaging.ErrCropOutOfBounds):
		apiErr = apierror.Unprocessable("CROP_OUT_OF_BOUNDS", "crop rectangle exceeds the decoded image bounds")
	case errors.Is(err, imaging.ErrDecode):
		apiErr = apierror.Unprocessable("DECODE_ERROR", "source bytes are not a decodable image")
	case errors.Is(err, imaging.ErrEncode):
		apiErr = apierror.Internal("image encoding failed")
	case upstream.IsTransient(err):
		apiErr = apierror.Upstream("upstream fetch failed; safe to retry")
	default:
		apiErr = apierror.Internal("internal error")
	}

	logging.L(r.Context()).Warn("request failed",
		zap.String("error_code", apiErr.Code),
		zap.Int("status", apiErr.StatusCode),
		zap.Bool("retryable", apiErr.Retryable()),
		zap.Error(err),
	)

	apierror.Write(w, apiErr)
}

// proxyURL builds an /image/proxy reference for a source URL. Width and
// quality of 0 are omitted so the proxy applies the requesting device's
// defaults at serve time.
func proxyURL(src string, crop *imaging.Rect, width, quality int) string {
	params := url.Values{}
	params.Set("url", src)
	if crop != nil {
		params.Set("crop_x", strconv.Itoa(crop.X))
		params.Set("crop_y", strconv.Itoa(crop.Y))
		params.Set("crop_w", strconv.Itoa(crop.W))
		params.Set("crop_h", strconv.Itoa(crop.H))
	}
	if width > 0 {
		params.Set("w", strconv.Itoa(width))
	}
	if quality > 0 {
		params.Set("q", strconv.Itoa(quality))
	}
	return "/image/proxy?" + params.Encode()
}
