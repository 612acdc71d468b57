package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gallerygate/internal/cache"
	"gallerygate/internal/handlers"
	"gallerygate/internal/httpserver"
	"gallerygate/internal/pagination"
	"gallerygate/internal/upstream"
)

// fakeFetcher answers from canned data and counts upstream calls, so the
// tests can assert which requests actually reached the upstream.
type fakeFetcher struct {
	mu sync.Mutex

	listingPages map[string]upstream.ListingPage // keyed by cursor
	listingCalls int
	listingErr   error

	detail      upstream.DetailRecord
	detailCalls int
	detailErr   error

	previews     []upstream.PreviewRecord
	previewCalls int
	previewsErr  error

	imagePages map[string]string // preview page URL -> full image URL

	raw      []byte
	rawCalls int
	rawErr   error
}

func (f *fakeFetcher) FetchListing(_ context.Context, _, cursor, _ string) (upstream.ListingPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listingCalls++
	if f.listingErr != nil {
		return upstream.ListingPage{}, f.listingErr
	}
	return f.listingPages[cursor], nil
}

func (f *fakeFetcher) FetchDetail(_ context.Context, id upstream.GalleryIdentity, _ string) (upstream.DetailRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailErr != nil {
		return upstream.DetailRecord{}, f.detailErr
	}
	d := f.detail
	d.ComicID = id.ComicID()
	return d, nil
}

func (f *fakeFetcher) FetchPreviews(_ context.Context, _ upstream.GalleryIdentity, _ int, _ string) ([]upstream.PreviewRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.previewCalls++
	if f.previewsErr != nil {
		return nil, f.previewsErr
	}
	return f.previews, nil
}

func (f *fakeFetcher) FetchImagePageURL(_ context.Context, pageURL, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resolved, ok := f.imagePages[pageURL]; ok {
		return resolved, nil
	}
	return "", &upstream.Error{Op: "image_page", Status: 500, Err: errors.New("boom")}
}

func (f *fakeFetcher) FetchRawImage(_ context.Context, _, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawCalls++
	if f.rawErr != nil {
		return nil, f.rawErr
	}
	return f.raw, nil
}

func newTestServer(t *testing.T, fetcher *fakeFetcher) *httptest.Server {
	t.Helper()

	listings := cache.NewMemoryStore(10, time.Minute)
	details := cache.NewMemoryStore(10, time.Minute)
	images := cache.NewMemoryStore(10, time.Minute)
	cursors := cache.NewMemoryStore(10, time.Minute)

	h := httpserver.Handlers{
		Listing: handlers.NewListingHandler(listings, pagination.NewManager(cursors, fetcher), fetcher, 150, 40),
		Gallery: handlers.NewGalleryHandler(details, fetcher, 4, 150, 40),
		Image:   handlers.NewImageProxyHandler(images, fetcher),
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, zap.NewNop(), h, 10*time.Second)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func errorCode(t *testing.T, url string) (int, string) {
	t.Helper()
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	resp := getJSON(t, url, &body)
	assert.False(t, body.Success)
	return resp.StatusCode, body.Error.Code
}

func listingChain() map[string]upstream.ListingPage {
	item := func(id string) upstream.ListingItem {
		return upstream.ListingItem{
			ComicID:   id,
			Title:     "Gallery " + id,
			Thumbnail: "https://img.example/" + id + ".jpg",
			Pages:     20,
		}
	}
	return map[string]upstream.ListingPage{
		"":   {Items: []upstream.ListingItem{item("100_aa")}, HasNext: true, NextCursor: "c2"},
		"c2": {Items: []upstream.ListingItem{item("200_bb")}, HasNext: true, NextCursor: "c3"},
		"c3": {Items: []upstream.ListingItem{item("300_cc")}, HasNext: false},
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})

	status, code := errorCode(t, srv.URL+"/search")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", code)
}

func TestSearch_SecondRequestServedFromCache(t *testing.T) {
	fetcher := &fakeFetcher{listingPages: listingChain()}
	srv := newTestServer(t, fetcher)

	var first, second struct {
		Success bool `json:"success"`
		Page    int  `json:"page"`
		HasNext bool `json:"has_next"`
		Items   []struct {
			ComicID        string `json:"comic_id"`
			ThumbnailProxy string `json:"thumbnail_proxy"`
		} `json:"items"`
	}

	resp := getJSON(t, srv.URL+"/search?q=touhou", &first)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "100_aa", first.Items[0].ComicID)
	assert.True(t, first.HasNext)
	assert.Contains(t, first.Items[0].ThumbnailProxy, "/image/proxy?")
	assert.Contains(t, first.Items[0].ThumbnailProxy, "w=150")
	assert.Contains(t, first.Items[0].ThumbnailProxy, "q=40")
	assert.Equal(t, 1, fetcher.listingCalls)

	getJSON(t, srv.URL+"/search?q=touhou", &second)
	assert.Equal(t, first.Items[0].ComicID, second.Items[0].ComicID)
	assert.Equal(t, 1, fetcher.listingCalls, "cache hit must not reach the upstream")
}

func TestSearch_SkippingAheadIsUnreachable(t *testing.T) {
	fetcher := &fakeFetcher{listingPages: listingChain()}
	srv := newTestServer(t, fetcher)

	status, code := errorCode(t, srv.URL+"/search?q=touhou&page=3")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PAGE_UNREACHABLE", code)
	assert.Equal(t, 0, fetcher.listingCalls)
}

func TestSearch_SequentialPagesFollowCursorChain(t *testing.T) {
	fetcher := &fakeFetcher{listingPages: listingChain()}
	srv := newTestServer(t, fetcher)

	var page struct {
		Page  int `json:"page"`
		Items []struct {
			ComicID string `json:"comic_id"`
		} `json:"items"`
	}

	for i, wantID := range []string{"100_aa", "200_bb", "300_cc"} {
		resp := getJSON(t, fmt.Sprintf("%s/search?q=touhou&page=%d", srv.URL, i+1), &page)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, page.Items, 1)
		assert.Equal(t, wantID, page.Items[0].ComicID)
	}
	assert.Equal(t, 3, fetcher.listingCalls)
}

func TestSearch_PageMustBePositive(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{listingPages: listingChain()})

	status, code := errorCode(t, srv.URL+"/search?q=x&page=0")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", code)
}

func TestHome_ServesFrontPage(t *testing.T) {
	fetcher := &fakeFetcher{listingPages: listingChain()}
	srv := newTestServer(t, fetcher)

	var body struct {
		Success bool   `json:"success"`
		Query   string `json:"query"`
		Count   int    `json:"count"`
	}
	resp := getJSON(t, srv.URL+"/", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Empty(t, body.Query)
	assert.Equal(t, 1, body.Count)
}

func TestDetail_CachedAfterFirstFetch(t *testing.T) {
	fetcher := &fakeFetcher{detail: upstream.DetailRecord{
		Title:  "A Gallery",
		Tags:   map[string][]string{"artist": {"someone"}},
		Rating: 4.5,
		Pages:  42,
	}}
	srv := newTestServer(t, fetcher)

	var body struct {
		Success bool `json:"success"`
		Gallery struct {
			ComicID        string `json:"comic_id"`
			Title          string `json:"title"`
			ThumbnailProxy string `json:"thumbnail_proxy"`
			Pages          int    `json:"pages"`
		} `json:"gallery"`
	}

	resp := getJSON(t, srv.URL+"/gallery/12345/abcdef1234/", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "12345_abcdef1234", body.Gallery.ComicID)
	assert.Equal(t, "A Gallery", body.Gallery.Title)
	assert.Equal(t, 42, body.Gallery.Pages)
	assert.Equal(t, 1, fetcher.detailCalls)

	getJSON(t, srv.URL+"/gallery/12345/abcdef1234/", &body)
	assert.Equal(t, "A Gallery", body.Gallery.Title)
	assert.Equal(t, 1, fetcher.detailCalls)
}

func TestDetail_InvalidIdentifier(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})

	status, code := errorCode(t, srv.URL+"/gallery/notanumber/abcdef1234/")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", code)
}

func TestDetail_UpstreamGone(t *testing.T) {
	fetcher := &fakeFetcher{detailErr: fmt.Errorf("gallery: %w", upstream.ErrNotFound)}
	srv := newTestServer(t, fetcher)

	status, code := errorCode(t, srv.URL+"/gallery/12345/abcdef1234/")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestImages_DropsUnresolvableCells(t *testing.T) {
	fetcher := &fakeFetcher{
		previews: []upstream.PreviewRecord{
			{Index: 1, PageURL: "https://up.example/s/aa/1", ThumbnailURL: "https://up.example/t1.jpg", CropW: 100, CropH: 140},
			{Index: 2, PageURL: "https://up.example/s/bb/2", ThumbnailURL: "https://up.example/t1.jpg", CropX: 100, CropW: 100, CropH: 140},
		},
		imagePages: map[string]string{
			"https://up.example/s/aa/1": "https://img.example/full/1.jpg",
		},
	}
	srv := newTestServer(t, fetcher)

	var body struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
		Images  []struct {
			Index        int    `json:"index"`
			ThumbnailJPG string `json:"thumbnail_jpg"`
			ImageJPG     string `json:"image_jpg"`
		} `json:"images"`
	}

	resp := getJSON(t, srv.URL+"/gallery/12345/abcdef1234/images", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, 1, body.Images[0].Index)
	assert.Contains(t, body.Images[0].ThumbnailJPG, "crop_w=100")
	assert.Contains(t, body.Images[0].ThumbnailJPG, "crop_h=140")
	assert.Contains(t, body.Images[0].ImageJPG, "img.example%2Ffull%2F1.jpg")
	assert.NotContains(t, body.Images[0].ImageJPG, "w=", "full image defaults are device-resolved at serve time")
}

func TestImages_CachedAfterFirstFetch(t *testing.T) {
	fetcher := &fakeFetcher{
		previews: []upstream.PreviewRecord{
			{Index: 1, PageURL: "https://up.example/s/aa/1", ThumbnailURL: "https://up.example/t1.jpg", CropW: 100, CropH: 140},
		},
		imagePages: map[string]string{
			"https://up.example/s/aa/1": "https://img.example/full/1.jpg",
		},
	}
	srv := newTestServer(t, fetcher)

	var body struct {
		Count int `json:"count"`
	}
	getJSON(t, srv.URL+"/gallery/12345/abcdef1234/images?p=2", &body)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, 1, fetcher.previewCalls)

	getJSON(t, srv.URL+"/gallery/12345/abcdef1234/images?p=2", &body)
	assert.Equal(t, 1, fetcher.previewCalls)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageProxy_RequiresURL(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})

	status, code := errorCode(t, srv.URL+"/image/proxy")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", code)
}

func TestImageProxy_TransformsAndCaches(t *testing.T) {
	fetcher := &fakeFetcher{raw: pngBytes(t, 100, 80)}
	srv := newTestServer(t, fetcher)

	url := srv.URL + "/image/proxy?url=https%3A%2F%2Fimg.example%2Fa.png&w=50&q=80"

	resp, err := http.Get(url)
	require.NoError(t, err)
	first, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "public, max-age=86400", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "50x40", resp.Header.Get("X-Image-Output-Size"))

	decoded, err := jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 50, decoded.Bounds().Dx())
	assert.Equal(t, 40, decoded.Bounds().Dy())
	assert.Equal(t, 1, fetcher.rawCalls)

	resp, err = http.Get(url)
	require.NoError(t, err)
	second, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, first, second, "cached replay must be byte-identical")
	assert.Equal(t, 1, fetcher.rawCalls, "cache hit must not refetch")
}

func TestImageProxy_DeviceDefaultsApply(t *testing.T) {
	fetcher := &fakeFetcher{raw: pngBytes(t, 600, 600)}
	srv := newTestServer(t, fetcher)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/image/proxy?url=https%3A%2F%2Fimg.example%2Fa.png", nil)
	require.NoError(t, err)
	req.Header.Set("X-Device-ID", "com.app/1.0/galaxy-watch4/samsung/wearable/12/31/en/US")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "300x300", resp.Header.Get("X-Image-Output-Size"))
}

func TestImageProxy_PartialCropRejected(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{raw: pngBytes(t, 10, 10)})

	status, code := errorCode(t, srv.URL+"/image/proxy?url=x&crop_x=0&crop_y=0&crop_w=5")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", code)
}

func TestImageProxy_CropOutOfBounds(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{raw: pngBytes(t, 10, 10)})

	status, code := errorCode(t, srv.URL+"/image/proxy?url=x&crop_x=0&crop_y=0&crop_w=50&crop_h=50")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "CROP_OUT_OF_BOUNDS", code)
}

func TestImageProxy_UndecodableBytes(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{raw: []byte("not an image")})

	status, code := errorCode(t, srv.URL+"/image/proxy?url=x")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "DECODE_ERROR", code)
}

// blockingFetcher gates raw image fetches so a test can hold a fetch open
// while other callers pile onto it.
type blockingFetcher struct {
	fakeFetcher
	entered chan struct{}
	release chan struct{}
	rawIn   atomic.Int32
}

func (f *blockingFetcher) FetchRawImage(ctx context.Context, _, _ string) ([]byte, error) {
	f.rawIn.Add(1)
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.raw, nil
}

func TestImageProxy_CollapsedFetchSurvivesCallerDisconnect(t *testing.T) {
	fetcher := &blockingFetcher{
		fakeFetcher: fakeFetcher{raw: pngBytes(t, 20, 20)},
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	h := handlers.NewImageProxyHandler(cache.NewMemoryStore(4, time.Minute), fetcher)

	target := "/image/proxy?url=https%3A%2F%2Fimg.example%2Fa.png&w=10&q=80"

	ctx1, cancel1 := context.WithCancel(context.Background())
	rec1 := httptest.NewRecorder()
	done1 := make(chan struct{})
	go func() {
		h.Proxy(rec1, httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx1))
		close(done1)
	}()
	<-fetcher.entered

	rec2 := httptest.NewRecorder()
	done2 := make(chan struct{})
	go func() {
		h.Proxy(rec2, httptest.NewRequest(http.MethodGet, target, nil))
		close(done2)
	}()

	// let the second request join the open fetch, then drop the first caller
	time.Sleep(50 * time.Millisecond)
	cancel1()
	time.Sleep(10 * time.Millisecond)
	close(fetcher.release)

	<-done1
	<-done2

	assert.Equal(t, http.StatusOK, rec2.Code, "waiter must not inherit the first caller's cancellation")
	assert.Equal(t, "image/jpeg", rec2.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), fetcher.rawIn.Load(), "both requests share one fetch")
}

func TestImageProxy_UpstreamFailureNotCached(t *testing.T) {
	fetcher := &fakeFetcher{rawErr: &upstream.Error{Op: "image", Status: 503, Err: errors.New("unavailable")}}
	srv := newTestServer(t, fetcher)

	status, code := errorCode(t, srv.URL+"/image/proxy?url=x")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "UPSTREAM_ERROR", code)
	assert.Equal(t, 1, fetcher.rawCalls)

	// a second attempt reaches the upstream again
	errorCode(t, srv.URL+"/image/proxy?url=x")
	assert.Equal(t, 2, fetcher.rawCalls)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{})

	var body struct {
		Status              string `json:"status"`
		CredentialForwarded bool   `json:"credential_forwarded"`
	}
	resp := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.CredentialForwarded)
}
