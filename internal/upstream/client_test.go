package upstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Endpoints:   Endpoints{BaseURL: srv.URL, MirrorMarker: "igneous=EX"},
		Timeout:     5 * time.Second,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		HTTPClient:  srv.Client(),
	}, nil)
	require.NoError(t, err)

	return client, srv
}

func TestClient_FetchListing(t *testing.T) {
	var gotCookie, gotQuery, gotNext string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotQuery = r.URL.Query().Get("f_search")
		gotNext = r.URL.Query().Get("next")
		_, _ = w.Write([]byte(listingHTML))
	}))

	page, err := client.FetchListing(context.Background(), "language:chinese", "12345", "session=abc")
	require.NoError(t, err)

	assert.Len(t, page.Items, 2)
	assert.Equal(t, "2998765", page.NextCursor)
	assert.Equal(t, "session=abc", gotCookie, "credential must be forwarded unmodified")
	assert.Equal(t, "language:chinese", gotQuery)
	assert.Equal(t, "12345", gotNext)
}

func TestClient_FetchListing_AnonymousIsValid(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Cookie"))
		_, _ = w.Write([]byte(listingHTML))
	}))

	_, err := client.FetchListing(context.Background(), "", "", "")
	require.NoError(t, err)
}

func TestClient_FetchDetail(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/g/3045000/abcdef0123/", r.URL.Path)
		_, _ = w.Write([]byte(detailHTML))
	}))

	id := GalleryIdentity{GID: 3045000, Token: "abcdef0123"}
	detail, err := client.FetchDetail(context.Background(), id, "")
	require.NoError(t, err)

	assert.Equal(t, "3045000_abcdef0123", detail.ComicID)
	assert.Equal(t, "English Title", detail.Title)
}

func TestClient_FetchDetail_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	id := GalleryIdentity{GID: 1, Token: "aa"}
	_, err := client.FetchDetail(context.Background(), id, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsTransient(err))
}

func TestClient_FetchDetail_UnparseablePageIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>maintenance</body></html>`))
	}))

	id := GalleryIdentity{GID: 1, Token: "aa"}
	_, err := client.FetchDetail(context.Background(), id, "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(listingHTML))
	}))

	_, err := client.FetchListing(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetry404(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))

	_, err := client.FetchRawImage(context.Background(), client.cfg.Endpoints.BaseURL+"/img.jpg", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ExhaustedRetriesAreTransient(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.FetchListing(context.Background(), "", "", "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestClient_FetchRawImage(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Referer"))
		_, _ = w.Write(payload)
	}))

	data, err := client.FetchRawImage(context.Background(), srv.URL+"/img/1.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestClient_FetchRawImage_LargeStreamedBody(t *testing.T) {
	// The server flushes the payload in chunks, so most of the body is
	// still in flight when the client gets the response headers. The full
	// body must arrive before the per-request timeout context is
	// cancelled.
	payload := bytes.Repeat([]byte{0xAB}, 4<<20)
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for off := 0; off < len(payload); off += 64 << 10 {
			end := off + 64<<10
			if end > len(payload) {
				end = len(payload)
			}
			_, _ = w.Write(payload[off:end])
			flusher.Flush()
		}
	}))

	data, err := client.FetchRawImage(context.Background(), srv.URL+"/img/big.jpg", "")
	require.NoError(t, err)
	require.Len(t, data, len(payload))
	assert.Equal(t, payload, data)
}

func TestClient_FetchImagePageURL(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div id="i3"><img src="https://full.example.org/1.jpg"></div>`))
	}))

	url, err := client.FetchImagePageURL(context.Background(), srv.URL+"/s/aa/1-1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://full.example.org/1.jpg", url)
}

func TestClient_ContextCancellation(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	_ = srv

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.FetchListing(ctx, "", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || IsTransient(err))
}

func TestEndpoints_MirrorSelection(t *testing.T) {
	e := Endpoints{
		BaseURL:      "https://main.example.org",
		MirrorURL:    "https://mirror.example.org",
		MirrorMarker: "igneous=EX",
	}

	assert.Equal(t, "https://main.example.org", e.baseFor(""))
	assert.Equal(t, "https://main.example.org", e.baseFor("session=abc"))
	assert.Equal(t, "https://mirror.example.org", e.baseFor("a=b; igneous=EX; c=d"))
}

func TestEndpoints_ListingURL(t *testing.T) {
	e := Endpoints{BaseURL: "https://main.example.org"}

	assert.Equal(t, "https://main.example.org/", e.listingURL("", "", ""))
	assert.Equal(t, "https://main.example.org/?f_search=language%3Achinese", e.listingURL("", "language:chinese", ""))
	assert.Equal(t, "https://main.example.org/?f_search=q&next=123", e.listingURL("", "q", "123"))
	assert.Equal(t, "https://main.example.org/?next=123", e.listingURL("", "", "123"))
}

func TestGalleryIdentity(t *testing.T) {
	id, err := ParseComicID("3045000_abcdef0123")
	require.NoError(t, err)
	assert.Equal(t, int64(3045000), id.GID)
	assert.Equal(t, "abcdef0123", id.Token)
	assert.Equal(t, "3045000_abcdef0123", id.ComicID())

	for _, bad := range []string{"", "12345", "_abc", "12_", "abc_def", "-1_abcdef", "12_ZZZZ"} {
		_, err := ParseComicID(bad)
		assert.Error(t, err, "comic id %q", bad)
	}
}
