package upstream

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints selects and builds upstream URLs. The mirror host is used when
// the forwarded credential carries the configured marker, mirroring how the
// upstream gates its mirror behind a cookie.
type Endpoints struct {
	BaseURL      string
	MirrorURL    string
	MirrorMarker string
}

// baseFor picks the host for a given forwarded credential.
func (e Endpoints) baseFor(cred string) string {
	base := strings.TrimRight(e.BaseURL, "/")
	if e.MirrorURL != "" && e.MirrorMarker != "" && strings.Contains(cred, e.MirrorMarker) {
		base = strings.TrimRight(e.MirrorURL, "/")
	}
	return base
}

// listingURL builds the listing/search URL. Empty query is the front page;
// the cursor, when present, is the upstream's opaque continuation token.
func (e Endpoints) listingURL(cred, query, cursor string) string {
	base := e.baseFor(cred)

	params := url.Values{}
	if q := strings.TrimSpace(query); q != "" {
		params.Set("f_search", q)
	}
	if cursor != "" {
		params.Set("next", cursor)
	}

	if len(params) == 0 {
		return base + "/"
	}
	return base + "/?" + params.Encode()
}

// galleryURL builds the gallery detail URL.
func (e Endpoints) galleryURL(cred string, id GalleryIdentity) string {
	return fmt.Sprintf("%s/g/%d/%s/", e.baseFor(cred), id.GID, id.Token)
}

// previewsURL builds the gallery preview-page URL for page p (0-based, as
// the upstream counts them).
func (e Endpoints) previewsURL(cred string, id GalleryIdentity, page int) string {
	u := e.galleryURL(cred, id)
	if page > 0 {
		u = fmt.Sprintf("%s?p=%d", u, page)
	}
	return u
}

// referer is sent with every request so image hosts accept us.
func (e Endpoints) referer(cred string) string {
	return e.baseFor(cred)
}
