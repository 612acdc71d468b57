package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key construction for the four tiers. Every request-distinguishing input
// is folded into the key so two requests share an entry only when their
// responses are interchangeable.

// ListingKey identifies one page of one listing query. An empty query is
// the front page.
func ListingKey(query string, page int) string {
	return fmt.Sprintf("listing:%s:%d", normalizeQuery(query), page)
}

// DetailKey identifies a gallery's detail record by its combined id.
func DetailKey(comicID string) string {
	return "detail:" + comicID
}

// GalleryImagesKey identifies the resolved image list for one page of a
// gallery. Shares the detail tier.
func GalleryImagesKey(comicID string, page int) string {
	return fmt.Sprintf("images:%s:%d", comicID, page)
}

// CursorKey identifies the continuation token that fetches the given page
// of a listing query.
func CursorKey(query string, page int) string {
	return fmt.Sprintf("cursor:%s:%d", normalizeQuery(query), page)
}

// ImageKey hashes all transform-distinguishing inputs: source URL, crop
// rectangle, target width and quality. The URL can be long and carries
// arbitrary characters, so the key is a SHA-256 digest of the normalized
// form rather than the raw inputs.
func ImageKey(url, crop string, width, quality int) string {
	normalized := fmt.Sprintf("url:%s|crop:%s|w:%d|q:%d", url, crop, width, quality)
	sum := sha256.Sum256([]byte(normalized))
	return "img:" + hex.EncodeToString(sum[:])
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
