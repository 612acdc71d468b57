package upstream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GalleryIdentity is the composite upstream identifier: a numeric gallery
// id plus its access token. Client-facing references always carry the
// combined "<id>_<token>" form; the two parts are split back out only when
// constructing upstream calls.
type GalleryIdentity struct {
	GID   int64
	Token string
}

var tokenPattern = regexp.MustCompile(`^[a-f0-9]+$`)

// ParseComicID parses the combined "<id>_<token>" form.
func ParseComicID(comicID string) (GalleryIdentity, error) {
	id, token, ok := strings.Cut(comicID, "_")
	if !ok {
		return GalleryIdentity{}, fmt.Errorf("malformed comic id %q", comicID)
	}
	return NewGalleryIdentity(id, token)
}

// NewGalleryIdentity validates and combines the two raw parts.
func NewGalleryIdentity(gid, token string) (GalleryIdentity, error) {
	n, err := strconv.ParseInt(gid, 10, 64)
	if err != nil || n <= 0 {
		return GalleryIdentity{}, fmt.Errorf("invalid gallery id %q", gid)
	}
	if token == "" || !tokenPattern.MatchString(token) {
		return GalleryIdentity{}, fmt.Errorf("invalid gallery token %q", token)
	}
	return GalleryIdentity{GID: n, Token: token}, nil
}

// ComicID returns the combined client-facing form.
func (g GalleryIdentity) ComicID() string {
	return fmt.Sprintf("%d_%s", g.GID, g.Token)
}
