// Package device classifies the client-supplied device identifier into a
// coarse device class and the default image parameters for it. The class
// only picks defaults; it is never used for access control.
package device

import (
	"strings"
)

// Class is a closed enumeration of device categories.
type Class int

const (
	ClassOther Class = iota
	ClassWearable
	ClassHandheld
)

func (c Class) String() string {
	switch c {
	case ClassWearable:
		return "wearable"
	case ClassHandheld:
		return "handheld"
	default:
		return "other"
	}
}

// Profile holds the image defaults derived from the identifier. Profiles
// are cheap to recompute and are never persisted.
type Profile struct {
	Class   Class
	Width   int // default image width in px
	Quality int // default JPEG quality, 1-100
}

var (
	wearableVocab = []string{"watch", "band", "wear", "wrist"}
	handheldVocab = []string{"phone", "mobile", "pad", "tablet"}
)

// identifier field positions:
// package/version/product/brand/os-type/os-version/os-version-code/language/region
const (
	fieldProduct = 2
	fieldBrand   = 3
)

// Resolve parses the slash-delimited identifier and returns the matching
// profile. The identifier is client-supplied and untrusted: malformed or
// partially-present input degrades to the "other" defaults, never an error.
// Pure function; identical input always yields an identical profile.
func Resolve(identifier string) Profile {
	fields := strings.Split(identifier, "/")

	haystack := fieldAt(fields, fieldProduct) + " " + fieldAt(fields, fieldBrand)
	haystack = strings.ToLower(haystack)

	switch {
	case matchesAny(haystack, wearableVocab):
		return Profile{Class: ClassWearable, Width: 300, Quality: 40}
	case matchesAny(haystack, handheldVocab):
		return Profile{Class: ClassHandheld, Width: 400, Quality: 50}
	default:
		return Profile{Class: ClassOther, Width: 400, Quality: 50}
	}
}

func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

func matchesAny(s string, vocab []string) bool {
	if s == "" || strings.TrimSpace(s) == "" {
		return false
	}
	for _, word := range vocab {
		if strings.Contains(s, word) {
			return true
		}
	}
	return false
}
