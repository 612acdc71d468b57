package upstream

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parsing of the upstream's HTML. The markup is inconsistent, so every
// extractor degrades per-row: a row that fails to parse is skipped, never
// fatal for the page.

var (
	galleryURLPattern   = regexp.MustCompile(`/g/(\d+)/([a-f0-9]+)/?`)
	ratingStylePattern  = regexp.MustCompile(`background-position:\s*(-?\d+)px`)
	pagesPattern        = regexp.MustCompile(`(?i)(\d+)\s+pages?`)
	nextCursorPattern   = regexp.MustCompile(`[?&]next=(\d+)`)
	spriteStylePattern  = regexp.MustCompile(`width:(\d+)px;height:(\d+)px;.*background:.*?url\(([^)]+)\) (-?\d+)px (-?\d+)`)
	cssURLPattern       = regexp.MustCompile(`url\((.+?)\)`)
	ratingValuePattern  = regexp.MustCompile(`([\d.]+)`)
	firstNumberPattern  = regexp.MustCompile(`(\d+)`)
)

// parseListing extracts gallery rows and the next-page cursor from a
// listing page.
func parseListing(doc *goquery.Document) ListingPage {
	page := ListingPage{Items: []ListingItem{}}

	doc.Find("table.itg.gltc tr").Each(func(_ int, row *goquery.Selection) {
		nameCell := row.Find("td.glname")
		if nameCell.Length() == 0 {
			return
		}

		link := nameCell.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		m := galleryURLPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		identity, err := NewGalleryIdentity(m[1], m[2])
		if err != nil {
			return
		}

		item := ListingItem{
			ComicID: identity.ComicID(),
			Title:   strings.TrimSpace(link.Find("div.glink").Text()),
		}

		thumbCell := row.Find("td.gl2c")
		if img := thumbCell.Find("img").First(); img.Length() > 0 {
			if src, ok := img.Attr("data-src"); ok && src != "" {
				item.Thumbnail = src
			} else if src, ok := img.Attr("src"); ok {
				item.Thumbnail = src
			}
		}
		thumbCell.Find("div[id]").EachWithBreak(func(_ int, div *goquery.Selection) bool {
			if id, _ := div.Attr("id"); strings.HasPrefix(id, "posted_") {
				item.Posted = strings.TrimSpace(div.Text())
				return false
			}
			return true
		})

		item.Category = strings.TrimSpace(row.Find("td.glcat").Text())

		if style, ok := nameCell.Find("div.ir").Attr("style"); ok {
			if m := ratingStylePattern.FindStringSubmatch(style); m != nil {
				offset, _ := strconv.Atoi(m[1])
				if offset < 0 {
					offset = -offset
				}
				item.Rating = 5 - float64(offset)/16.0
			}
		}

		hideCell := row.Find("td.glhide")
		item.Uploader = strings.TrimSpace(hideCell.Find("a").First().Text())
		if m := pagesPattern.FindStringSubmatch(hideCell.Text()); m != nil {
			item.Pages, _ = strconv.Atoi(m[1])
		}

		page.Items = append(page.Items, item)
	})

	// The pager's next link carries the opaque continuation id.
	pager := doc.Find("div.searchnav")
	if pager.Length() == 0 {
		pager = doc.Find("table.ptt")
	}
	pager.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		id, _ := a.Attr("id")
		if id != "unext" && strings.TrimSpace(a.Text()) != ">" {
			return true
		}
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		if m := nextCursorPattern.FindStringSubmatch(href); m != nil {
			page.HasNext = true
			page.NextCursor = m[1]
			return false
		}
		return true
	})

	return page
}

// parseDetail extracts the gallery detail record. An empty record means
// the page did not look like a gallery at all.
func parseDetail(doc *goquery.Document) DetailRecord {
	var detail DetailRecord

	detail.Title = strings.TrimSpace(doc.Find("#gn").Text())
	detail.TitleOriginal = strings.TrimSpace(doc.Find("#gj").Text())
	detail.Category = strings.TrimSpace(doc.Find("#gdc a").First().Text())

	if style, ok := doc.Find("#gd1 div").First().Attr("style"); ok {
		if m := cssURLPattern.FindStringSubmatch(style); m != nil {
			detail.Thumbnail = m[1]
		}
	}

	tags := map[string][]string{}
	doc.Find("#taglist tr").Each(func(_ int, row *goquery.Selection) {
		name := strings.TrimSuffix(strings.TrimSpace(row.Find("td.tc").Text()), ":")
		if name == "" {
			return
		}
		var values []string
		row.Find("td div a").Each(func(_ int, a *goquery.Selection) {
			values = append(values, strings.TrimSpace(a.Text()))
		})
		if len(values) > 0 {
			tags[name] = values
		}
	})
	if len(tags) > 0 {
		detail.Tags = tags
	}

	if m := ratingValuePattern.FindStringSubmatch(doc.Find("#rating_label").Text()); m != nil {
		detail.Rating, _ = strconv.ParseFloat(m[1], 64)
	}

	doc.Find("#gdd td.gdt2").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		text := td.Text()
		if !strings.Contains(strings.ToLower(text), "page") {
			return true
		}
		if m := firstNumberPattern.FindStringSubmatch(text); m != nil {
			detail.Pages, _ = strconv.Atoi(m[1])
			return false
		}
		return true
	})

	return detail
}

func (d DetailRecord) empty() bool {
	return d.Title == "" && d.TitleOriginal == ""
}

// parsePreviews extracts the sprite-sheet preview cells: for each image a
// shared thumbnail URL plus the crop offsets of this cell within it.
func parsePreviews(doc *goquery.Document) []PreviewRecord {
	var previews []PreviewRecord

	doc.Find("div#gdt a").Each(func(i int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		style, ok := a.Find("div").First().Attr("style")
		if !ok {
			return
		}
		m := spriteStylePattern.FindStringSubmatch(style)
		if m == nil {
			return
		}

		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		x, _ := strconv.Atoi(m[4])
		y, _ := strconv.Atoi(m[5])
		if x < 0 {
			x = -x
		}
		if y < 0 {
			y = -y
		}

		previews = append(previews, PreviewRecord{
			Index:        i,
			PageURL:      href,
			ThumbnailURL: strings.Trim(m[3], `"'`),
			CropX:        x,
			CropY:        y,
			CropW:        w,
			CropH:        h,
		})
	})

	return previews
}

// parseImagePage extracts the full-size image URL from an image page.
// Empty string means the page held no image.
func parseImagePage(doc *goquery.Document) string {
	src, _ := doc.Find("div#i3 img").First().Attr("src")
	return src
}
