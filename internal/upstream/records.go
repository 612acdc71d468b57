package upstream

// ListingItem is one gallery row from a listing page.
type ListingItem struct {
	ComicID   string  `json:"comic_id"`
	Title     string  `json:"title"`
	Category  string  `json:"category,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Posted    string  `json:"posted,omitempty"`
	Uploader  string  `json:"uploader,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	Pages     int     `json:"pages,omitempty"`
}

// ListingPage is one page of listing results plus the continuation token
// that fetches the next page. The token is upstream-issued and opaque; it
// cannot be constructed locally.
type ListingPage struct {
	Items      []ListingItem `json:"items"`
	HasNext    bool          `json:"has_next"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// DetailRecord is the parsed gallery detail page.
type DetailRecord struct {
	ComicID       string              `json:"comic_id"`
	Title         string              `json:"title"`
	TitleOriginal string              `json:"title_original,omitempty"`
	Category      string              `json:"category,omitempty"`
	Thumbnail     string              `json:"thumbnail,omitempty"`
	Tags          map[string][]string `json:"tags,omitempty"`
	Rating        float64             `json:"rating,omitempty"`
	Pages         int                 `json:"pages,omitempty"`
}

// PreviewRecord is one sprite-sheet cell from a gallery preview page: a
// shared thumbnail URL plus the crop rectangle that extracts this cell.
type PreviewRecord struct {
	Index        int    `json:"index"`
	PageURL      string `json:"page_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	CropX        int    `json:"crop_x"`
	CropY        int    `json:"crop_y"`
	CropW        int    `json:"crop_w"`
	CropH        int    `json:"crop_h"`
}
