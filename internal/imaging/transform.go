// Package imaging reshapes heterogeneous upstream image payloads into
// predictable JPEG output: decode, optional sprite-sheet crop, resize to a
// target width, re-encode. Output is always JPEG regardless of the source
// format.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"gallerygate/internal/metrics"
)

var (
	// ErrDecode means the input bytes are not a decodable raster image.
	ErrDecode = errors.New("imaging: decode failed")
	// ErrCropOutOfBounds means the crop rectangle exceeds the decoded
	// pixel bounds.
	ErrCropOutOfBounds = errors.New("imaging: crop rectangle out of bounds")
	// ErrEncode means JPEG encoding failed. Fatal for the request, never
	// retried: the input is deterministic.
	ErrEncode = errors.New("imaging: encode failed")
)

// Rect is a crop rectangle in decoded-image pixel coordinates.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.W, r.H)
}

// Request describes one transform. Width is the target output width; the
// height follows from the (cropped) source aspect ratio. Quality is
// clamped to [1,100].
type Request struct {
	Crop    *Rect
	Width   int
	Quality int
}

// Result carries the encoded output and its dimensions.
type Result struct {
	Data         []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// Transform runs the full pipeline. CPU-bound; it takes no locks, so
// callers must keep it outside any cache critical section.
//
// The crop, if present, is applied against the decoded bounds before
// resizing; this is how sprite-sheet sub-images are extracted. Resizing
// always targets Width and preserves aspect ratio; requests wider than the
// source simply upscale. Alpha is flattened onto white before encoding,
// since JPEG carries none.
func Transform(data []byte, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.TransformDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if req.Width <= 0 {
		return nil, fmt.Errorf("%w: target width %d", ErrDecode, req.Width)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := img.Bounds()
	srcRect := bounds
	if req.Crop != nil {
		c := *req.Crop
		if c.X < 0 || c.Y < 0 || c.W <= 0 || c.H <= 0 ||
			c.X+c.W > bounds.Dx() || c.Y+c.H > bounds.Dy() {
			return nil, fmt.Errorf("%w: crop %s against %dx%d",
				ErrCropOutOfBounds, c, bounds.Dx(), bounds.Dy())
		}
		// Crop coordinates are relative to the decoded image, whose
		// bounds need not start at the origin.
		srcRect = image.Rect(
			bounds.Min.X+c.X,
			bounds.Min.Y+c.Y,
			bounds.Min.X+c.X+c.W,
			bounds.Min.Y+c.Y+c.H,
		)
	}

	srcW := srcRect.Dx()
	srcH := srcRect.Dy()
	outW := req.Width
	outH := int(math.Round(float64(srcH) * float64(outW) / float64(srcW)))
	if outH < 1 {
		outH = 1
	}

	// Render onto an opaque white canvas: draw.Over flattens any alpha
	// channel while CatmullRom does the scaling.
	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, srcRect, draw.Over, nil)

	quality := req.Quality
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	return &Result{
		Data:         buf.Bytes(),
		Width:        outW,
		Height:       outH,
		SourceWidth:  srcW,
		SourceHeight: srcH,
	}, nil
}
