// Package imageprep shrinks photographed diary pages before they are uploaded for OCR.
package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxEdge keeps handwriting legible while staying well under upload limits.
const DefaultMaxEdge = 1600

var ErrEmptyImage = errors.New("image is empty")

// Options controls Prepare.
type Options struct {
	MaxEdge int
	Quality int
}

func (o Options) normalized() Options {
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	return o
}

// Prepare decodes a JPEG, PNG or WebP photo, fits it inside MaxEdge and re-encodes it as
// JPEG. Small JPEGs pass through untouched.
func Prepare(data []byte, mimeType string, opts Options) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	opts = opts.normalized()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}
	if format == "jpeg" && cfg.Width <= opts.MaxEdge && cfg.Height <= opts.MaxEdge {
		return data, "image/jpeg", nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s image: %w", format, err)
	}
	dst := Fit(src, opts.MaxEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// Fit scales img down so neither side exceeds maxEdge, keeping the aspect ratio.
func Fit(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxEdge && h <= maxEdge {
		out := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
		return out
	}
	nw, nh := maxEdge, h*maxEdge/w
	if h > w {
		nw, nh = w*maxEdge/h, maxEdge
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
