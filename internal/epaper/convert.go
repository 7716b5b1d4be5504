// Package epaper turns page screenshots into dithered bitmaps for
// monochrome e-paper panels.
package epaper

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/fogleman/gg"
	"github.com/sunshineplan/imgconv"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Dither selects the dithering algorithm.
type Dither string

const (
	FloydSteinberg Dither = "floyd-steinberg"
	Bayer4         Dither = "bayer4"
	Bayer8         Dither = "bayer8"
	Hybrid         Dither = "hybrid"
)

// Dithers lists every supported algorithm.
var Dithers = []Dither{FloydSteinberg, Bayer4, Bayer8, Hybrid}

// Fit selects how a screenshot is scaled to the panel.
type Fit string

const (
	// Cover scales preserving the aspect ratio and crops the overflow.
	Cover Fit = "cover"
	// Stretch scales each axis independently.
	Stretch Fit = "stretch"
)

// ErrEmptyImage is returned for zero sized input.
var ErrEmptyImage = errors.New("epaper: empty image")

// Options configure a [Converter]. Zero Width or Height keeps the
// screenshot's own size.
type Options struct {
	Width  int
	Height int
	Dither Dither
	Fit    Fit
	Invert bool

	// Depth is the BMP bit depth, 1 or 24. 24 bit output still only holds
	// black and white pixels, for panels whose firmware cannot read 1 bit files.
	Depth int

	// Stamp draws the render time in the bottom right corner.
	Stamp bool

	// Location is used to format the stamp. Defaults to time.Local.
	Location *time.Location
}

// Converter implements the e-paper rendition of a screenshot.
type Converter struct {
	opts Options
}

// New returns a converter. Unknown dither modes fall back to Floyd-Steinberg.
func New(opts Options) *Converter {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Fit == "" {
		opts.Fit = Cover
	}
	if opts.Depth == 0 {
		opts.Depth = 1
	}
	return &Converter{opts: opts}
}

// Convert decodes a PNG screenshot and returns it as a dithered BMP.
func (c *Converter) Convert(data []byte, at time.Time) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode screenshot: %w", err)
	}
	if src.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	img := c.scale(src)
	if c.opts.Stamp {
		img = stamp(img, at.In(c.opts.Location))
	}

	dithered := c.dither(img)

	if c.opts.Depth == 24 {
		var buf bytes.Buffer
		if err := bmp.Encode(&buf, dithered); err != nil {
			return nil, fmt.Errorf("unable to encode bmp: %w", err)
		}
		return buf.Bytes(), nil
	}

	out, err := encode1bppBMP(dithered)
	if err != nil {
		return nil, fmt.Errorf("unable to encode bmp: %w", err)
	}
	return out, nil
}

func (c *Converter) dither(img image.Image) *image.RGBA {
	switch c.opts.Dither {
	case Bayer4:
		return ditherBayer4x4(img, c.opts.Invert)
	case Bayer8:
		return ditherBayer8x8(img, c.opts.Invert)
	case Hybrid:
		return ditherBayer8x8Hybrid(img, c.opts.Invert)
	default:
		return ditherFloydSteinberg(img, c.opts.Invert)
	}
}

func (c *Converter) scale(src image.Image) image.Image {
	w, h := c.opts.Width, c.opts.Height
	b := src.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() == w && b.Dy() == h) {
		return src
	}

	if c.opts.Fit == Stretch {
		return imgconv.Resize(src, &imgconv.ResizeOption{Width: w, Height: h})
	}
	return cover(src, w, h)
}

// cover scales src into a w x h canvas without distortion, cropping
// whichever axis overflows.
func cover(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	targetRatio := float64(w) / float64(h)
	srcRatio := float64(srcW) / float64(srcH)

	var srcRect image.Rectangle
	if srcRatio > targetRatio {
		// wider than the panel: crop the sides
		newW := int(float64(srcH) * targetRatio)
		offsetX := (srcW - newW) / 2
		srcRect = image.Rect(
			bounds.Min.X+offsetX,
			bounds.Min.Y,
			bounds.Min.X+offsetX+newW,
			bounds.Min.Y+srcH,
		)
	} else {
		// taller than the panel: crop top and bottom
		newH := int(float64(srcW) / targetRatio)
		offsetY := (srcH - newH) / 2
		srcRect = image.Rect(
			bounds.Min.X,
			bounds.Min.Y+offsetY,
			bounds.Min.X+srcW,
			bounds.Min.Y+offsetY+newH,
		)
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, srcRect, draw.Over, nil)
	return dst
}

// stamp draws the time of the render on a white box in the bottom right.
func stamp(src image.Image, at time.Time) image.Image {
	const pad = 4.0

	dc := gg.NewContextForImage(src)
	label := at.Format("15:04")
	tw, th := dc.MeasureString(label)

	W, H := float64(dc.Width()), float64(dc.Height())
	x := W - tw - 2*pad
	y := H - th - 2*pad

	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, y, tw+2*pad, th+2*pad)
	dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.DrawStringAnchored(label, x+pad+tw/2, y+pad+th/2, 0.5, 0.5)

	return dc.Image()
}
