package epaper

import (
	"image"
	"image/color"
)

var (
	black = color.RGBA{0, 0, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
)

// standard 8x8 Bayer matrix (0..63)
var bayer8x8 = [8][8]uint8{
	{0, 32, 8, 40, 2, 34, 10, 42},
	{48, 16, 56, 24, 50, 18, 58, 26},
	{12, 44, 4, 36, 14, 46, 6, 38},
	{60, 28, 52, 20, 62, 30, 54, 22},
	{3, 35, 11, 43, 1, 33, 9, 41},
	{51, 19, 59, 27, 49, 17, 57, 25},
	{15, 47, 7, 39, 13, 45, 5, 37},
	{63, 31, 55, 23, 61, 29, 53, 21},
}

// 4x4 Bayer matrix (0..15)
var bayer4x4 = [4][4]uint8{
	{0, 8, 2, 10},
	{12, 4, 14, 6},
	{3, 11, 1, 9},
	{15, 7, 13, 5},
}

// hybrid dithering leaves clearly dark and clearly light pixels alone and
// only dithers the mid tones, which keeps text crisp
const (
	hybridLow  = 18000
	hybridHigh = 52000
)

// luma returns the perceived brightness of c in 0..65535.
func luma(c color.Color) uint32 {
	r, g, b, _ := c.RGBA()
	return (299*r + 587*g + 114*b) / 1000
}

func set(out *image.RGBA, x, y int, isBlack, invert bool) {
	if invert {
		isBlack = !isBlack
	}
	if isBlack {
		out.SetRGBA(x, y, black)
	} else {
		out.SetRGBA(x, y, white)
	}
}

// ditherBayer8x8 is ordered dithering with the 8x8 matrix.
func ditherBayer8x8(src image.Image, invert bool) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		by := y & 7
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			bx := x & 7
			level := uint8(luma(src.At(x, y)) >> 10) // 0..63
			set(out, x, y, level < bayer8x8[by][bx], invert)
		}
	}

	return out
}

// ditherBayer4x4 is ordered dithering with the 4x4 matrix.
func ditherBayer4x4(src image.Image, invert bool) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		by := y & 3
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			bx := x & 3
			level := uint8(luma(src.At(x, y)) >> 12) // 0..15
			set(out, x, y, level < bayer4x4[by][bx], invert)
		}
	}

	return out
}

// ditherBayer8x8Hybrid applies the 8x8 matrix to mid tones only.
func ditherBayer8x8Hybrid(src image.Image, invert bool) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		by := y & 7
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			bx := x & 7
			lum := luma(src.At(x, y))

			var isBlack bool
			switch {
			case lum < hybridLow:
				isBlack = true
			case lum > hybridHigh:
				isBlack = false
			default:
				isBlack = uint8(lum>>10) < bayer8x8[by][bx]
			}
			set(out, x, y, isBlack, invert)
		}
	}

	return out
}

// ditherFloydSteinberg diffuses the quantisation error to the neighbours.
func ditherFloydSteinberg(src image.Image, invert bool) *image.RGBA {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewRGBA(bounds)

	// brightness 0..1
	buf := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf[y*w+x] = float64(luma(src.At(bounds.Min.X+x, bounds.Min.Y+y))) / 65535.0
		}
	}

	spread := func(x, y int, e, factor float64) {
		if x < 0 || x >= w || y < 0 || y >= h {
			return
		}
		buf[y*w+x] += e * factor
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			old := buf[y*w+x]
			quantised := 0.0
			if old >= 0.5 {
				quantised = 1.0
			}
			set(out, bounds.Min.X+x, bounds.Min.Y+y, quantised < 0.5, invert)

			e := old - quantised
			spread(x+1, y, e, 7.0/16.0)
			spread(x-1, y+1, e, 3.0/16.0)
			spread(x, y+1, e, 5.0/16.0)
			spread(x+1, y+1, e, 1.0/16.0)
		}
	}

	return out
}
