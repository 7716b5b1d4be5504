package epaper

import (
	"bytes"
	"encoding/binary"
	"image"
)

const (
	fileHeaderSize = 14
	dibHeaderSize  = 40
	paletteSize    = 8 // two BGRA entries
)

// encode1bppBMP writes img as an uncompressed 1 bit per pixel BMP with a
// white/black palette. Pixels darker than mid grey become black.
func encode1bppBMP(img image.Image) ([]byte, error) {
	b := img.Bounds()
	width := b.Dx()
	height := b.Dy()

	// rows are padded to 4 bytes
	rawRowBytes := (width + 7) / 8
	rowSize := (rawRowBytes + 3) &^ 3
	imageSize := rowSize * height

	pixelOffset := fileHeaderSize + dibHeaderSize + paletteSize
	fileSize := uint32(pixelOffset + imageSize)

	buf := &bytes.Buffer{}
	buf.Grow(int(fileSize))

	// file header
	buf.Write([]byte{'B', 'M'})
	header := []any{
		fileSize,
		uint16(0), // reserved
		uint16(0), // reserved
		uint32(pixelOffset),

		// BITMAPINFOHEADER
		uint32(dibHeaderSize),
		int32(width),
		int32(height), // positive: bottom-up
		uint16(1),     // planes
		uint16(1),     // bits per pixel
		uint32(0),     // BI_RGB
		uint32(imageSize),
		int32(0),  // x pixels per meter
		int32(0),  // y pixels per meter
		uint32(2), // colors used
		uint32(2), // important colors
	}
	for _, v := range header {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}

	// palette: 0 = white, 1 = black
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0x00})
	buf.Write([]byte{0x00, 0x00, 0x00, 0x00})

	row := make([]byte, rowSize)
	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		clear(row)
		for x := b.Min.X; x < b.Max.X; x++ {
			if luma(img.At(x, y)) < 32768 {
				i := x - b.Min.X
				row[i/8] |= 1 << uint(7-i%8)
			}
		}
		buf.Write(row)
	}

	return buf.Bytes(), nil
}
