package projection

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// DepthImage is a row-major grid of raw depth units. Zero means no reading.
type DepthImage struct {
	Width  int
	Height int
	Data   []uint16
}

// NewDepthImage allocates a zeroed image.
func NewDepthImage(width, height int) *DepthImage {
	return &DepthImage{Width: width, Height: height, Data: make([]uint16, width*height)}
}

// At returns the raw value at (x, y); out of bounds reads zero.
func (d *DepthImage) At(x, y int) uint16 {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return 0
	}
	return d.Data[y*d.Width+x]
}

// Set stores a raw value at (x, y).
func (d *DepthImage) Set(x, y int, v uint16) {
	if x < 0 || y < 0 || x >= d.Width || y >= d.Height {
		return
	}
	d.Data[y*d.Width+x] = v
}

// Fill sets every pixel to v.
func (d *DepthImage) Fill(v uint16) {
	for i := range d.Data {
		d.Data[i] = v
	}
}

// Contains reports whether the integer pixel lies inside the image.
func (d *DepthImage) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < d.Width && y < d.Height
}

// MinNonZero returns the smallest non-zero value inside the window x window
// kernel centred on (x, y), clipped to the image. Zero means nothing valid.
func (d *DepthImage) MinNonZero(x, y, window int) uint16 {
	half := window / 2
	var best uint16
	for yy := y - half; yy <= y+half; yy++ {
		for xx := x - half; xx <= x+half; xx++ {
			v := d.At(xx, yy)
			if v == 0 {
				continue
			}
			if best == 0 || v < best {
				best = v
			}
		}
	}
	return best
}

// DecodeDepthPNG reads a 16-bit grayscale PNG. Other gray or color layouts
// are accepted and reduced to their 16-bit luminance.
func DecodeDepthPNG(b []byte) (*DepthImage, error) {
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode depth png: %w", err)
	}
	bounds := img.Bounds()
	out := NewDepthImage(bounds.Dx(), bounds.Dy())
	if g, ok := img.(*image.Gray16); ok {
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Data[y*out.Width+x] = g.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y
			}
		}
		return out, nil
	}
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			c := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			out.Data[y*out.Width+x] = c.Y
		}
	}
	return out, nil
}

// EncodeDepthPNG writes the image as a 16-bit grayscale PNG.
func EncodeDepthPNG(d *DepthImage) ([]byte, error) {
	img := image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		for x := 0; x < d.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: d.Data[y*d.Width+x]})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode depth png: %w", err)
	}
	return buf.Bytes(), nil
}
