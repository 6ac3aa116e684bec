// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package planar holds channels-first float32 image buffers (`[channels, height, width]`),
// the in-memory form of every image, mask and masked image produced by the dataset.
//
// Buffers convert back and forth from `image.Image` (see FromImage and ToImage) and to
// GoMLX tensors (see Image.Tensor), which is what a training loop consumes.
package planar

import (
	"fmt"

	"github.com/pkg/errors"
)

// Image is a channels-first float32 image: Data holds Channels planes of Height x Width
// values each, rows stored contiguously.
//
// A single channel Image is used for masks.
type Image struct {
	Channels, Height, Width int
	Data                    []float32
}

// New returns a zero-filled Image with the given dimensions.
func New(channels, height, width int) *Image {
	return &Image{
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, channels*height*width),
	}
}

// String implements fmt.Stringer.
func (img *Image) String() string {
	return fmt.Sprintf("planar.Image[%d, %d, %d]", img.Channels, img.Height, img.Width)
}

// Dimensions returns `[channels, height, width]`.
func (img *Image) Dimensions() []int {
	return []int{img.Channels, img.Height, img.Width}
}

// Index of the value for channel c, row y and column x in Data.
func (img *Image) Index(c, y, x int) int {
	return (c*img.Height+y)*img.Width + x
}

// At returns the value at channel c, row y, column x.
func (img *Image) At(c, y, x int) float32 { return img.Data[img.Index(c, y, x)] }

// Fill sets every value to v.
func (img *Image) Fill(v float32) {
	for ii := range img.Data {
		img.Data[ii] = v
	}
}

// FillRect sets every value inside the rectangle [y0, y1) x [x0, x1), in all channels, to v.
// The rectangle is clipped to the image bounds.
func (img *Image) FillRect(y0, x0, y1, x1 int, v float32) {
	y0, x0 = max(y0, 0), max(x0, 0)
	y1, x1 = min(y1, img.Height), min(x1, img.Width)
	if y0 >= y1 || x0 >= x1 {
		return
	}
	for c := 0; c < img.Channels; c++ {
		for y := y0; y < y1; y++ {
			row := img.Data[img.Index(c, y, x0):img.Index(c, y, x1)]
			for ii := range row {
				row[ii] = v
			}
		}
	}
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	clone := &Image{Channels: img.Channels, Height: img.Height, Width: img.Width}
	clone.Data = make([]float32, len(img.Data))
	copy(clone.Data, img.Data)
	return clone
}

// SameSpatialSize returns whether both images have the same height and width.
func (img *Image) SameSpatialSize(other *Image) bool {
	return img.Height == other.Height && img.Width == other.Width
}

// Map returns a new image with fn applied to every value.
func (img *Image) Map(fn func(v float32) float32) *Image {
	out := img.Clone()
	for ii, v := range out.Data {
		out.Data[ii] = fn(v)
	}
	return out
}

// Affine returns a new image with every value v replaced by v*scale + offset.
func (img *Image) Affine(scale, offset float32) *Image {
	return img.Map(func(v float32) float32 { return v*scale + offset })
}

// MaskOut returns a copy of img where every pixel whose mask value is >= threshold is zeroed, in
// all channels. The mask must be single channel and have the same spatial size as img.
func (img *Image) MaskOut(mask *Image, threshold float32) (*Image, error) {
	if mask.Channels != 1 {
		return nil, errors.Errorf("mask must have a single channel, got %s", mask)
	}
	if !img.SameSpatialSize(mask) {
		return nil, errors.Errorf("mask %s doesn't match image %s spatial size", mask, img)
	}
	out := img.Clone()
	plane := img.Height * img.Width
	for pos, m := range mask.Data {
		if m < threshold {
			continue
		}
		for c := 0; c < img.Channels; c++ {
			out.Data[c*plane+pos] = 0
		}
	}
	return out, nil
}
