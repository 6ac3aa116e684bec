// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package planar

import (
	"image"
	"image/color"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// FromImageConfig holds the configuration returned by the FromImage function. Once
// configured, use Single to actually convert.
type FromImageConfig struct {
	gray bool
}

// FromImage converts an `image.Image` to a planar Image.
//
// By default, it converts to RGB (alpha dropped, values not pre-multiplied), with values
// in the range [0, 1]. It returns a configuration object that can be further configured.
func FromImage() *FromImageConfig {
	return &FromImageConfig{}
}

// Gray configures the conversion to a single luminance channel (the same weights
// used by "L" mode conversions: 0.299 R + 0.587 G + 0.114 B).
//
// It returns the FromImageConfig object, so configuration calls can be cascaded.
func (fi *FromImageConfig) Gray() *FromImageConfig {
	fi.gray = true
	return fi
}

// Single converts img to a planar Image, shaped `[3, height, width]` (or `[1, height, width]`
// if configured as Gray).
func (fi *FromImageConfig) Single(img image.Image) *Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	channels := 3
	if fi.gray {
		channels = 1
	}
	out := New(channels, height, width)
	const scale = float32(1.0 / 255.0)
	plane := width * height
	pos := 0
	if nrgba, ok := img.(*image.NRGBA); ok && !fi.gray {
		// Fast path: imaging always returns *image.NRGBA.
		for y := 0; y < height; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*width]
			for x := 0; x < width; x++ {
				out.Data[pos] = float32(row[4*x]) * scale
				out.Data[plane+pos] = float32(row[4*x+1]) * scale
				out.Data[2*plane+pos] = float32(row[4*x+2]) * scale
				pos++
			}
		}
		return out
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if fi.gray {
				out.Data[pos] = float32(luminance(c)) * scale
			} else {
				out.Data[pos] = float32(c.R) * scale
				out.Data[plane+pos] = float32(c.G) * scale
				out.Data[2*plane+pos] = float32(c.B) * scale
			}
			pos++
		}
	}
	return out
}

// luminance of the non-premultiplied color, rounded to 8 bits.
func luminance(c color.NRGBA) uint8 {
	return uint8((299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000)
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single to actually convert a planar Image to an `image.Image`.
type ToImageConfig struct {
	minValue, maxValue float64
}

// ToImage returns a configuration that can be used to convert planar images to `image.Image`.
//
// Values are mapped linearly from [minValue, maxValue] (default [0, 1]) to [0, 255] and clamped.
// Single channel images are converted to `*image.Gray`, 3 channel images to `*image.NRGBA`.
func ToImage() *ToImageConfig {
	return &ToImageConfig{minValue: 0, maxValue: 1}
}

// Range sets the range of values mapped to [0, 255].
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) Range(minValue, maxValue float64) *ToImageConfig {
	ti.minValue, ti.maxValue = minValue, maxValue
	return ti
}

// To8Bits converts a single value using the configured range.
func (ti *ToImageConfig) To8Bits(v float32) uint8 {
	f := math.Round(255 * (float64(v) - ti.minValue) / (ti.maxValue - ti.minValue))
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}

// Single converts the planar image to an `image.Image`.
func (ti *ToImageConfig) Single(p *Image) (image.Image, error) {
	rect := image.Rect(0, 0, p.Width, p.Height)
	switch p.Channels {
	case 1:
		img := image.NewGray(rect)
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				img.Pix[y*img.Stride+x] = ti.To8Bits(p.At(0, y, x))
			}
		}
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				pix := img.Pix[y*img.Stride+4*x : y*img.Stride+4*x+4]
				pix[0] = ti.To8Bits(p.At(0, y, x))
				pix[1] = ti.To8Bits(p.At(1, y, x))
				pix[2] = ti.To8Bits(p.At(2, y, x))
				pix[3] = 255
			}
		}
		return img, nil
	default:
		return nil, errors.Errorf("ToImage only supports 1 or 3 channels, got %s", p)
	}
}

// Tensor returns the image as a float32 GoMLX tensor shaped `[channels, height, width]`.
// The data is copied.
func (img *Image) Tensor() *tensors.Tensor {
	flat := make([]float32, len(img.Data))
	copy(flat, img.Data)
	return tensors.FromFlatDataAndDimensions(flat, img.Dimensions()...)
}

// Float32s copies the flat values of a float32 or float64 tensor to a new []float32.
func Float32s(t *tensors.Tensor) ([]float32, error) {
	var flat []float32
	var convErr error
	err := t.ConstFlatData(func(flatAny any) {
		switch values := flatAny.(type) {
		case []float32:
			flat = make([]float32, len(values))
			copy(flat, values)
		case []float64:
			flat = make([]float32, len(values))
			for ii, v := range values {
				flat[ii] = float32(v)
			}
		default:
			convErr = errors.Errorf("tensor with dtype %s is not supported, only float32 and float64", t.DType())
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to access tensor data")
	}
	if convErr != nil {
		return nil, convErr
	}
	return flat, nil
}
