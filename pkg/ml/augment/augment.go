// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment implements the image transformation chain applied to instance images and their
// masks: resize, color jitter, center crop, horizontal flip and normalization to [-1, 1].
package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/pkg/errors"
)

// Config of the augmentation pipeline.
type Config struct {
	// Size of the square output images.
	Size int

	// Resize the shorter edge of the input to Size (keeping the aspect ratio) before cropping.
	// If false images are only center cropped (or padded with black).
	Resize bool

	// ColorJitter enables random brightness and contrast changes, each by a factor drawn
	// uniformly from [1-Jitter, 1+Jitter].
	ColorJitter bool
	Jitter      float64

	// HFlip enables random horizontal flips, with probability 0.5.
	HFlip bool
}

// DefaultConfig returns the default augmentation: 512x512 crops, resized, with random flips and
// no color jitter.
func DefaultConfig() Config {
	return Config{
		Size:        512,
		Resize:      true,
		ColorJitter: false,
		Jitter:      0.1,
		HFlip:       true,
	}
}

// Pipeline applies the configured transformations. It holds no mutable state: all randomness
// comes from the rng given to each call.
type Pipeline struct {
	config Config
}

// New creates a Pipeline after validating config.
func New(config Config) (*Pipeline, error) {
	if config.Size <= 0 {
		return nil, errors.Errorf("augment.Config.Size must be > 0, got %d", config.Size)
	}
	if config.ColorJitter && (config.Jitter < 0 || config.Jitter >= 1) {
		return nil, errors.Errorf("augment.Config.Jitter must be in [0, 1), got %g", config.Jitter)
	}
	return &Pipeline{config: config}, nil
}

// DecideFlip draws the flip decision for one example. The same decision must be used for the
// image and its masks.
func (p *Pipeline) DecideFlip(rng *rand.Rand) bool {
	return p.config.HFlip && rng.Float64() > 0.5
}

// Transform applies the geometric and color transformations to img and returns a Size x Size
// image.
func (p *Pipeline) Transform(rng *rand.Rand, img image.Image, flip bool) *image.NRGBA {
	var out *image.NRGBA
	if p.config.Resize {
		out = ResizeShorterEdge(img, p.config.Size)
	} else {
		out = imaging.Clone(img)
	}
	if p.config.ColorJitter {
		out = p.jitter(rng, out)
	}
	out = CenterCrop(out, p.config.Size)
	if flip {
		out = imaging.FlipH(out)
	}
	return out
}

// Apply transforms img and converts it to a `[3, Size, Size]` image normalized to [-1, 1].
func (p *Pipeline) Apply(rng *rand.Rand, img image.Image, flip bool) *planar.Image {
	transformed := p.Transform(rng, img, flip)
	return Normalize(planar.FromImage().Single(transformed))
}

// ApplyMask transforms the grayscale version of mask with the same chain as Apply, and remaps
// its values to [0.5, 1.5]: `mask * 0.5 + 1.0`. The result is shaped `[1, Size, Size]`.
func (p *Pipeline) ApplyMask(rng *rand.Rand, mask image.Image, flip bool) *planar.Image {
	transformed := p.Transform(rng, imaging.Grayscale(mask), flip)
	normalized := Normalize(planar.FromImage().Gray().Single(transformed))
	return normalized.Affine(0.5, 1.0)
}

// Normalize maps values in [0, 1] to [-1, 1], that is (x - 0.5) / 0.5 for every channel.
func Normalize(img *planar.Image) *planar.Image {
	return img.Affine(2, -1)
}

// ResizeShorterEdge resizes img, with a bilinear filter, so its shorter edge is size. The longer
// edge is scaled proportionally and truncated. Images already at the target size are only copied.
func ResizeShorterEdge(img image.Image, size int) *image.NRGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if (width <= height && width == size) || (height <= width && height == size) {
		return imaging.Clone(img)
	}
	if width <= height {
		return imaging.Resize(img, size, int(float64(size)*float64(height)/float64(width)), imaging.Linear)
	}
	return imaging.Resize(img, int(float64(size)*float64(width)/float64(height)), size, imaging.Linear)
}

// CenterCrop crops a size x size square from the center of img. Images smaller than size are first
// padded with black, centered.
func CenterCrop(img *image.NRGBA, size int) *image.NRGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < size || height < size {
		padded := imaging.New(max(width, size), max(height, size), color.NRGBA{A: 255})
		padded = imaging.Paste(padded, img, image.Pt(max(size-width, 0)/2, max(size-height, 0)/2))
		img, width, height = padded, padded.Bounds().Dx(), padded.Bounds().Dy()
	}
	if width == size && height == size {
		return img
	}
	top := int(math.RoundToEven(float64(height-size) / 2))
	left := int(math.RoundToEven(float64(width-size) / 2))
	return imaging.Crop(img, image.Rect(left, top, left+size, top+size).Add(img.Bounds().Min))
}

// jitter changes brightness and contrast, in random order.
func (p *Pipeline) jitter(rng *rand.Rand, img *image.NRGBA) *image.NRGBA {
	brightnessFirst := rng.Intn(2) == 0
	brightness := 1 - p.config.Jitter + 2*p.config.Jitter*rng.Float64()
	contrast := 1 - p.config.Jitter + 2*p.config.Jitter*rng.Float64()
	if brightnessFirst {
		return AdjustContrast(AdjustBrightness(img, brightness), contrast)
	}
	return AdjustBrightness(AdjustContrast(img, contrast), brightness)
}

// AdjustBrightness multiplies every color channel by factor, clamping to [0, 255].
func AdjustBrightness(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: blend(0, c.R, factor),
			G: blend(0, c.G, factor),
			B: blend(0, c.B, factor),
			A: c.A,
		}
	})
}

// AdjustContrast blends every pixel with the mean gray level of the image:
// `mean + factor * (c - mean)`, clamped to [0, 255].
func AdjustContrast(img image.Image, factor float64) *image.NRGBA {
	mean := meanGray(img)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: blend(mean, c.R, factor),
			G: blend(mean, c.G, factor),
			B: blend(mean, c.B, factor),
			A: c.A,
		}
	})
}

// blend returns base + factor * (v - base), rounded and clamped to 8 bits.
func blend(base float64, v uint8, factor float64) uint8 {
	f := math.Round(base + factor*(float64(v)-base))
	return uint8(min(max(f, 0), 255))
}

// meanGray returns the mean luminance of img, rounded to an integer level.
func meanGray(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	numPixels := bounds.Dx() * bounds.Dy()
	if numPixels == 0 {
		return 0
	}
	var sum int64
	for y := 0; y < bounds.Dy(); y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+4*bounds.Dx()]
		for x := 0; x < bounds.Dx(); x++ {
			sum += int64(row[4*x])
		}
	}
	return math.Floor(float64(sum)/float64(numPixels) + 0.5)
}
