// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package masks synthesizes the masks used when fine-tuning an image generation model:
//
//   - Cutout: random rectangular holes, used as inpainting masks.
//   - ClipSeg: masks grounded on a text prompt, from an external vision-language segmentation model.
//   - EnsureFaceMasks: face-region masks from an external face segmentation model, computed once
//     for an instance directory and stored next to the images.
//
// Masks are single channel planar images with values in [0, 1], where 1 marks the region
// masked out (to be inpainted or ignored).
package masks

import (
	"fmt"
	"image"
	"math/rand"

	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidImageSize is returned when an image is too small for the requested mask.
	ErrInvalidImageSize = errors.New("invalid image size for mask")

	// ErrModelUnavailable is returned when an external segmentation model can't be loaded.
	ErrModelUnavailable = errors.New("segmentation model unavailable")
)

// modelError is a failure of an external segmentation model. It matches both ErrModelUnavailable
// and its cause with errors.Is.
type modelError struct {
	msg   string
	cause error
}

func newModelError(cause error, format string, args ...any) error {
	return errors.WithStack(&modelError{msg: fmt.Sprintf(format, args...), cause: cause})
}

func (e *modelError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrModelUnavailable, e.msg, e.cause)
}

func (e *modelError) Unwrap() error { return e.cause }

func (e *modelError) Is(target error) bool { return target == ErrModelUnavailable }

// MaskThreshold is the value from which a mask value is considered "masked out".
const MaskThreshold = 0.5

// CutoutConfig configures the random cutout holes. Ranges are inclusive.
type CutoutConfig struct {
	MinHoles, MaxHoles int

	// MinHoleSize and MaxHoleSize bound both the height and the width of each hole.
	// An image smaller than MinHoleSize fails with ErrInvalidImageSize, while MaxHoleSize
	// is clamped to the image size.
	MinHoleSize, MaxHoleSize int

	// FullMaskProbability is the probability of masking the whole image instead.
	FullMaskProbability float64
}

// DefaultCutoutConfig returns 8 to 32 holes, each 16 to 128 pixels in each direction, and
// masks the whole image 25% of the time.
func DefaultCutoutConfig() CutoutConfig {
	return CutoutConfig{
		MinHoles:            8,
		MaxHoles:            32,
		MinHoleSize:         16,
		MaxHoleSize:         128,
		FullMaskProbability: 0.25,
	}
}

// Validate checks that the ranges are sensible.
func (c CutoutConfig) Validate() error {
	if c.MinHoles < 0 || c.MaxHoles < c.MinHoles {
		return errors.Errorf("invalid cutout number of holes range [%d, %d]", c.MinHoles, c.MaxHoles)
	}
	if c.MinHoleSize <= 0 || c.MaxHoleSize < c.MinHoleSize {
		return errors.Errorf("invalid cutout hole size range [%d, %d]", c.MinHoleSize, c.MaxHoleSize)
	}
	if c.FullMaskProbability < 0 || c.FullMaskProbability > 1 {
		return errors.Errorf("invalid cutout full mask probability %g", c.FullMaskProbability)
	}
	return nil
}

// randInt returns a uniform integer in [lo, hi], both inclusive.
func randInt(rng *rand.Rand, lo, hi int) int {
	return lo + rng.Intn(hi-lo+1)
}

// Holes samples the cutout rectangles for an image of the given size. Holes may overlap.
func (c CutoutConfig) Holes(rng *rand.Rand, height, width int) ([]image.Rectangle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if height < c.MinHoleSize || width < c.MinHoleSize {
		return nil, errors.Wrapf(ErrInvalidImageSize,
			"image %dx%d (height x width) is smaller than the minimum cutout hole size %d",
			height, width, c.MinHoleSize)
	}
	maxHeight, maxWidth := min(c.MaxHoleSize, height), min(c.MaxHoleSize, width)
	numHoles := randInt(rng, c.MinHoles, c.MaxHoles)
	holes := make([]image.Rectangle, 0, numHoles)
	for range numHoles {
		holeHeight := randInt(rng, c.MinHoleSize, maxHeight)
		holeWidth := randInt(rng, c.MinHoleSize, maxWidth)
		y1 := randInt(rng, 0, height-holeHeight)
		x1 := randInt(rng, 0, width-holeWidth)
		holes = append(holes, image.Rect(x1, y1, x1+holeWidth, y1+holeHeight))
	}
	return holes, nil
}

// Generate a random cutout mask for img (shaped `[channels, height, width]`, any value range).
//
// It returns the mask, shaped `[1, height, width]` with values in {0, 1}, and the masked image:
// img with every pixel under the mask set to 0.
func (c CutoutConfig) Generate(rng *rand.Rand, img *planar.Image) (mask, masked *planar.Image, err error) {
	holes, err := c.Holes(rng, img.Height, img.Width)
	if err != nil {
		return nil, nil, err
	}
	mask = planar.New(1, img.Height, img.Width)
	for _, hole := range holes {
		mask.FillRect(hole.Min.Y, hole.Min.X, hole.Max.Y, hole.Max.X, 1)
	}
	if rng.Float64() < c.FullMaskProbability {
		mask.Fill(1)
	}
	masked, err = img.MaskOut(mask, MaskThreshold)
	if err != nil {
		return nil, nil, err
	}
	return mask, masked, nil
}

// Cutout generates a random cutout mask with DefaultCutoutConfig. See CutoutConfig.Generate.
func Cutout(rng *rand.Rand, img *planar.Image) (mask, masked *planar.Image, err error) {
	return DefaultCutoutConfig().Generate(rng, img)
}
