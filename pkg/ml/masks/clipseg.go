// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package masks

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/loratune/pivotal/pkg/support/hfweights"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Segmenter is a text-conditioned image segmentation model (e.g. CLIPSeg), including its own
// input preprocessing.
//
// Segment runs the model once per prompt on the same image, in a single batch, and returns the
// logits as a tensor shaped `[len(prompts), height, width]`, where height and width are the
// model's output resolution (not necessarily the image's).
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, prompts []string) (*tensors.Tensor, error)
}

// ClipSegConfig configures the prompt-grounded mask.
type ClipSegConfig struct {
	// ModelID is the HuggingFace id of the segmentation model. Informational: it is passed to
	// the loader and used in logs and errors.
	ModelID string

	// Bias added to the probabilities before normalization, so masks are never all zeros.
	Bias float64

	// Temperature divides the logits before the softmax.
	Temperature float64

	// Threshold on the normalized [0, 1] probability map above which a pixel is masked.
	Threshold float64
}

// DefaultClipSegConfig returns the configuration for "CIDAS/clipseg-rd64-refined".
func DefaultClipSegConfig() ClipSegConfig {
	return ClipSegConfig{
		ModelID:     "CIDAS/clipseg-rd64-refined",
		Bias:        0.01,
		Temperature: 1.0,
		Threshold:   0.95,
	}
}

// ClipSeg generates masks of the regions of an image matching a text prompt.
//
// The model is loaded lazily, on the first call to Generate, and is safe for concurrent use
// if the underlying Segmenter is.
type ClipSeg struct {
	config ClipSegConfig
	model  *hfweights.Lazy[Segmenter]
}

// NewClipSeg creates a ClipSeg that loads its model with load on first use.
func NewClipSeg(config ClipSegConfig, load func(ctx context.Context, modelID string) (Segmenter, error)) *ClipSeg {
	return &ClipSeg{
		config: config,
		model: hfweights.NewLazy(func(ctx context.Context) (Segmenter, error) {
			klog.V(1).Infof("loading segmentation model %q", config.ModelID)
			return load(ctx, config.ModelID)
		}),
	}
}

// NewClipSegFromSegmenter creates a ClipSeg using an already loaded model.
func NewClipSegFromSegmenter(config ClipSegConfig, segmenter Segmenter) *ClipSeg {
	return &ClipSeg{config: config, model: hfweights.Loaded(segmenter)}
}

// Generate a mask for img, a `[3, height, width]` image normalized to [-1, 1], of the regions
// matching prompt.
//
// It returns the mask, shaped `[1, height, width]` with values in {0, 1}, and the masked image:
// img with every pixel under the mask set to 0.
func (cs *ClipSeg) Generate(ctx context.Context, img *planar.Image, prompt string) (mask, masked *planar.Image, err error) {
	model, err := cs.model.Get(ctx)
	if err != nil {
		return nil, nil, newModelError(err, "model %q", cs.config.ModelID)
	}
	if img.Channels != 3 {
		return nil, nil, errors.Errorf("ClipSeg requires an RGB image, got %s", img)
	}
	rgb, err := planar.ToImage().Range(-1, 1).Single(img)
	if err != nil {
		return nil, nil, err
	}
	logits, err := model.Segment(ctx, rgb, []string{prompt, ""})
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "segmentation model %q failed for prompt %q", cs.config.ModelID, prompt)
	}
	probs, err := cs.Probabilities(logits)
	if err != nil {
		return nil, nil, err
	}
	mask = cs.threshold(probs, img.Width, img.Height)
	masked, err = img.MaskOut(mask, MaskThreshold)
	if err != nil {
		return nil, nil, err
	}
	return mask, masked, nil
}

// Probabilities converts the `[2, height, width]` logits of (prompt, empty prompt) to an 8-bit
// probability map of the prompt: softmax over the two prompts, plus bias, clamped to [0, 1] and
// rescaled so its maximum is 255.
func (cs *ClipSeg) Probabilities(logits *tensors.Tensor) (*image.Gray, error) {
	dims := logits.Shape().Dimensions
	if err := checkLogitsDims(dims); err != nil {
		return nil, err
	}
	flat, err := planar.Float32s(logits)
	if err != nil {
		return nil, err
	}
	height, width := dims[1], dims[2]
	plane := height * width
	temperature := cs.config.Temperature
	if temperature <= 0 {
		temperature = 1
	}
	probs := make([]float64, plane)
	maxProb := 0.0
	for pos := range probs {
		// Softmax over the batch axis, prompt slot: 1 / (1 + exp((l_empty - l_prompt) / T)).
		diff := (float64(flat[plane+pos]) - float64(flat[pos])) / temperature
		p := 1.0 / (1.0 + math.Exp(diff))
		p = min(max(p+cs.config.Bias, 0), 1)
		probs[pos] = p
		maxProb = max(maxProb, p)
	}
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for pos, p := range probs {
		v := 0.0
		if maxProb > 0 {
			v = 255 * p / maxProb
		}
		gray.Pix[(pos/width)*gray.Stride+pos%width] = uint8(min(math.Round(v), 255))
	}
	return gray, nil
}

// checkLogitsDims validates logits are shaped `[2, height, width]`, with a non-empty map.
func checkLogitsDims(dims []int) error {
	if len(dims) != 3 || dims[0] != 2 || dims[1] <= 0 || dims[2] <= 0 {
		return errors.Errorf("segmentation logits must be shaped [2, height, width] with height, width > 0, got %v", dims)
	}
	return nil
}

// threshold resizes the probability map to the image size, with the same bilinear filter used
// by the augmentation pipeline, and binarizes it.
func (cs *ClipSeg) threshold(probs *image.Gray, width, height int) *planar.Image {
	resized := imaging.Resize(probs, width, height, imaging.Linear)
	mask := planar.New(1, height, width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if float64(resized.Pix[y*resized.Stride+4*x])/255.0 > cs.config.Threshold {
				mask.Data[y*width+x] = 1
			}
		}
	}
	return mask
}
