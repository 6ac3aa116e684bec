// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pivotal

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/pkg/errors"
)

// Kind of Example: which optional masks it carries.
type Kind int

const (
	KindPlain Kind = iota
	KindInpainting
	KindMaskedCaption
	KindMaskedInpainting
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "Plain"
	case KindInpainting:
		return "Inpainting"
	case KindMaskedCaption:
		return "MaskedCaption"
	case KindMaskedInpainting:
		return "MaskedInpainting"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Example is one training example. It is one of *PlainExample, *InpaintingExample,
// *MaskedCaptionExample or *MaskedInpaintingExample: use a type switch to access the masks.
type Example interface {
	Kind() Kind

	// Base returns the fields common to all examples.
	Base() *PlainExample

	// Tensors returns the example as tensors: image, prompt ids, then the masks in the order of
	// the fields of the concrete type.
	Tensors() []*tensors.Tensor

	isExample()
}

// PlainExample has the augmented image and its tokenized prompt.
type PlainExample struct {
	// Index of the instance, after wrapping around the dataset length.
	Index int

	// Image shaped `[3, size, size]`, normalized to [-1, 1].
	Image *planar.Image

	// Prompt before tokenization, and its token ids (not padded).
	Prompt    string
	PromptIDs []int

	// Flipped reports whether the image (and its masks) were horizontally flipped.
	Flipped bool
}

// InpaintingExample adds an inpainting mask, shaped `[1, size, size]` with values in {0, 1}, and
// the image with the masked region zeroed.
type InpaintingExample struct {
	PlainExample
	Mask        *planar.Image
	MaskedImage *planar.Image
}

// MaskedCaptionExample adds the caption (or face) mask loaded from disk, shaped `[1, size, size]`
// with values in [0.5, 1.5].
type MaskedCaptionExample struct {
	PlainExample
	CaptionMask *planar.Image
}

// MaskedInpaintingExample has both the inpainting and the caption masks.
type MaskedInpaintingExample struct {
	InpaintingExample
	CaptionMask *planar.Image
}

var (
	_ Example = (*PlainExample)(nil)
	_ Example = (*InpaintingExample)(nil)
	_ Example = (*MaskedCaptionExample)(nil)
	_ Example = (*MaskedInpaintingExample)(nil)
)

func (e *PlainExample) isExample() {}
func (e *PlainExample) Base() *PlainExample { return e }
func (e *PlainExample) Kind() Kind { return KindPlain }
func (e *InpaintingExample) Kind() Kind { return KindInpainting }
func (e *MaskedCaptionExample) Kind() Kind { return KindMaskedCaption }
func (e *MaskedInpaintingExample) Kind() Kind { return KindMaskedInpainting }

// Tensors implements Example.
func (e *PlainExample) Tensors() []*tensors.Tensor {
	ids := make([]int32, len(e.PromptIDs))
	for ii, id := range e.PromptIDs {
		ids[ii] = int32(id)
	}
	return []*tensors.Tensor{
		e.Image.Tensor(),
		tensors.FromFlatDataAndDimensions(ids, len(ids)),
	}
}

// Tensors implements Example.
func (e *InpaintingExample) Tensors() []*tensors.Tensor {
	return append(e.PlainExample.Tensors(), e.Mask.Tensor(), e.MaskedImage.Tensor())
}

// Tensors implements Example.
func (e *MaskedCaptionExample) Tensors() []*tensors.Tensor {
	return append(e.PlainExample.Tensors(), e.CaptionMask.Tensor())
}

// Tensors implements Example.
func (e *MaskedInpaintingExample) Tensors() []*tensors.Tensor {
	return append(e.InpaintingExample.Tensors(), e.CaptionMask.Tensor())
}

// Example builds the example for index (taken modulo Len), using a random number generator derived
// from the dataset's. Each call draws new random masks, flip and template.
//
// It is safe for concurrent use.
func (ds *Dataset) Example(ctx context.Context, index int) (Example, error) {
	ds.muRng.Lock()
	seed := ds.rng.Int63()
	ds.muRng.Unlock()
	return ds.ExampleWithRand(ctx, rand.New(rand.NewSource(seed)), index)
}

// ExampleWithRand builds the example for index (taken modulo Len) taking all randomness from rng.
// The same rng state yields the same example.
func (ds *Dataset) ExampleWithRand(ctx context.Context, rng *rand.Rand, index int) (Example, error) {
	index = ds.wrap(index)
	rec := ds.records[index]
	src, err := imaging.Open(rec.ImagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read instance image %q", rec.ImagePath)
	}

	flip := ds.pipeline.DecideFlip(rng)
	base := PlainExample{
		Index:   index,
		Image:   ds.pipeline.Apply(rng, src, flip),
		Flipped: flip,
	}

	var inpainting *InpaintingExample
	if ds.config.TrainInpainting {
		inpainting = &InpaintingExample{}
		if ds.config.ClipSegMask {
			inpainting.Mask, inpainting.MaskedImage, err = ds.config.ClipSeg.Generate(ctx, base.Image, ds.config.ClipSegPrompt)
		} else {
			inpainting.Mask, inpainting.MaskedImage, err = ds.config.Cutout.Generate(rng, base.Image)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "inpainting mask for %q", rec.ImagePath)
		}
	}

	base.Prompt, err = ds.resolver.Resolve(rng, index)
	if err != nil {
		return nil, errors.WithMessagef(err, "prompt for %q", rec.ImagePath)
	}

	var captionMask *planar.Image
	if ds.useMask {
		maskSrc, err := imaging.Open(rec.MaskPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read mask %q", rec.MaskPath)
		}
		captionMask = ds.pipeline.ApplyMask(rng, maskSrc, flip)
	}

	base.PromptIDs = ds.config.Tokenizer.Encode(base.Prompt)

	switch {
	case inpainting != nil && captionMask != nil:
		inpainting.PlainExample = base
		return &MaskedInpaintingExample{InpaintingExample: *inpainting, CaptionMask: captionMask}, nil
	case inpainting != nil:
		inpainting.PlainExample = base
		return inpainting, nil
	case captionMask != nil:
		return &MaskedCaptionExample{PlainExample: base, CaptionMask: captionMask}, nil
	default:
		return &base, nil
	}
}
