// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pivotal indexes a directory of instance images for pivotal tuning of a text-to-image
// model, and builds the training examples: augmented image, tokenized prompt and, depending on
// the configuration, inpainting masks and caption/face masks.
//
// Two directory layouts are supported:
//
//   - Free: any "*.jpg", "*.png" or "*.jpeg" in the directory (except "*mask.png" files), with the
//     file name (up to the first ".") used as caption.
//   - Mask captioned: "{idx}.src.jpg" images paired with "{idx}.mask.png" masks, and a "caption.txt"
//     file whose line i is the caption of the image at sorted position i.
//
// Example usage:
//
//	config := pivotal.DefaultConfig()
//	config.Root = "~/work/instance_images"
//	config.Tokenizer = tok
//	config.TokenMap, _ = prompts.NewTokenMap("<krk>")
//	config.Template = prompts.ObjectTemplates
//	ds, err := pivotal.New(ctx, config)
//	...
//	example, err := ds.Example(ctx, 0)
package pivotal

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loratune/pivotal/pkg/ml/augment"
	"github.com/loratune/pivotal/pkg/ml/masks"
	"github.com/loratune/pivotal/pkg/ml/prompts"
	"github.com/loratune/pivotal/pkg/ml/tokenize"
	"github.com/loratune/pivotal/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrConflictingModes is returned when both mask-captioned data and a template are configured.
	ErrConflictingModes = errors.New("can't use both mask captioned data and template prompts")

	// ErrMissingRoot is returned when the instance images directory doesn't exist.
	ErrMissingRoot = errors.New("instance images root doesn't exist")

	// ErrNoImages is returned when no instance image is found.
	ErrNoImages = errors.New("no images found in the instance data root")

	// ErrMissingMasks is returned when face masks are required, some are missing and there is no
	// face segmenter configured to generate them.
	ErrMissingMasks = errors.New("face masks missing")
)

const (
	// CaptionFile holds one caption per line in the mask-captioned layout.
	CaptionFile = "caption.txt"

	// SourceSuffix of the instance images in the mask-captioned layout.
	SourceSuffix = "src.jpg"
)

// ImagePatterns matched by the free layout.
var ImagePatterns = []string{"*.jpg", "*.png", "*.jpeg"}

// Config for the dataset. Start from DefaultConfig.
type Config struct {
	// Root directory with the instance images. A "~" prefix is expanded to the home directory.
	Root string

	// Tokenizer converts the prompts to ids. Required.
	Tokenizer tokenize.Tokenizer

	// TokenMap with the placeholder tokens. In template mode it provides the subject token, in
	// caption mode its placeholders are replaced in the captions. Optional for caption mode.
	TokenMap *prompts.TokenMap

	// Template is the name of the template set ("object", "style" or "null"). If empty, captions
	// are used as prompts.
	Template string

	// Augment configures the image transformations.
	Augment augment.Config

	// UseMaskCaptionedData selects the mask-captioned layout. Incompatible with Template.
	UseMaskCaptionedData bool

	// UseFaceSegmentation loads a face mask, "{idx}.mask.png", for each image.
	UseFaceSegmentation bool

	// FaceSegmenter generates the missing face masks during New. If nil, missing face masks are
	// an error (ErrMissingMasks): use masks.EnsureFaceMasks beforehand.
	FaceSegmenter masks.FaceSegmenter

	// EnsureMasks configures the face masks generation.
	EnsureMasks masks.EnsureOptions

	// TrainInpainting adds an inpainting mask and the masked image to each example.
	TrainInpainting bool

	// Cutout configures the random inpainting masks.
	Cutout masks.CutoutConfig

	// ClipSegMask uses ClipSeg, grounded on ClipSegPrompt, for the inpainting masks, instead of
	// random cutouts.
	ClipSegMask   bool
	ClipSegPrompt string
	ClipSeg       *masks.ClipSeg

	// Seed for the dataset random number generator.
	Seed int64
}

// DefaultConfig returns a configuration for 512x512 images with random flips. Root and
// Tokenizer must still be set.
func DefaultConfig() Config {
	return Config{
		Augment: augment.DefaultConfig(),
		Cutout:  masks.DefaultCutoutConfig(),
		Seed:    time.Now().UnixNano(),
	}
}

// Record is one instance of the dataset.
type Record struct {
	ImagePath string

	// MaskPath is empty if the dataset doesn't use caption or face masks.
	MaskPath string

	// Caption as stored (the file name stem, or the "caption.txt" line), before any token replacement.
	Caption string
}

// Dataset of instance images. It is immutable after New and safe for concurrent use.
type Dataset struct {
	config   Config
	records  []Record
	useMask  bool
	pipeline *augment.Pipeline
	resolver prompts.Resolver

	muRng sync.Mutex
	rng   *rand.Rand
}

// New validates the configuration, indexes the images in config.Root and, if face segmentation
// is enabled, makes sure the face masks exist.
//
// Conflicting configurations are reported before touching the filesystem.
func New(ctx context.Context, config Config) (*Dataset, error) {
	if config.UseMaskCaptionedData && config.Template != "" {
		return nil, errors.Wrapf(ErrConflictingModes, "template %q", config.Template)
	}
	ds := &Dataset{
		config:  config,
		useMask: config.UseMaskCaptionedData || config.UseFaceSegmentation,
		rng:     rand.New(rand.NewSource(config.Seed)),
	}
	var templates prompts.TemplateSet
	var err error
	if config.Template != "" {
		templates, err = prompts.Templates(config.Template)
		if err != nil {
			return nil, err
		}
	}
	if config.Tokenizer == nil {
		return nil, errors.New("pivotal.Config.Tokenizer is required")
	}
	ds.pipeline, err = augment.New(config.Augment)
	if err != nil {
		return nil, err
	}
	if config.TrainInpainting {
		if config.ClipSegMask {
			if config.ClipSeg == nil {
				return nil, errors.New("pivotal.Config.ClipSeg is required for ClipSeg inpainting masks")
			}
		} else if err = config.Cutout.Validate(); err != nil {
			return nil, err
		}
	}

	root, err := fsutil.ReplaceTildeInDir(config.Root)
	if err != nil {
		return nil, err
	}
	ds.config.Root = root
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingRoot, "%q", root)
		}
		return nil, errors.Wrapf(err, "failed to access instance images root %q", root)
	}
	if !info.IsDir() {
		return nil, errors.Wrapf(ErrMissingRoot, "%q is not a directory", root)
	}

	if config.UseMaskCaptionedData {
		ds.records, err = discoverMaskCaptioned(root)
	} else {
		ds.records, err = discoverFree(root)
	}
	if err != nil {
		return nil, err
	}
	if len(ds.records) == 0 {
		return nil, errors.Wrapf(ErrNoImages, "%q", root)
	}

	if config.UseFaceSegmentation {
		if config.UseMaskCaptionedData {
			klog.Warningf("face segmentation ignored: mask captioned data in %q comes with its own masks", root)
		} else if err = ds.ensureFaceMasks(ctx); err != nil {
			return nil, err
		}
	}

	if config.Template != "" {
		ds.resolver = prompts.NewTemplateResolver(templates, config.TokenMap)
	} else {
		captions := make([]string, len(ds.records))
		for ii, rec := range ds.records {
			captions[ii] = rec.Caption
		}
		ds.resolver = prompts.NewCaptionResolver(captions, config.TokenMap)
	}
	klog.V(1).Infof("pivotal dataset in %q: %d instances", root, len(ds.records))
	return ds, nil
}

// ensureFaceMasks generates the missing face masks, if a segmenter is configured, and points every
// record to its "{idx}.mask.png".
func (ds *Dataset) ensureFaceMasks(ctx context.Context) error {
	root := ds.config.Root
	if ds.config.FaceSegmenter != nil {
		imagePaths := make([]string, len(ds.records))
		for ii, rec := range ds.records {
			imagePaths[ii] = rec.ImagePath
		}
		written, err := masks.EnsureFaceMasks(ctx, root, imagePaths, ds.config.FaceSegmenter, ds.config.EnsureMasks)
		if err != nil {
			return err
		}
		if written > 0 {
			klog.Infof("generated %d face masks in %q", written, root)
		}
	} else {
		missing, err := masks.MissingMasks(root, len(ds.records))
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return errors.Wrapf(ErrMissingMasks, "%d of %d masks missing in %q (e.g. %q) and no face segmenter configured",
				len(missing), len(ds.records), root, masks.MaskPath(root, missing[0]))
		}
	}
	for idx := range ds.records {
		ds.records[idx].MaskPath = masks.MaskPath(root, idx)
	}
	return nil
}

// discoverMaskCaptioned lists the "{idx}.src.jpg" images that have a "{idx}.mask.png", sorted by
// path, and assigns them the lines of "caption.txt" in order.
func discoverMaskCaptioned(root string) ([]Record, error) {
	sources, err := fsutil.Glob(root, "*"+SourceSuffix)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, imgPath := range sources {
		stem, _, _ := strings.Cut(filepath.Base(imgPath), ".")
		idx, err := strconv.Atoi(stem)
		if err != nil {
			return nil, errors.Errorf("mask captioned image %q must be named \"{idx}.%s\" with a numeric idx", imgPath, SourceSuffix)
		}
		maskPath := masks.MaskPath(root, idx)
		exists, err := fsutil.FileExists(maskPath)
		if err != nil {
			return nil, err
		}
		if !exists {
			klog.Warningf("mask not found for %q, skipping it", imgPath)
			continue
		}
		records = append(records, Record{ImagePath: imgPath, MaskPath: maskPath})
	}
	if len(records) == 0 {
		return nil, nil
	}
	captions, err := fsutil.ReadLines(filepath.Join(root, CaptionFile))
	if err != nil {
		return nil, err
	}
	if len(captions) < len(records) {
		return nil, errors.Errorf("%q has %d captions for %d images", filepath.Join(root, CaptionFile),
			len(captions), len(records))
	}
	for ii := range records {
		records[ii].Caption = captions[ii]
	}
	return records, nil
}

// discoverFree lists the images in root, sorted by path, excluding masks and hidden files. The
// caption of each image is its file name up to the first ".".
func discoverFree(root string) ([]Record, error) {
	candidates, err := fsutil.Glob(root, ImagePatterns...)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, imgPath := range candidates {
		base := filepath.Base(imgPath)
		if strings.HasSuffix(base, "mask.png") || base == CaptionFile || strings.HasPrefix(base, ".") {
			continue
		}
		info, err := os.Stat(imgPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to access %q", imgPath)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		caption, _, _ := strings.Cut(base, ".")
		records = append(records, Record{ImagePath: imgPath, Caption: caption})
	}
	return records, nil
}

// Len returns the number of instances.
func (ds *Dataset) Len() int { return len(ds.records) }

// Root returns the instance images directory, with "~" expanded.
func (ds *Dataset) Root() string { return ds.config.Root }

// Kind of the examples generated: it depends on whether inpainting masks are generated and
// whether caption (or face) masks are loaded.
func (ds *Dataset) Kind() Kind {
	switch {
	case ds.config.TrainInpainting && ds.useMask:
		return KindMaskedInpainting
	case ds.config.TrainInpainting:
		return KindInpainting
	case ds.useMask:
		return KindMaskedCaption
	default:
		return KindPlain
	}
}

// Record returns the instance at index, taken modulo Len.
func (ds *Dataset) Record(index int) Record {
	return ds.records[ds.wrap(index)]
}

// Records returns a copy of all instances, in order.
func (ds *Dataset) Records() []Record {
	return append([]Record(nil), ds.records...)
}

func (ds *Dataset) wrap(index int) int {
	n := len(ds.records)
	index %= n
	if index < 0 {
		index += n
	}
	return index
}
