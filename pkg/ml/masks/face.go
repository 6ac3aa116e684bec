// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package masks

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/loratune/pivotal/pkg/support/fsutil"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// FaceSegmenter is a face-region segmentation model (e.g. face landmarks rendered as a mask).
//
// SegmentFaces returns one grayscale mask per image, in the same order and with the same
// size as the images.
type FaceSegmenter interface {
	SegmentFaces(ctx context.Context, images []image.Image) ([]image.Image, error)
}

// LockFileName is the name of the lock file created in the instance directory while face masks
// are being generated.
const LockFileName = ".mask.lock"

// MaskPath returns the path of the mask for the instance at position idx: `{root}/{idx}.mask.png`.
func MaskPath(root string, idx int) string {
	return filepath.Join(root, fmt.Sprintf("%d.mask.png", idx))
}

// MissingMasks returns the positions in [0, numImages) whose mask file doesn't exist in root.
func MissingMasks(root string, numImages int) ([]int, error) {
	var missing []int
	for idx := range numImages {
		exists, err := fsutil.FileExists(MaskPath(root, idx))
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, idx)
		}
	}
	return missing, nil
}

// EnsureOptions configures EnsureFaceMasks.
type EnsureOptions struct {
	// ShowProgressBar while writing the masks.
	ShowProgressBar bool

	// LockRetryDelay is how long to wait between attempts to acquire the directory lock.
	// Defaults to 500ms.
	LockRetryDelay time.Duration
}

// EnsureFaceMasks makes sure there is a face mask for each of the imagePaths (sorted instance
// images) stored in root as `{idx}.mask.png`, where idx is the position in imagePaths.
//
// If any mask is missing, masks for *all* images are computed in one batched call to segmenter
// and written, overwriting existing ones. If none is missing it does nothing, so it is safe to
// call on every start-up.
//
// Concurrent callers (goroutines or processes) are serialized with a file lock in root: only
// the first one generates the masks, the others wait and find them already there.
//
// It returns the number of masks written.
func EnsureFaceMasks(ctx context.Context, root string, imagePaths []string, segmenter FaceSegmenter,
	opts EnsureOptions) (int, error) {
	missing, err := MissingMasks(root, len(imagePaths))
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if segmenter == nil {
		return 0, errors.Errorf("%d face masks missing in %q (e.g. %q) and no face segmenter configured",
			len(missing), root, MaskPath(root, missing[0]))
	}

	retryDelay := opts.LockRetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	lock := flock.New(filepath.Join(root, LockFileName))
	locked, err := lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to lock %q for face mask generation", root)
	}
	if !locked {
		return 0, errors.Errorf("failed to lock %q for face mask generation", root)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			klog.Warningf("failed to unlock %q: %v", lock.Path(), unlockErr)
		}
	}()

	// Another worker may have generated them while we waited for the lock.
	missing, err = MissingMasks(root, len(imagePaths))
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		klog.V(1).Infof("face masks in %q generated by another worker", root)
		return 0, nil
	}
	klog.Warningf("%d face masks missing in %q (e.g. %q): pre-processing all %d images",
		len(missing), root, MaskPath(root, missing[0]), len(imagePaths))
	if numExisting := len(imagePaths) - len(missing); numExisting > 0 {
		klog.Warningf("%d face masks already exist in %q, but will be overwritten", numExisting, root)
	}

	images := make([]image.Image, len(imagePaths))
	for ii, imgPath := range imagePaths {
		img, err := imaging.Open(imgPath)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to read image %q", imgPath)
		}
		images[ii] = imaging.Clone(img) // RGB(A) copy, whatever the source color model.
	}
	faceMasks, err := segmenter.SegmentFaces(ctx, images)
	if err != nil {
		return 0, newModelError(err, "face segmentation failed")
	}
	if len(faceMasks) != len(images) {
		return 0, errors.Errorf("face segmenter returned %d masks for %d images", len(faceMasks), len(images))
	}

	var bar *progressbar.ProgressBar
	if opts.ShowProgressBar {
		bar = progressbar.NewOptions(len(faceMasks),
			progressbar.OptionSetDescription("Writing face masks"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	for idx, mask := range faceMasks {
		if err = writeMask(root, idx, mask); err != nil {
			return idx, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Close()
	}
	return len(faceMasks), nil
}

// writeMask writes the mask as a grayscale PNG, atomically: readers never see a partial file.
func writeMask(root string, idx int, mask image.Image) error {
	target := MaskPath(root, idx)
	tmpPath := filepath.Join(root, fmt.Sprintf(".%d.mask.png.%s.tmp", idx, uuid.NewString()))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrapf(err, "failed to create face mask %q", target)
	}
	err = imaging.Encode(f, toGray(mask), imaging.PNG)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, target)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to write face mask %q", target)
	}
	return nil
}

func toGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
