// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hfweights 🤗 handles the lazily-loaded external models used while preparing the
// dataset: it downloads model files from the HuggingFace Hub (only the first time, they are
// cached locally) and holds the loaded model handle so it is created at most once.
//
// Example:
//
//	segmenter := hfweights.NewLazy(func(ctx context.Context) (masks.Segmenter, error) {
//		paths, err := hfweights.Download(ctx, "CIDAS/clipseg-rd64-refined", hfToken, "model.onnx")
//		if err != nil {
//			return nil, err
//		}
//		return myonnx.NewSegmenter(paths[0])
//	})
package hfweights

import (
	"context"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/go-huggingface/hub"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Lazy holds a value of type T that is loaded on first use.
//
// The load function is called at most once, even under concurrent use: a failed load
// is also remembered, and every later Get returns the same error.
type Lazy[T any] struct {
	load  func(ctx context.Context) (T, error)
	once  sync.Once
	value T
	err   error
}

// NewLazy returns a Lazy that calls load on the first Get.
func NewLazy[T any](load func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{load: load}
}

// Loaded returns a Lazy that already holds value.
func Loaded[T any](value T) *Lazy[T] {
	l := &Lazy[T]{value: value}
	l.once.Do(func() {})
	return l
}

// Get returns the loaded value, loading it if this is the first call.
// The ctx is only used by the first (loading) call.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.once.Do(func() {
		if l.load == nil {
			l.err = errors.New("hfweights.Lazy has no load function")
			return
		}
		l.value, l.err = l.load(ctx)
	})
	return l.value, l.err
}

// Download model files from the HuggingFace Hub repository repoID, returning their local paths
// in the same order as files. Files already in the local cache are not downloaded again.
//
// authToken can be left empty for public models.
func Download(ctx context.Context, repoID, authToken string, files ...string) ([]string, error) {
	repo := hub.New(repoID).WithProgressBar(klog.V(1).Enabled())
	if authToken != "" {
		repo = repo.WithAuth(authToken)
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, errors.WithMessagef(err, "failed to get info for model %q", repoID)
	}
	paths := make([]string, 0, len(files))
	for _, fileName := range files {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "download of model %q interrupted", repoID)
		}
		filePath, err := repo.DownloadFile(fileName)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to download %q from model %q", fileName, repoID)
		}
		if info, statErr := os.Stat(filePath); statErr == nil {
			klog.V(1).Infof("model %q: %s -> %s (%s)", repoID, fileName, filePath, humanize.Bytes(uint64(info.Size())))
		}
		paths = append(paths, filePath)
	}
	return paths, nil
}
