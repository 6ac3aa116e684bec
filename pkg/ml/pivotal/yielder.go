// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pivotal

import (
	"context"
	"io"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
)

// Yielder adapts a Dataset to a train.Dataset, yielding one example at a time.
//
// The yielded `spec` is the Kind of the examples, inputs are Example.Tensors and there are no
// labels. It is safe for concurrent use, so it can be wrapped with datasets.Parallel.
type Yielder struct {
	ds       *Dataset
	name     string
	ctx      context.Context
	infinite bool

	mu   sync.Mutex
	next int
}

var _ train.Dataset = (*Yielder)(nil)

// Yielder returns a train.Dataset over the examples of ds. By default, it yields one epoch
// (Len examples, in order) and then io.EOF.
func (ds *Dataset) Yielder(name string) *Yielder {
	return &Yielder{ds: ds, name: name, ctx: context.Background()}
}

// Infinite configures the Yielder to loop over the dataset indefinitely.
// It returns the Yielder, so configuration calls can be cascaded.
func (y *Yielder) Infinite(infinite bool) *Yielder {
	y.infinite = infinite
	return y
}

// WithContext sets the context passed to the segmentation models.
// It returns the Yielder, so configuration calls can be cascaded.
func (y *Yielder) WithContext(ctx context.Context) *Yielder {
	y.ctx = ctx
	return y
}

// Name implements train.Dataset.
func (y *Yielder) Name() string { return y.name }

// Reset implements train.Dataset.
func (y *Yielder) Reset() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.next = 0
}

// Yield implements train.Dataset.
func (y *Yielder) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if err = y.ctx.Err(); err != nil {
		return
	}
	y.mu.Lock()
	index := y.next
	if !y.infinite && index >= y.ds.Len() {
		y.mu.Unlock()
		err = io.EOF
		return
	}
	y.next++
	y.mu.Unlock()

	example, err := y.ds.Example(y.ctx, index)
	if err != nil {
		return
	}
	return example.Kind(), example.Tensors(), nil, nil
}
