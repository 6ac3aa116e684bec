package hfweights

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	lazy := NewLazy(func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "model", nil
	})
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := lazy.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "model", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestLazyRemembersError(t *testing.T) {
	var calls int
	errLoad := errors.New("no network")
	lazy := NewLazy(func(ctx context.Context) (int, error) {
		calls++
		return 0, errLoad
	})
	for range 3 {
		_, err := lazy.Get(context.Background())
		require.ErrorIs(t, err, errLoad)
	}
	assert.Equal(t, 1, calls)
}

func TestLoaded(t *testing.T) {
	lazy := Loaded(42)
	v, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	var empty Lazy[int]
	_, err = empty.Get(context.Background())
	require.Error(t, err)
}
