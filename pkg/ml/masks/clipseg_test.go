package masks

import (
	"context"
	"image"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halfSegmenter "finds" the prompt in the left half of the image.
type halfSegmenter struct {
	calls      int
	gotPrompts []string
	gotSize    image.Point
	height     int
	width      int
	err        error
}

func (s *halfSegmenter) Segment(_ context.Context, img image.Image, prompts []string) (*tensors.Tensor, error) {
	s.calls++
	s.gotPrompts = prompts
	s.gotSize = img.Bounds().Size()
	if s.err != nil {
		return nil, s.err
	}
	plane := s.height * s.width
	logits := make([]float32, len(prompts)*plane)
	for y := range s.height {
		for x := range s.width {
			if x < s.width/2 {
				logits[y*s.width+x] = 10
			} else {
				logits[y*s.width+x] = -10
			}
		}
	}
	return tensors.FromFlatDataAndDimensions(logits, len(prompts), s.height, s.width), nil
}

func TestClipSegGenerate(t *testing.T) {
	seg := &halfSegmenter{height: 4, width: 4}
	cs := NewClipSegFromSegmenter(DefaultClipSegConfig(), seg)
	img := filled(3, 8, 8, 0.5)

	mask, masked, err := cs.Generate(context.Background(), img, "a dog")
	require.NoError(t, err)
	assert.Equal(t, 1, seg.calls)
	assert.Equal(t, []string{"a dog", ""}, seg.gotPrompts)
	assert.Equal(t, image.Pt(8, 8), seg.gotSize)

	require.Equal(t, []int{1, 8, 8}, mask.Dimensions())
	require.Equal(t, []int{3, 8, 8}, masked.Dimensions())
	for y := range 8 {
		// Away from the boundary the interpolation doesn't matter.
		for _, x := range []int{0, 1} {
			assert.Equal(t, float32(1), mask.At(0, y, x), "y=%d x=%d", y, x)
		}
		for _, x := range []int{6, 7} {
			assert.Equal(t, float32(0), mask.At(0, y, x), "y=%d x=%d", y, x)
		}
		for x := range 8 {
			v := mask.At(0, y, x)
			require.True(t, v == 0 || v == 1)
			for c := range 3 {
				if v == 1 {
					assert.Equal(t, float32(0), masked.At(c, y, x))
				} else {
					assert.Equal(t, float32(0.5), masked.At(c, y, x))
				}
			}
		}
	}
}

func TestClipSegProbabilities(t *testing.T) {
	cs := NewClipSegFromSegmenter(DefaultClipSegConfig(), nil)
	// Equal logits -> p=0.5+bias everywhere -> normalized to 255.
	logits := tensors.FromFlatDataAndDimensions(make([]float32, 2*2*3), 2, 2, 3)
	gray, err := cs.Probabilities(logits)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), gray.Bounds())
	for _, v := range gray.Pix {
		assert.Equal(t, uint8(255), v)
	}

	// Prompt much less likely in the second pixel: its value is the bias, rescaled.
	logits = tensors.FromFlatDataAndDimensions([]float32{
		0, -50, // prompt
		0, 0, // empty prompt
	}, 2, 1, 2)
	gray, err = cs.Probabilities(logits)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), gray.Pix[0])
	assert.Equal(t, uint8(5), gray.Pix[1]) // 255 * 0.01 / 0.51

	_, err = cs.Probabilities(tensors.FromFlatDataAndDimensions(make([]float32, 12), 3, 2, 2))
	require.Error(t, err)
}

func TestCheckLogitsDims(t *testing.T) {
	require.NoError(t, checkLogitsDims([]int{2, 4, 3}))
	for _, dims := range [][]int{{2, 0, 4}, {2, 4, 0}, {2, -1, 4}, {3, 4, 4}, {2, 4}, {1, 2, 4, 4}} {
		assert.Error(t, checkLogitsDims(dims), "dims=%v", dims)
	}
}

func TestClipSegModelUnavailable(t *testing.T) {
	var loads int
	cs := NewClipSeg(DefaultClipSegConfig(), func(ctx context.Context, modelID string) (Segmenter, error) {
		loads++
		assert.Equal(t, "CIDAS/clipseg-rd64-refined", modelID)
		return nil, errors.New("connection refused")
	})
	img := filled(3, 8, 8, 0)
	for range 2 {
		_, _, err := cs.Generate(context.Background(), img, "a cat")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrModelUnavailable)
	}
	assert.Equal(t, 1, loads)

	// The cause of the failure is kept.
	cs = NewClipSeg(DefaultClipSegConfig(), func(ctx context.Context, modelID string) (Segmenter, error) {
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := cs.Generate(ctx, img, "a cat")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "CIDAS/clipseg-rd64-refined")
}

func TestClipSegSegmenterError(t *testing.T) {
	seg := &halfSegmenter{height: 4, width: 4, err: errors.New("out of memory")}
	cs := NewClipSegFromSegmenter(DefaultClipSegConfig(), seg)
	_, _, err := cs.Generate(context.Background(), filled(3, 8, 8, 0), "a cat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")

	// Only RGB images.
	_, _, err = cs.Generate(context.Background(), filled(1, 8, 8, 0), "a cat")
	require.Error(t, err)
}
