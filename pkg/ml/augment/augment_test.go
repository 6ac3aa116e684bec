package augment

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// halves returns an image whose left half is white and right half is black.
func halves(width, height int) *image.NRGBA {
	img := imaging.New(width, height, color.Black)
	for y := range height {
		for x := range width / 2 {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestResizeShorterEdge(t *testing.T) {
	for _, tc := range []struct {
		width, height, size   int
		wantWidth, wantHeight int
	}{
		{100, 50, 20, 40, 20},
		{50, 100, 20, 20, 40},
		{30, 20, 20, 30, 20},
		{33, 10, 20, 66, 20},
		{10, 10, 25, 25, 25},
	} {
		out := ResizeShorterEdge(imaging.New(tc.width, tc.height, color.White), tc.size)
		assert.Equal(t, image.Pt(tc.wantWidth, tc.wantHeight), out.Bounds().Size(), "%+v", tc)
	}
}

func TestCenterCrop(t *testing.T) {
	// Column x has red value x.
	img := imaging.New(40, 20, color.Black)
	for y := range 20 {
		for x := range 40 {
			img.Set(x, y, color.NRGBA{R: uint8(x), A: 255})
		}
	}
	out := CenterCrop(img, 20)
	require.Equal(t, image.Pt(20, 20), out.Bounds().Size())
	assert.Equal(t, uint8(10), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(29), out.NRGBAAt(19, 19).R)

	// Smaller images are padded with black.
	small := imaging.New(10, 10, color.White)
	out = CenterCrop(small, 20)
	require.Equal(t, image.Pt(20, 20), out.Bounds().Size())
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, out.NRGBAAt(10, 10))
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(19, 19))
}

func TestApply(t *testing.T) {
	p, err := New(Config{Size: 32, Resize: true})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(0))
	img := imaging.New(64, 48, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	out := p.Apply(rng, img, false)
	require.Equal(t, []int{3, 32, 32}, out.Dimensions())
	for y := range 32 {
		for x := range 32 {
			require.InDelta(t, 1.0, out.At(0, y, x), 1e-5)
			require.InDelta(t, -1.0, out.At(1, y, x), 1e-5)
			require.InDelta(t, -0.6, out.At(2, y, x), 1e-5)
		}
	}
}

func TestFlipAlignment(t *testing.T) {
	p, err := New(Config{Size: 16, Resize: true, HFlip: true})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(0))
	img := halves(32, 16)
	for _, flip := range []bool{false, true} {
		out := p.Apply(rng, img, flip)
		mask := p.ApplyMask(rng, img, flip)
		require.Equal(t, []int{1, 16, 16}, mask.Dimensions())
		left, right := float32(1), float32(-1)
		if flip {
			left, right = right, left
		}
		for y := range 16 {
			assert.InDelta(t, left, out.At(0, y, 0), 1e-5)
			assert.InDelta(t, right, out.At(0, y, 15), 1e-5)
			// Masks are remapped from [-1, 1] to [0.5, 1.5].
			assert.InDelta(t, left*0.5+1, mask.At(0, y, 0), 1e-5)
			assert.InDelta(t, right*0.5+1, mask.At(0, y, 15), 1e-5)
		}
	}
}

func TestDecideFlip(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	p, err := New(Config{Size: 8, HFlip: false})
	require.NoError(t, err)
	for range 100 {
		require.False(t, p.DecideFlip(rng))
	}
	p, err = New(DefaultConfig())
	require.NoError(t, err)
	numFlips := 0
	for range 1000 {
		if p.DecideFlip(rng) {
			numFlips++
		}
	}
	assert.InDelta(t, 500, numFlips, 60)
}

func TestColorJitter(t *testing.T) {
	gray := imaging.New(4, 4, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	assert.Equal(t, uint8(110), AdjustBrightness(gray, 1.1).NRGBAAt(0, 0).R)
	// Contrast of a uniform image doesn't change.
	assert.Equal(t, uint8(100), AdjustContrast(gray, 0.5).NRGBAAt(1, 1).R)

	img := halves(4, 4)
	lowContrast := AdjustContrast(img, 0.5)
	assert.Less(t, lowContrast.NRGBAAt(0, 0).R, uint8(255))
	assert.Greater(t, lowContrast.NRGBAAt(3, 0).R, uint8(0))

	config := DefaultConfig()
	config.Size = 4
	config.ColorJitter = true
	p, err := New(config)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))
	for range 20 {
		out := p.Transform(rng, gray, false)
		v := out.NRGBAAt(0, 0).R
		assert.True(t, v >= 90 && v <= 110, "jittered value %d out of range", v)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Size: 0})
	require.Error(t, err)
	_, err = New(Config{Size: 8, ColorJitter: true, Jitter: 1.5})
	require.Error(t, err)
}
