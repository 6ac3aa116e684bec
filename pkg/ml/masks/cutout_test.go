package masks

import (
	"math/rand"
	"testing"

	"github.com/loratune/pivotal/pkg/core/planar"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomImage(rng *rand.Rand, channels, height, width int) *planar.Image {
	img := planar.New(channels, height, width)
	for ii := range img.Data {
		img.Data[ii] = rng.Float32()*2 - 1
	}
	return img
}

func filled(channels, height, width int, v float32) *planar.Image {
	img := planar.New(channels, height, width)
	img.Fill(v)
	return img
}

func TestCutoutShapeAndValues(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, size := range [][2]int{{64, 64}, {200, 130}, {16, 300}} {
		img := randomImage(rng, 3, size[0], size[1])
		for range 20 {
			mask, masked, err := Cutout(rng, img)
			require.NoError(t, err)
			require.Equal(t, []int{1, size[0], size[1]}, mask.Dimensions())
			require.Equal(t, img.Dimensions(), masked.Dimensions())
			for _, v := range mask.Data {
				require.True(t, v == 0 || v == 1, "mask value %g not in {0, 1}", v)
			}
		}
	}
}

func TestCutoutMaskedImageConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := randomImage(rng, 3, 96, 80)
	for range 5 {
		mask, masked, err := Cutout(rng, img)
		require.NoError(t, err)
		for c := range 3 {
			for y := range img.Height {
				for x := range img.Width {
					if mask.At(0, y, x) >= 0.5 {
						require.Equal(t, float32(0), masked.At(c, y, x))
					} else {
						require.Equal(t, img.At(c, y, x), masked.At(c, y, x))
					}
				}
			}
		}
	}
}

func TestCutoutFullMaskFrequency(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	img := filled(1, 160, 160, 1)
	const numTrials = 1000
	numFull := 0
	for range numTrials {
		mask, _, err := Cutout(rng, img)
		require.NoError(t, err)
		full := true
		for _, v := range mask.Data {
			if v != 1 {
				full = false
				break
			}
		}
		if full {
			numFull++
		}
	}
	freq := float64(numFull) / numTrials
	assert.InDelta(t, 0.25, freq, 0.05, "full mask frequency")
}

func TestCutoutHoles(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	config := DefaultCutoutConfig()
	for range 100 {
		holes, err := config.Holes(rng, 300, 200)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(holes), 8)
		require.LessOrEqual(t, len(holes), 32)
		for _, hole := range holes {
			assert.True(t, hole.Dx() >= 16 && hole.Dx() <= 128, "hole width %d", hole.Dx())
			assert.True(t, hole.Dy() >= 16 && hole.Dy() <= 128, "hole height %d", hole.Dy())
			assert.True(t, hole.Min.X >= 0 && hole.Max.X <= 200, "hole %s out of bounds", hole)
			assert.True(t, hole.Min.Y >= 0 && hole.Max.Y <= 300, "hole %s out of bounds", hole)
		}
	}

	// Hole sizes are clamped to small images.
	for range 100 {
		holes, err := config.Holes(rng, 20, 17)
		require.NoError(t, err)
		for _, hole := range holes {
			assert.True(t, hole.Min.X >= 0 && hole.Max.X <= 17, "hole %s out of bounds", hole)
			assert.True(t, hole.Min.Y >= 0 && hole.Max.Y <= 20, "hole %s out of bounds", hole)
		}
	}
}

func TestCutoutInvalidImageSize(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	_, _, err := Cutout(rng, planar.New(3, 15, 100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidImageSize))
	_, _, err = Cutout(rng, planar.New(3, 100, 8))
	assert.ErrorIs(t, err, ErrInvalidImageSize)
}

func TestCutoutConfigValidate(t *testing.T) {
	require.NoError(t, DefaultCutoutConfig().Validate())
	config := DefaultCutoutConfig()
	config.MaxHoles = 2
	require.Error(t, config.Validate())
	config = DefaultCutoutConfig()
	config.MinHoleSize = 0
	require.Error(t, config.Validate())
	config = DefaultCutoutConfig()
	config.FullMaskProbability = 1.5
	require.Error(t, config.Validate())

	// Never / always full.
	rng := rand.New(rand.NewSource(0))
	img := filled(1, 64, 64, 1)
	config = DefaultCutoutConfig()
	config.FullMaskProbability = 1
	mask, masked, err := config.Generate(rng, img)
	require.NoError(t, err)
	for ii := range mask.Data {
		require.Equal(t, float32(1), mask.Data[ii])
		require.Equal(t, float32(0), masked.Data[ii])
	}
}
