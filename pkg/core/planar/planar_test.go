package planar

import (
	"image"
	"image/color"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexAndFillRect(t *testing.T) {
	img := New(2, 3, 4)
	require.Len(t, img.Data, 24)
	assert.Equal(t, 0, img.Index(0, 0, 0))
	assert.Equal(t, 5, img.Index(0, 1, 1))
	assert.Equal(t, 12+11, img.Index(1, 2, 3))

	// Rectangle is clipped to the image.
	img.FillRect(1, 2, 10, 10, 1)
	for c := range 2 {
		for y := range 3 {
			for x := range 4 {
				want := float32(0)
				if y >= 1 && x >= 2 {
					want = 1
				}
				assert.Equal(t, want, img.At(c, y, x), "c=%d y=%d x=%d", c, y, x)
			}
		}
	}
}

func TestMaskOut(t *testing.T) {
	img := New(3, 2, 2)
	img.Fill(0.5)
	mask := New(1, 2, 2)
	copy(mask.Data, []float32{1, 0, 0.5, 0.49})
	masked, err := img.MaskOut(mask, 0.5)
	require.NoError(t, err)
	for c := range 3 {
		assert.Equal(t, []float32{0, 0.5, 0, 0.5}, masked.Data[c*4:(c+1)*4])
	}

	_, err = img.MaskOut(img, 0.5)
	require.Error(t, err)
	_, err = img.MaskOut(New(1, 3, 3), 0.5)
	require.Error(t, err)
}

func TestImageRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{
		1, 2, 3, 255,
		10, 20, 30, 255,
		255, 0, 128, 255,
		0, 0, 0, 255,
		50, 60, 70, 255,
		100, 110, 120, 255})
	p := FromImage().Single(img)
	require.Equal(t, []int{3, 2, 3}, p.Dimensions())
	assert.InDelta(t, 10.0/255.0, p.At(0, 0, 1), 1e-6)
	assert.InDelta(t, 20.0/255.0, p.At(1, 0, 1), 1e-6)
	assert.InDelta(t, 128.0/255.0, p.At(2, 0, 2), 1e-6)

	back, err := ToImage().Single(p)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), back.Bounds())
	for y := range 2 {
		for x := range 3 {
			assert.Equal(t, img.At(x, y), back.At(x, y))
		}
	}

	// Normalized [-1, 1] range.
	normalized := p.Affine(2, -1)
	back, err = ToImage().Range(-1, 1).Single(normalized)
	require.NoError(t, err)
	assert.Equal(t, img.At(2, 1), back.At(2, 1))
}

func TestFromImageGray(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, A: 255})
	p := FromImage().Gray().Single(img)
	require.Equal(t, []int{1, 1, 2}, p.Dimensions())
	assert.InDelta(t, 1.0, p.At(0, 0, 0), 1e-6)
	assert.InDelta(t, 76.0/255.0, p.At(0, 0, 1), 1e-6)

	gray, err := ToImage().Single(p)
	require.NoError(t, err)
	_, isGray := gray.(*image.Gray)
	assert.True(t, isGray)
}

func TestTensorConversion(t *testing.T) {
	img := New(1, 2, 3)
	img.Fill(0.25)
	img.Data[img.Index(0, 1, 2)] = 1
	tensor := img.Tensor()
	assert.Equal(t, []int{1, 2, 3}, tensor.Shape().Dimensions)
	flat, err := Float32s(tensor)
	require.NoError(t, err)
	assert.Equal(t, img.Data, flat)

	// Data is copied.
	img.Fill(0)
	flat, err = Float32s(tensor)
	require.NoError(t, err)
	assert.Equal(t, float32(1), flat[5])

	flat, err = Float32s(tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, flat)

	_, err = Float32s(tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2))
	require.Error(t, err)
}
