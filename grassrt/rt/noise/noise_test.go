package noise

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestTileableSeamContinuity(t *testing.T) {
	const size = 64.0
	field := Tileable{Field: NewGradient(7, 0.05, 3), Size: size}

	assert.InDelta(t, field.Eval(0, 0), field.Eval(size, 0), 1e-4)
	assert.InDelta(t, field.Eval(0, 0), field.Eval(0, size), 1e-4)

	for _, p := range []float64{3.5, 17, 40.25, 63.9} {
		assert.InDelta(t, field.Eval(0, p), field.Eval(size, p), 1e-4, "u seam at v=%v", p)
		assert.InDelta(t, field.Eval(p, 0), field.Eval(p, size), 1e-4, "v seam at u=%v", p)
	}
}

func TestTileableOverPlainFunction(t *testing.T) {
	ramp := FieldFunc(func(x, y float64) float64 { return 0.1*x - 0.05*y })
	tl := Tileable{Field: ramp, Size: 8}

	for _, v := range []float64{0, 1.5, 4, 7.25} {
		assert.InDelta(t, tl.Eval(0, v), tl.Eval(8, v), 1e-12)
		assert.InDelta(t, tl.Eval(v, 0), tl.Eval(v, 8), 1e-12)
	}
	assert.InDelta(t, tl.Eval(3, 2), tl.Eval(11, 2), 1e-12)
	assert.InDelta(t, tl.Eval(3, 2), tl.Eval(3, -6), 1e-12)
}

func TestTileableWrapsOutsideRange(t *testing.T) {
	field := Tileable{Field: NewGradient(3, 0.1, 2), Size: 10}
	assert.InDelta(t, field.Eval(2.5, 4), field.Eval(12.5, 4), 1e-9)
	assert.InDelta(t, field.Eval(2.5, 4), field.Eval(-7.5, -6), 1e-9)
}

func TestGradientDeterministicAndBounded(t *testing.T) {
	a := NewGradient(99, 0.1, 4)
	b := NewGradient(99, 0.1, 4)
	c := NewGradient(100, 0.1, 4)

	differs := false
	for i := 0; i < 200; i++ {
		x, y := float64(i)*0.37, float64(i)*1.13
		va := a.Eval(x, y)
		require.Equal(t, va, b.Eval(x, y))
		require.True(t, va >= -1 && va <= 1, "value %v out of range", va)
		if va != c.Eval(x, y) {
			differs = true
		}
	}
	assert.True(t, differs, "different seeds should give different fields")
}

func TestCellularSampleRanges(t *testing.T) {
	cells := NewCellular(5, 0.25)
	for i := 0; i < 500; i++ {
		s := cells.Sample(float64(i)*0.71, float64(i)*0.29)
		require.True(t, s.Distance >= 0 && s.Distance <= 1)
		require.True(t, s.DX >= -1 && s.DX <= 1)
		require.True(t, s.DY >= -1 && s.DY <= 1)
		require.InDelta(t, s.Distance*maxCellDistance, math.Hypot(s.DX*maxCellDistance, s.DY*maxCellDistance), 1e-9)
	}
}

func TestCellularFeaturePointHasZeroDistance(t *testing.T) {
	cells := NewCellular(11, 1)
	jx, jy := cells.jitter(2, 3)
	s := cells.Sample(2+jx, 3+jy)
	assert.InDelta(t, 0, s.Distance, 1e-12)
}

func TestBakeWindIsNormalizedAndSeamless(t *testing.T) {
	baker := NewBaker(64, 32)
	img := baker.BakeWind(NewGradient(1, 0.08, 2))

	require.Equal(t, 64, img.Width)
	require.Equal(t, 1, img.Channels)
	for _, v := range img.Texels {
		require.True(t, v >= 0 && v <= 1, "wind texel %v not normalized", v)
	}

	// Texel 0 sits on the u=0 edge, the same value the field takes at u=T.
	wrapped := Tileable{Field: NewGradient(1, 0.08, 2), Size: 32}
	assert.InDelta(t, Normalize(wrapped.Eval(32, 0)), float64(img.At(0, 0, 0)), 1e-4)
}

func TestBakeClusterChannels(t *testing.T) {
	baker := NewBaker(32, 16)
	img := baker.BakeCluster(NewCellular(DefaultClusterSeed, 0.5), NewGradient(2, 0.2, 1))

	require.Equal(t, 4, img.Channels)
	for i := 0; i < len(img.Texels); i += 4 {
		require.True(t, img.Texels[i] >= -1 && img.Texels[i] <= 1)
		require.True(t, img.Texels[i+1] >= -1 && img.Texels[i+1] <= 1)
		require.True(t, img.Texels[i+2] >= 0 && img.Texels[i+2] <= 1)
		require.True(t, img.Texels[i+3] >= 0 && img.Texels[i+3] <= 1)
	}
}

func TestImageAddressing(t *testing.T) {
	img := NewImage(4, 2, 1)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, 0, float32(y*4+x))
		}
	}

	assert.Equal(t, float32(0), img.Nearest(0, 0, 0))
	assert.Equal(t, float32(3), img.Nearest(0.99, 0, 0))
	assert.Equal(t, float32(5), img.Nearest(0.3, 0.6, 0))
	assert.Equal(t, float32(5), img.Nearest(1.3, -0.4, 0), "uv wraps")
	assert.Equal(t, float32(7), img.At(-1, -1, 0))

	// Texel centre returns the texel itself.
	assert.InDelta(t, 5.0, float64(img.Bilinear(1.5/4, 1.5/2, 0)), 1e-6)
}

func TestWriteTIFF(t *testing.T) {
	img := NewBaker(16, 8).BakeWind(NewGradient(4, 0.2, 1))

	var buf bytes.Buffer
	require.NoError(t, WriteTIFF(&buf, img, 0))

	decoded, err := tiff.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())

	assert.Error(t, WriteTIFF(&buf, img, 3))
}
