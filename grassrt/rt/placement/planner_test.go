package placement

import (
	"errors"
	"math"
	"testing"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/noise"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanReferenceTile(t *testing.T) {
	grid, err := Plan(16, 16, 256)
	require.NoError(t, err)
	assert.Equal(t, 16, grid.BladesX)
	assert.Equal(t, 16, grid.BladesZ)
	assert.Equal(t, 256, grid.Count())
}

func TestPlanRealizedCountNeverExceedsTarget(t *testing.T) {
	dims := [][2]float32{{16, 16}, {1, 1}, {3, 7}, {100, 2.5}, {0.25, 40}}
	for _, d := range dims {
		for target := 1; target <= 600; target += 7 {
			grid, err := Plan(d[0], d[1], target)
			require.NoError(t, err)
			require.Positive(t, grid.BladesX)
			require.LessOrEqual(t, grid.Count(), target, "dims %v target %d", d, target)

			p := NewPlanner(grid, 1)
			records := p.Records()
			require.Len(t, records, grid.Count())
			for i, r := range records {
				require.Equal(t, uint32(i), r.ID)
			}
		}
	}
}

func TestPlanExactSquares(t *testing.T) {
	for _, n := range []int{1, 4, 9, 100, 1024, 4096, 65536} {
		grid, err := Plan(3, 7, n)
		require.NoError(t, err)
		root := int(math.Sqrt(float64(n)))
		assert.Equal(t, root, grid.BladesX, "n=%d", n)
		assert.Equal(t, n, grid.Count(), "n=%d", n)
	}
}

func TestPlanRejectsBadConfiguration(t *testing.T) {
	cases := []struct {
		name         string
		width, depth float32
		count        int
	}{
		{"zero count", 16, 16, 0},
		{"negative count", 16, 16, -4},
		{"zero width", 0, 16, 256},
		{"negative depth", 16, -1, 256},
		{"nan width", float32(math.NaN()), 16, 256},
		{"inf depth", 16, float32(math.Inf(1)), 256},
		{"too many", 16, 16, MaxInstanceCount + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.width, tc.depth, tc.count)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfiguration))

			var cfgErr *core.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestSlotLayoutIsRowMajor(t *testing.T) {
	grid, err := Plan(8, 4, 32)
	require.NoError(t, err)
	require.Equal(t, 5, grid.BladesX)
	require.Equal(t, 6, grid.BladesZ)

	cw, cd := grid.CellSize()
	for k := 0; k < grid.Count(); k++ {
		i, j := grid.Coord(k)
		require.Equal(t, k, i*grid.BladesZ+j)
		pos := grid.SlotPosition(i, j)
		require.InDelta(t, float64(float32(i)*cw-4), float64(pos.X()), 1e-6)
		require.InDelta(t, float64(float32(j)*cd-2), float64(pos.Z()), 1e-6)
	}
}

func TestPlannerJitterRanges(t *testing.T) {
	grid, err := Plan(16, 16, 256)
	require.NoError(t, err)
	grid.BaseHeight = 2

	records := NewPlanner(grid, 42, WithBendRange(0.4)).Records()
	for _, r := range records {
		i, j := grid.Coord(int(r.ID))
		base := grid.SlotPosition(i, j)
		d := r.Position.Sub(base)
		require.InDelta(t, 0, float64(d.X()), 0.5+1e-5)
		require.InDelta(t, 0, float64(d.Z()), 0.5+1e-5)
		require.Equal(t, float32(2), r.Position.Y())
		require.True(t, r.Yaw >= -math.Pi-1e-6 && r.Yaw <= math.Pi+1e-6)
		require.InDelta(t, 0, float64(r.BendAmount), 0.4+1e-6)
		require.Equal(t, [2]float32{r.Yaw, r.BendAmount}, r.Rotation())
	}
}

func TestPlannerDeterministicForSeed(t *testing.T) {
	grid, err := Plan(16, 16, 500)
	require.NoError(t, err)
	variation := noise.NewGradient(9, 0.1, 2)

	a := NewPlanner(grid, 7, WithVariation(variation)).Records()
	b := NewPlanner(grid, 7, WithVariation(variation)).Records()
	c := NewPlanner(grid, 8, WithVariation(variation)).Records()

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestPlannerStreamIsNotReseededPerInstance(t *testing.T) {
	grid, err := Plan(4, 4, 16)
	require.NoError(t, err)

	records := NewPlanner(grid, 3).Records()
	offsets := make(map[mgl32.Vec3]struct{})
	for _, r := range records {
		i, j := grid.Coord(int(r.ID))
		offsets[r.Position.Sub(grid.SlotPosition(i, j))] = struct{}{}
	}
	assert.Len(t, offsets, len(records), "every instance should draw its own jitter")
}

func TestPlannerVariationNormalized(t *testing.T) {
	grid, err := Plan(10, 10, 100)
	require.NoError(t, err)
	records := NewPlanner(grid, 1, WithVariation(noise.NewGradient(1, 0.3, 1))).Records()
	for _, r := range records {
		require.True(t, r.VariationNoise >= 0 && r.VariationNoise <= 1)
	}
}
