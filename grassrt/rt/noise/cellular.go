package noise

import "math"

// Cellular is Worley (F1) noise: distance to the nearest feature point of a
// jittered integer lattice. It drives instance clustering.
type Cellular struct {
	seed      uint64
	Frequency float64
}

// CellSample is the nearest feature point seen from a query position.
// Distance is normalized to [0, 1]; DX/DY point from the query to the
// feature point and lie in [-1, 1].
type CellSample struct {
	Distance float64
	DX, DY   float64
}

func NewCellular(seed int64, frequency float64) *Cellular {
	return &Cellular{seed: uint64(seed), Frequency: frequency}
}

// A feature point in the query's own cell is at most sqrt(2) cells away.
const maxCellDistance = math.Sqrt2

func (c *Cellular) Sample(x, y float64) CellSample {
	x *= c.Frequency
	y *= c.Frequency
	cx, cy := math.Floor(x), math.Floor(y)

	best := CellSample{Distance: math.MaxFloat64}
	for oy := -1.0; oy <= 1; oy++ {
		for ox := -1.0; ox <= 1; ox++ {
			ix, iy := int64(cx+ox), int64(cy+oy)
			jx, jy := c.jitter(ix, iy)
			dx := cx + ox + jx - x
			dy := cy + oy + jy - y
			d := math.Sqrt(dx*dx + dy*dy)
			if d < best.Distance {
				best = CellSample{Distance: d, DX: dx, DY: dy}
			}
		}
	}

	best.Distance = math.Min(best.Distance/maxCellDistance, 1)
	best.DX = clampUnit(best.DX / maxCellDistance)
	best.DY = clampUnit(best.DY / maxCellDistance)
	return best
}

func (c *Cellular) Eval(x, y float64) float64 {
	return c.Sample(x, y).Distance*2 - 1
}

// jitter returns the feature point offset inside lattice cell (ix, iy).
func (c *Cellular) jitter(ix, iy int64) (float64, float64) {
	h := mix64(uint64(ix)*0x9E3779B97F4A7C15 ^ uint64(iy)*0xC2B2AE3D27D4EB4F ^ c.seed)
	const inv = 1.0 / (1 << 32)
	return float64(h&0xFFFFFFFF) * inv, float64(h>>32) * inv
}

// splitmix64 finalizer
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
