package placement

import (
	"math"
	"math/rand/v2"

	"github.com/chewxy/math32"
	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/noise"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxInstanceCount bounds a tile so the padded sort buffer stays addressable
// with 32-bit indices and the sort stays within a frame on current hardware.
const MaxInstanceCount = 1 << 22

// Grid is the near-uniform slot layout of one tile.
type Grid struct {
	Width       float32
	Depth       float32
	TargetCount int
	BladesX     int
	BladesZ     int
	BaseHeight  float32
}

// Plan derives the grid for a tile footprint and a target instance count.
// The realized count BladesX*BladesZ may be lower than targetCount.
func Plan(width, depth float32, targetCount int) (Grid, error) {
	if !(width > 0) || math32.IsInf(width, 0) {
		return Grid{}, core.NewConfigurationError("width", width, "must be a positive finite number")
	}
	if !(depth > 0) || math32.IsInf(depth, 0) {
		return Grid{}, core.NewConfigurationError("depth", depth, "must be a positive finite number")
	}
	if targetCount < 1 {
		return Grid{}, core.NewConfigurationError("instanceCount", targetCount, "must be at least 1")
	}
	if targetCount > MaxInstanceCount {
		return Grid{}, core.NewConfigurationError("instanceCount", targetCount, "exceeds the per-tile maximum")
	}

	area := float64(width) * float64(depth)
	density := float64(targetCount) / area
	// The epsilon keeps exact squares (256 -> 16) from flooring down after
	// the density round trip.
	bladesX := int(math.Floor(math.Sqrt(density*area) + 1e-9))
	if bladesX == 0 {
		return Grid{}, core.NewConfigurationError("instanceCount", targetCount, "yields an empty grid")
	}
	bladesZ := targetCount / bladesX

	return Grid{
		Width:       width,
		Depth:       depth,
		TargetCount: targetCount,
		BladesX:     bladesX,
		BladesZ:     bladesZ,
	}, nil
}

func (g Grid) Count() int { return g.BladesX * g.BladesZ }

func (g Grid) CellSize() (float32, float32) {
	return g.Width / float32(g.BladesX), g.Depth / float32(g.BladesZ)
}

// Coord maps a linear slot id to its row-major grid coordinate.
func (g Grid) Coord(k int) (i, j int) {
	return k / g.BladesZ, k % g.BladesZ
}

// SlotPosition is the un-jittered position of slot (i, j) relative to the
// tile origin.
func (g Grid) SlotPosition(i, j int) mgl32.Vec3 {
	cw, cd := g.CellSize()
	return mgl32.Vec3{
		float32(i)*cw - g.Width/2,
		g.BaseHeight,
		float32(j)*cd - g.Depth/2,
	}
}

// InstanceRecord is one placed blade.
type InstanceRecord struct {
	ID             uint32
	Position       mgl32.Vec3
	Yaw            float32 // radians
	BendAmount     float32
	VariationNoise float32
}

// Rotation is the packed two-component rotation written to the device.
func (r InstanceRecord) Rotation() [2]float32 {
	return [2]float32{r.Yaw, r.BendAmount}
}

type Option func(*Planner)

func WithBendRange(r float32) Option {
	return func(p *Planner) { p.bendRange = math32.Abs(r) }
}

// WithVariation sets the field sampled at each slot for VariationNoise.
func WithVariation(f noise.Field) Option {
	return func(p *Planner) { p.variation = f }
}

// Planner jitters grid slots from a random stream that is seeded once and
// then consumed in slot order.
type Planner struct {
	grid      Grid
	rng       *rand.Rand
	bendRange float32
	variation noise.Field
}

func NewPlanner(grid Grid, seed uint64, opts ...Option) *Planner {
	p := &Planner{
		grid:      grid,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		bendRange: 0.3,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Planner) Grid() Grid { return p.grid }

// Records emits one record per realized slot, ids 0..Count()-1 in row-major
// order. Each call advances the planner's stream.
func (p *Planner) Records() []InstanceRecord {
	n := p.grid.Count()
	out := make([]InstanceRecord, 0, n)
	for i := 0; i < p.grid.BladesX; i++ {
		for j := 0; j < p.grid.BladesZ; j++ {
			out = append(out, p.place(uint32(len(out)), p.grid.SlotPosition(i, j)))
		}
	}
	return out
}

func (p *Planner) place(id uint32, base mgl32.Vec3) InstanceRecord {
	jx := p.uniform(-0.5, 0.5)
	jz := p.uniform(-0.5, 0.5)
	yawDeg := p.uniform(-180, 180)
	bend := p.uniform(-p.bendRange, p.bendRange)

	pos := base.Add(mgl32.Vec3{jx, 0, jz})
	rec := InstanceRecord{
		ID:         id,
		Position:   pos,
		Yaw:        mgl32.DegToRad(yawDeg),
		BendAmount: bend,
	}
	if p.variation != nil {
		rec.VariationNoise = float32(noise.Normalize(p.variation.Eval(float64(pos.X()), float64(pos.Z()))))
	}
	return rec
}

func (p *Planner) uniform(lo, hi float32) float32 {
	return lo + p.rng.Float32()*(hi-lo)
}
