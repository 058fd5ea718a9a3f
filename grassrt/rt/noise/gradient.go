package noise

import (
	"math"

	"github.com/ojrac/opensimplex-go"
)

// Field is a deterministic scalar noise function over the plane, in [-1, 1].
type Field interface {
	Eval(x, y float64) float64
}

// FieldFunc adapts a plain function to Field.
type FieldFunc func(x, y float64) float64

func (f FieldFunc) Eval(x, y float64) float64 { return f(x, y) }

// Gradient is fractal OpenSimplex gradient noise. Used for height variation,
// rotation hints and the wind field.
type Gradient struct {
	noise      opensimplex.Noise
	Frequency  float64
	Octaves    int
	Lacunarity float64
	Gain       float64
}

func NewGradient(seed int64, frequency float64, octaves int) *Gradient {
	if octaves < 1 {
		octaves = 1
	}
	return &Gradient{
		noise:      opensimplex.New(seed),
		Frequency:  frequency,
		Octaves:    octaves,
		Lacunarity: 2.0,
		Gain:       0.5,
	}
}

func (g *Gradient) Eval(x, y float64) float64 {
	freq := g.Frequency
	amp := 1.0
	sum, norm := 0.0, 0.0
	for o := 0; o < g.Octaves; o++ {
		sum += g.noise.Eval2(x*freq, y*freq) * amp
		norm += amp
		freq *= g.Lacunarity
		amp *= g.Gain
	}
	return clampUnit(sum / norm)
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// Normalize maps a noise value from [-1, 1] to [0, 1].
func Normalize(v float64) float64 {
	return (clampUnit(v) + 1) * 0.5
}
