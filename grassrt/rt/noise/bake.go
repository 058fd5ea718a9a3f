package noise

const (
	DefaultResolution  = 512
	DefaultClusterSeed = 1337
)

// Baker samples fields on a fixed grid over the unit square scaled by
// TileSize and stores them as images.
type Baker struct {
	Width    int
	Height   int
	TileSize float64
}

func NewBaker(resolution int, tileSize float64) Baker {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	if tileSize <= 0 {
		tileSize = 1
	}
	return Baker{Width: resolution, Height: resolution, TileSize: tileSize}
}

// Bake calls fn once per texel with the texel's field coordinates.
func (b Baker) Bake(channels int, fn func(u, v float64, out []float32)) *Image {
	img := NewImage(b.Width, b.Height, channels)
	for y := 0; y < b.Height; y++ {
		v := float64(y) / float64(b.Height) * b.TileSize
		for x := 0; x < b.Width; x++ {
			u := float64(x) / float64(b.Width) * b.TileSize
			i := (y*b.Width + x) * channels
			fn(u, v, img.Texels[i:i+channels])
		}
	}
	return img
}

// BakeWind produces the 1-channel wind image: the field made tileable over
// TileSize and normalized to [0, 1].
func (b Baker) BakeWind(field Field) *Image {
	wrapped := Tileable{Field: field, Size: b.TileSize}
	return b.Bake(1, func(u, v float64, out []float32) {
		out[0] = float32(Normalize(wrapped.Eval(u, v)))
	})
}

// BakeCluster produces the 4-channel clustering image:
//
//	R, G  displacement toward the nearest cell centre, [-1, 1]
//	B     rotation hint, [0, 1]
//	A     cellular distance, used as variation, [0, 1]
func (b Baker) BakeCluster(cells *Cellular, hint Field) *Image {
	return b.Bake(4, func(u, v float64, out []float32) {
		s := cells.Sample(u, v)
		out[0] = float32(s.DX)
		out[1] = float32(s.DY)
		out[2] = float32(Normalize(hint.Eval(u, v)))
		out[3] = float32(s.Distance)
	})
}
