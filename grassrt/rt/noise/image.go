package noise

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Image is a baked float field, row-major, Channels floats per texel.
// Addressing by UV wraps, matching the repeat addressing of the kernels.
type Image struct {
	Width    int
	Height   int
	Channels int
	Texels   []float32
}

func NewImage(width, height, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Texels:   make([]float32, width*height*channels),
	}
}

func (im *Image) String() string {
	return fmt.Sprintf("Image(%dx%d, %d ch)", im.Width, im.Height, im.Channels)
}

func (im *Image) index(x, y, c int) int {
	x = ((x % im.Width) + im.Width) % im.Width
	y = ((y % im.Height) + im.Height) % im.Height
	return (y*im.Width+x)*im.Channels + c
}

func (im *Image) At(x, y, c int) float32 {
	return im.Texels[im.index(x, y, c)]
}

func (im *Image) Set(x, y, c int, v float32) {
	im.Texels[im.index(x, y, c)] = v
}

// Nearest returns channel c of the texel containing (u, v).
func (im *Image) Nearest(u, v float32, c int) float32 {
	x := int(fract(u) * float32(im.Width))
	y := int(fract(v) * float32(im.Height))
	return im.At(x, y, c)
}

func (im *Image) Bilinear(u, v float32, c int) float32 {
	fx := fract(u)*float32(im.Width) - 0.5
	fy := fract(v)*float32(im.Height) - 0.5
	x0, y0 := math32.Floor(fx), math32.Floor(fy)
	tx, ty := fx-x0, fy-y0
	ix, iy := int(x0), int(y0)

	top := im.At(ix, iy, c)*(1-tx) + im.At(ix+1, iy, c)*tx
	bottom := im.At(ix, iy+1, c)*(1-tx) + im.At(ix+1, iy+1, c)*tx
	return top*(1-ty) + bottom*ty
}

func fract(x float32) float32 {
	return x - math32.Floor(x)
}
