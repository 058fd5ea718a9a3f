package noise

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"golang.org/x/image/tiff"
)

// WriteTIFF dumps one channel of a baked image as 16-bit grayscale,
// stretched to the channel's own min/max. Diagnostics only.
func WriteTIFF(w io.Writer, img *Image, channel int) error {
	if channel < 0 || channel >= img.Channels {
		return fmt.Errorf("channel %d out of range for %s", channel, img)
	}

	lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for i := channel; i < len(img.Texels); i += img.Channels {
		v := img.Texels[i]
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := float32(0)
	if hi > lo {
		scale = 1 / (hi - lo)
	}

	out := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			n := (img.At(x, y, channel) - lo) * scale
			out.SetGray16(x, y, color.Gray16{Y: uint16(n * math.MaxUint16)})
		}
	}
	return tiff.Encode(w, out, &tiff.Options{Compression: tiff.Deflate})
}
