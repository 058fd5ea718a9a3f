package tile

import (
	"encoding/binary"
	"math"

	"github.com/gekko3d/meadow/grassrt/rt/kernels"
	"github.com/gekko3d/meadow/grassrt/rt/placement"
	"github.com/go-gl/mathgl/mgl32"
)

// Per-instance byte sizes of the device buffers.
const (
	PositionStride = kernels.PositionWords * 4
	RotationStride = kernels.RotationWords * 4
	UVStride       = kernels.UVWords * 4
	KeyStride      = kernels.KeyWords * 4
)

func putFloats(dst []byte, vs ...float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloat(src []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
}

// PackPositions lays records out as xyz plus variation in the fourth lane.
func PackPositions(records []placement.InstanceRecord) []byte {
	out := make([]byte, len(records)*PositionStride)
	for i, r := range records {
		putFloats(out[i*PositionStride:], r.Position[0], r.Position[1], r.Position[2], r.VariationNoise)
	}
	return out
}

func PackRotations(records []placement.InstanceRecord) []byte {
	out := make([]byte, len(records)*RotationStride)
	for i, r := range records {
		rot := r.Rotation()
		putFloats(out[i*RotationStride:], rot[0], rot[1])
	}
	return out
}

// PackUVs writes each record's slot centre in [0,1]^2, as the generation
// kernel does.
func PackUVs(grid placement.Grid, records []placement.InstanceRecord) []byte {
	out := make([]byte, len(records)*UVStride)
	for n, r := range records {
		i, j := grid.Coord(int(r.ID))
		putFloats(out[n*UVStride:],
			(float32(i)+0.5)/float32(grid.BladesX),
			(float32(j)+0.5)/float32(grid.BladesZ),
		)
	}
	return out
}

// UnpackInstances rebuilds records from position and rotation buffer
// contents. Ids are buffer order.
func UnpackInstances(positions, rotations []byte, count int) []placement.InstanceRecord {
	out := make([]placement.InstanceRecord, count)
	for i := range out {
		p := positions[i*PositionStride:]
		r := rotations[i*RotationStride:]
		out[i] = placement.InstanceRecord{
			ID:             uint32(i),
			Position:       mgl32.Vec3{getFloat(p, 0), getFloat(p, 1), getFloat(p, 2)},
			VariationNoise: getFloat(p, 3),
			Yaw:            getFloat(r, 0),
			BendAmount:     getFloat(r, 1),
		}
	}
	return out
}
