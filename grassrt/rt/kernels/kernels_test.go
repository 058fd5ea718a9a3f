package kernels

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/noise"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storage(t *testing.T, dev *device.Soft, label string, words int) device.Buffer {
	t.Helper()
	buf, err := dev.CreateBuffer(device.BufferDescriptor{Label: label, Size: uint64(words) * 4, Usage: device.BufferUsageStorage})
	require.NoError(t, err)
	return buf
}

func floats(t *testing.T, dev *device.Soft, buf device.Buffer) []float32 {
	t.Helper()
	data, err := dev.ReadBuffer(buf)
	require.NoError(t, err)
	return device.Float32s(data)
}

func TestGenerateMatchesGridAndClusterImage(t *testing.T) {
	dev := device.NewSoft()
	cluster := noise.NewBaker(16, 8).BakeCluster(noise.NewCellular(noise.DefaultClusterSeed, 0.5), noise.NewGradient(3, 0.2, 1))
	img, err := dev.CreateImage(device.ImageDescriptor{
		Label: "cluster", Width: 16, Height: 16, Format: device.ImageFormatRGBA32Float,
	}, cluster.Texels)
	require.NoError(t, err)

	const bx, bz = 5, 6
	count := bx * bz
	pos := storage(t, dev, "pos", count*PositionWords)
	rot := storage(t, dev, "rot", count*RotationWords)
	uv := storage(t, dev, "uv", count*UVWords)

	k, err := dev.CreateKernel(Generate())
	require.NoError(t, err)
	params := GenerateParams{
		BladesX: bx, BladesZ: bz, Count: uint32(count),
		Width: 8, Depth: 4, BaseHeight: 1.5, ClusterStrength: 0.25, BendRange: 0.3,
	}
	require.NoError(t, dev.Dispatch(device.DispatchDescriptor{
		Kernel: k,
		Bindings: []device.Binding{
			{Slot: GenerateClusterSlot, Image: img, Access: device.AccessRead},
			{Slot: GeneratePositionSlot, Buffer: pos, Access: device.AccessWrite},
			{Slot: GenerateRotationSlot, Buffer: rot, Access: device.AccessWrite},
			{Slot: GenerateUVSlot, Buffer: uv, Access: device.AccessWrite},
		},
		Params:    params.Bytes(),
		WorkItems: uint32(count),
	}))
	dev.Barrier()

	p, r, u := floats(t, dev, pos), floats(t, dev, rot), floats(t, dev, uv)
	for idx := 0; idx < count; idx++ {
		i, j := idx/bz, idx%bz
		su := (float32(i) + 0.5) / bx
		sv := (float32(j) + 0.5) / bz
		texel := [4]float32{
			cluster.Nearest(su, sv, 0), cluster.Nearest(su, sv, 1),
			cluster.Nearest(su, sv, 2), cluster.Nearest(su, sv, 3),
		}
		wantX := float32(i)*(8.0/bx) - 4 + texel[0]*0.25
		wantZ := float32(j)*(4.0/bz) - 2 + texel[1]*0.25

		require.InDelta(t, wantX, p[idx*4], 1e-5, "x of %d", idx)
		require.Equal(t, float32(1.5), p[idx*4+1])
		require.InDelta(t, wantZ, p[idx*4+2], 1e-5, "z of %d", idx)
		require.Equal(t, texel[3], p[idx*4+3])

		require.InDelta(t, (texel[2]*2-1)*math.Pi, r[idx*2], 1e-5)
		require.InDelta(t, (texel[3]*2-1)*0.3, r[idx*2+1], 1e-6)
		require.Equal(t, su, u[idx*2])
		require.Equal(t, sv, u[idx*2+1])
	}
}

func TestGenerateLeavesTailUntouched(t *testing.T) {
	dev := device.NewSoft()
	img, err := dev.CreateImage(device.ImageDescriptor{Label: "flat", Width: 1, Height: 1, Format: device.ImageFormatRGBA32Float}, []float32{0, 0, 0.5, 0.5})
	require.NoError(t, err)

	// One group of 256 threads over 3 items: buffers sized to 3 must not fault.
	pos := storage(t, dev, "pos", 3*PositionWords)
	rot := storage(t, dev, "rot", 3*RotationWords)
	uv := storage(t, dev, "uv", 3*UVWords)
	k, err := dev.CreateKernel(Generate())
	require.NoError(t, err)

	err = dev.Dispatch(device.DispatchDescriptor{
		Kernel: k,
		Bindings: []device.Binding{
			{Slot: GenerateClusterSlot, Image: img},
			{Slot: GeneratePositionSlot, Buffer: pos, Access: device.AccessWrite},
			{Slot: GenerateRotationSlot, Buffer: rot, Access: device.AccessWrite},
			{Slot: GenerateUVSlot, Buffer: uv, Access: device.AccessWrite},
		},
		Params:    GenerateParams{BladesX: 1, BladesZ: 3, Count: 3, Width: 1, Depth: 3}.Bytes(),
		WorkItems: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dev.Trace()[0].Groups)
}

func TestDepthKeyWritesDistancesAndSentinels(t *testing.T) {
	dev := device.NewSoft()
	const count, padded = 5, 8
	pos := storage(t, dev, "pos", count*PositionWords)
	keys := storage(t, dev, "keys", padded*KeyWords)

	positions := make([]float32, count*PositionWords)
	for i := 0; i < count; i++ {
		positions[i*4] = float32(i)
	}
	require.NoError(t, dev.WriteBuffer(pos, 0, float32Bytes(positions)))

	k, err := dev.CreateKernel(DepthKey())
	require.NoError(t, err)
	params := DepthKeyParams{
		Camera: mgl32.Vec3{10, 0, 0},
		Origin: mgl32.Vec3{1, 2, 0},
		Count:  count,
		Padded: padded,
	}
	require.NoError(t, dev.Dispatch(device.DispatchDescriptor{
		Kernel: k,
		Bindings: []device.Binding{
			{Slot: DepthKeyPositionSlot, Buffer: pos, Access: device.AccessRead},
			{Slot: DepthKeyKeysSlot, Buffer: keys, Access: device.AccessWrite},
		},
		Params:    params.Bytes(),
		WorkItems: padded,
	}))
	dev.Barrier()

	data, err := dev.ReadBuffer(keys)
	require.NoError(t, err)
	got := DecodeKeys(data)
	require.Len(t, got, padded)
	for i := 0; i < count; i++ {
		dx := float32(1+i) - 10
		assert.Equal(t, Key{Distance: dx*dx + 4, Index: uint32(i)}, got[i])
	}
	for i := count; i < padded; i++ {
		assert.True(t, got[i].IsSentinel())
		assert.Equal(t, SentinelDistance, got[i].Distance)
	}
}

func TestBitonicStepMatchesHostComparator(t *testing.T) {
	dev := device.NewSoft()
	in := []Key{{5, 0}, {1, 1}, {4, 2}, {2, 3}, {9, 4}, {0, 5}, {3, 6}, {7, 7}}
	keys := storage(t, dev, "keys", len(in)*KeyWords)
	require.NoError(t, dev.WriteBuffer(keys, 0, EncodeKeys(in)))
	kernel, err := dev.CreateKernel(BitonicStep())
	require.NoError(t, err)

	want := append([]Key(nil), in...)
	for idx := uint32(0); idx < 8; idx++ {
		CompareExchange(want, idx, 4, 2)
	}

	require.NoError(t, dev.Dispatch(device.DispatchDescriptor{
		Kernel:    kernel,
		Bindings:  []device.Binding{{Slot: BitonicKeysSlot, Buffer: keys, Access: device.AccessReadWrite}},
		Params:    BitonicParams{K: 4, J: 2, N: 8}.Bytes(),
		WorkItems: 8,
	}))
	data, err := dev.ReadBuffer(keys)
	require.NoError(t, err)
	assert.Equal(t, want, DecodeKeys(data))
}

func TestCompareExchangeDirection(t *testing.T) {
	keys := []Key{{3, 0}, {1, 1}, {1, 2}, {3, 3}}
	// Stage k=2, j=1: pair (0,1) ascending, pair (2,3) descending.
	for idx := uint32(0); idx < 4; idx++ {
		CompareExchange(keys, idx, 2, 1)
	}
	assert.Equal(t, []Key{{1, 1}, {3, 0}, {3, 3}, {1, 2}}, keys)

	assert.True(t, Key{1, 2}.Greater(Key{1, 1}), "ties break on index")
	assert.True(t, Sentinel().Greater(Key{math.MaxFloat32, 7}))
}

func TestParamBlockSizes(t *testing.T) {
	assert.Len(t, GenerateParams{}.Bytes(), 48)
	assert.Len(t, DepthKeyParams{}.Bytes(), 32)
	assert.Len(t, BitonicParams{}.Bytes(), 16)
}

func float32Bytes(vs []float32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}
