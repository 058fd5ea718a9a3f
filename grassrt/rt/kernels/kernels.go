// Package kernels holds the compute entry points of the grass pipeline: the
// WGSL source for real devices and the matching host function for
// device.Soft, plus the little-endian param blocks both read.
package kernels

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// WorkgroupSize is the group width every grass kernel is compiled with.
const WorkgroupSize = 256

// Generate bindings.
const (
	GenerateClusterSlot  = 0
	GeneratePositionSlot = 1
	GenerateRotationSlot = 2
	GenerateUVSlot       = 3
)

// DepthKey bindings.
const (
	DepthKeyPositionSlot = 0
	DepthKeyKeysSlot     = 1
)

const BitonicKeysSlot = 0

// Draw bindings.
const (
	DrawPositionSlot = 0
	DrawRotationSlot = 1
	DrawUVSlot       = 2
	DrawKeysSlot     = 3
	DrawWindSlot     = 4
)

// Per-instance strides in 32-bit words.
const (
	PositionWords = 4
	RotationWords = 2
	UVWords       = 2
	KeyWords      = 2
)

func putWords(dst []byte, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(dst[i*4:], w)
	}
}

func f(v float32) uint32 { return math.Float32bits(v) }

// GenerateParams mirrors the Params block of generate.wgsl.
type GenerateParams struct {
	BladesX         uint32
	BladesZ         uint32
	Count           uint32
	Width           float32
	Depth           float32
	BaseHeight      float32
	ClusterStrength float32
	BendRange       float32
}

func (p GenerateParams) Bytes() []byte {
	out := make([]byte, 48)
	putWords(out,
		p.BladesX, p.BladesZ, p.Count, 0,
		f(p.Width), f(p.Depth), f(p.BaseHeight), f(p.ClusterStrength),
		f(p.BendRange), 0, 0, 0,
	)
	return out
}

func Generate() device.KernelDescriptor {
	return device.KernelDescriptor{
		Label:         "grass generate",
		Source:        shaders.GenerateWGSL,
		EntryPoint:    "main",
		WorkgroupSize: WorkgroupSize,
		Host:          generate,
	}
}

func fract(x float32) float32 { return x - math32.Floor(x) }

func generate(gid uint32, env *device.HostEnv) {
	count := env.ParamUint(2)
	if gid >= count {
		return
	}
	bx, bz := env.ParamUint(0), env.ParamUint(1)
	width, depth := env.ParamFloat(4), env.ParamFloat(5)
	baseHeight := env.ParamFloat(6)
	strength := env.ParamFloat(7)
	bendRange := env.ParamFloat(8)

	i, j := gid/bz, gid%bz
	cw, cd := width/float32(bx), depth/float32(bz)
	u := (float32(i) + 0.5) / float32(bx)
	v := (float32(j) + 0.5) / float32(bz)

	img := env.Image(GenerateClusterSlot)
	tx := int(fract(u)*float32(img.Width)) % img.Width
	ty := int(fract(v)*float32(img.Height)) % img.Height
	c := img.Load(tx, ty)

	x := float32(i)*cw - width*0.5 + c[0]*strength
	z := float32(j)*cd - depth*0.5 + c[1]*strength

	base := gid * PositionWords
	env.SetFloat(GeneratePositionSlot, base, x)
	env.SetFloat(GeneratePositionSlot, base+1, baseHeight)
	env.SetFloat(GeneratePositionSlot, base+2, z)
	env.SetFloat(GeneratePositionSlot, base+3, c[3])

	env.SetFloat(GenerateRotationSlot, gid*RotationWords, (c[2]*2-1)*math32.Pi)
	env.SetFloat(GenerateRotationSlot, gid*RotationWords+1, (c[3]*2-1)*bendRange)

	env.SetFloat(GenerateUVSlot, gid*UVWords, u)
	env.SetFloat(GenerateUVSlot, gid*UVWords+1, v)
}

// DepthKeyParams mirrors the Params block of depth_key.wgsl.
type DepthKeyParams struct {
	Camera mgl32.Vec3
	Origin mgl32.Vec3
	Count  uint32
	Padded uint32
}

func (p DepthKeyParams) Bytes() []byte {
	out := make([]byte, 32)
	putWords(out,
		f(p.Camera[0]), f(p.Camera[1]), f(p.Camera[2]), p.Count,
		f(p.Origin[0]), f(p.Origin[1]), f(p.Origin[2]), p.Padded,
	)
	return out
}

func DepthKey() device.KernelDescriptor {
	return device.KernelDescriptor{
		Label:         "grass depth key",
		Source:        shaders.DepthKeyWGSL,
		EntryPoint:    "main",
		WorkgroupSize: WorkgroupSize,
		Host:          depthKey,
	}
}

func depthKey(gid uint32, env *device.HostEnv) {
	count, padded := env.ParamUint(3), env.ParamUint(7)
	if gid >= padded {
		return
	}
	if gid >= count {
		storeKey(env, DepthKeyKeysSlot, gid, Sentinel())
		return
	}
	base := gid * PositionWords
	var d [3]float32
	for c := 0; c < 3; c++ {
		origin := env.ParamFloat(4 + c)
		camera := env.ParamFloat(c)
		d[c] = origin + env.Float(DepthKeyPositionSlot, base+uint32(c)) - camera
	}
	storeKey(env, DepthKeyKeysSlot, gid, Key{Distance: d[0]*d[0] + d[1]*d[1] + d[2]*d[2], Index: gid})
}

// BitonicParams mirrors the Params block of bitonic.wgsl.
type BitonicParams struct {
	K uint32
	J uint32
	N uint32
}

func (p BitonicParams) Bytes() []byte {
	out := make([]byte, 16)
	putWords(out, p.K, p.J, p.N, 0)
	return out
}

func BitonicStep() device.KernelDescriptor {
	return device.KernelDescriptor{
		Label:         "grass bitonic step",
		Source:        shaders.BitonicWGSL,
		EntryPoint:    "main",
		WorkgroupSize: WorkgroupSize,
		Host:          bitonicStep,
	}
}

func bitonicStep(gid uint32, env *device.HostEnv) {
	k, j, n := env.ParamUint(0), env.ParamUint(1), env.ParamUint(2)
	if gid >= n {
		return
	}
	l := gid ^ j
	if l <= gid {
		return
	}
	a := loadKey(env, BitonicKeysSlot, gid)
	b := loadKey(env, BitonicKeysSlot, l)
	if !InOrder(gid, k, a, b) {
		storeKey(env, BitonicKeysSlot, gid, b)
		storeKey(env, BitonicKeysSlot, l, a)
	}
}

// DrawInstance is the host side of the vertex stage's instance fetch:
// invocation i reads the blade named by keys[i].
func DrawInstance(i uint32, env *device.HostEnv) uint32 {
	return env.Uint(DrawKeysSlot, i*KeyWords+1)
}

func loadKey(env *device.HostEnv, slot, i uint32) Key {
	return Key{
		Distance: env.Float(slot, i*KeyWords),
		Index:    env.Uint(slot, i*KeyWords+1),
	}
}

func storeKey(env *device.HostEnv, slot, i uint32, k Key) {
	env.SetFloat(slot, i*KeyWords, k.Distance)
	env.SetUint(slot, i*KeyWords+1, k.Index)
}
