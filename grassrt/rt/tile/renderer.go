package tile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"github.com/gekko3d/meadow/grassrt/rt/device"
	"github.com/gekko3d/meadow/grassrt/rt/kernels"
	"github.com/gekko3d/meadow/grassrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// FrameUniformSize is the byte size of the Frame block in grass.wgsl.
const FrameUniformSize = 224

// FrameInputs are the per-frame values the renderer does not own.
type FrameInputs struct {
	View           mgl32.Mat4
	Projection     mgl32.Mat4
	CameraPosition mgl32.Vec3
	Light          core.PointLight
}

// Renderer draws every instance of a tile once per frame, in the order of
// the sorted key buffer.
type Renderer struct {
	dev        device.Context
	pipeline   device.RenderPipeline
	vertices   device.Buffer
	indices    device.Buffer
	indexCount uint32
	maxHeight  float32
}

func newRenderer(dev device.Context, label string, mesh BladeMesh, track func(device.Resource)) (*Renderer, error) {
	r := &Renderer{dev: dev, indexCount: uint32(len(mesh.Indices)), maxHeight: mesh.MaxHeight()}

	var err error
	r.pipeline, err = dev.CreateRenderPipeline(device.RenderPipelineDescriptor{
		Label:         label + " blades",
		Source:        shaders.GrassWGSL,
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		VertexStride:  BladeVertexStride,
		VertexAttribs: []device.VertexAttrib{
			{Location: 0, Offset: 0, Components: 3},
			{Location: 1, Offset: 12, Components: 2},
		},
		Blend:      device.BlendAlpha,
		DepthWrite: false,
		Host:       kernels.DrawInstance,
	})
	if err != nil {
		return nil, err
	}
	track(r.pipeline)

	vb := mesh.VertexBytes()
	r.vertices, err = dev.CreateBuffer(device.BufferDescriptor{Label: label + " blade vertices", Size: uint64(len(vb)), Usage: device.BufferUsageVertex})
	if err != nil {
		return nil, err
	}
	track(r.vertices)
	if err := dev.WriteBuffer(r.vertices, 0, vb); err != nil {
		return nil, err
	}

	ib := mesh.IndexBytes()
	r.indices, err = dev.CreateBuffer(device.BufferDescriptor{Label: label + " blade indices", Size: uint64(len(ib)), Usage: device.BufferUsageIndex})
	if err != nil {
		return nil, err
	}
	track(r.indices)
	if err := dev.WriteBuffer(r.indices, 0, ib); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Renderer) MaxHeight() float32 { return r.maxHeight }

// Uniforms packs the Frame block:
//
//	view: mat4x4<f32>;         -- 0
//	proj: mat4x4<f32>;         -- 64
//	camera: vec4<f32>;         -- 128
//	light_pos: vec4<f32>;      -- 144 (w = radius)
//	light_colour: vec4<f32>;   -- 160
//	wind: vec4<f32>;           -- 176 (xy dir, z speed, w max height)
//	tile: vec4<f32>;           -- 192 (xyz origin, w field tile size)
//	time: vec4<f32>;           -- 208 (x elapsed, y wind phase)
func (r *Renderer) Uniforms(frame FrameInputs, cfg Config, elapsed, windPhase float32) []byte {
	buf := make([]byte, FrameUniformSize)

	writeMat := func(offset int, mat mgl32.Mat4) {
		for i, v := range mat {
			binary.LittleEndian.PutUint32(buf[offset+i*4:], math.Float32bits(v))
		}
	}
	writeVec4 := func(offset int, x, y, z, w float32) {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(x))
		binary.LittleEndian.PutUint32(buf[offset+4:], math.Float32bits(y))
		binary.LittleEndian.PutUint32(buf[offset+8:], math.Float32bits(z))
		binary.LittleEndian.PutUint32(buf[offset+12:], math.Float32bits(w))
	}

	writeMat(0, frame.View)
	writeMat(64, frame.Projection)

	cam := frame.CameraPosition
	writeVec4(128, cam[0], cam[1], cam[2], 1)

	light := frame.Light
	writeVec4(144, light.Position[0], light.Position[1], light.Position[2], light.Radius)
	writeVec4(160, light.Colour[0], light.Colour[1], light.Colour[2], light.Colour[3])

	wind := cfg.Wind()
	writeVec4(176, wind[0], wind[1], cfg.WindSpeed, r.maxHeight)
	writeVec4(192, cfg.Position[0], cfg.Position[1], cfg.Position[2], cfg.FieldTileSize)
	writeVec4(208, elapsed, windPhase, 0, 0)
	return buf
}

// DrawInstanced issues one indexed draw of the blade mesh, count instances.
func (r *Renderer) DrawInstanced(inst *instanceBuffers, wind device.Image, uniforms []byte, count int) error {
	err := r.dev.Draw(device.DrawDescriptor{
		Pipeline:      r.pipeline,
		VertexBuffer:  r.vertices,
		IndexBuffer:   r.indices,
		IndexCount:    r.indexCount,
		InstanceCount: uint32(count),
		Bindings: []device.Binding{
			{Slot: kernels.DrawPositionSlot, Buffer: inst.positions, Access: device.AccessRead},
			{Slot: kernels.DrawRotationSlot, Buffer: inst.rotations, Access: device.AccessRead},
			{Slot: kernels.DrawUVSlot, Buffer: inst.uvs, Access: device.AccessRead},
			{Slot: kernels.DrawKeysSlot, Buffer: inst.keys, Access: device.AccessRead},
			{Slot: kernels.DrawWindSlot, Image: wind, Access: device.AccessRead},
		},
		Uniforms: uniforms,
	})
	if err != nil {
		return fmt.Errorf("draw grass: %w", err)
	}
	return nil
}
