package tile

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BladeVertexStride is position (3 floats) plus uv (2 floats).
const BladeVertexStride = 20

type BladeVertex struct {
	Position mgl32.Vec3
	UV       mgl32.Vec2
}

// BladeMesh is the base geometry every instance draws.
type BladeMesh struct {
	Vertices []BladeVertex
	Indices  []uint32
}

// NewBladeMesh builds a tapered strip of segments quads ending in a tip
// triangle, rooted at the origin and standing along +Y.
func NewBladeMesh(segments int, width, height float32) BladeMesh {
	if segments < 1 {
		segments = 1
	}
	var m BladeMesh
	for s := 0; s < segments; s++ {
		t := float32(s) / float32(segments)
		half := width * 0.5 * (1 - t)
		y := t * height
		m.Vertices = append(m.Vertices,
			BladeVertex{Position: mgl32.Vec3{-half, y, 0}, UV: mgl32.Vec2{0, t}},
			BladeVertex{Position: mgl32.Vec3{half, y, 0}, UV: mgl32.Vec2{1, t}},
		)
	}
	tip := uint32(len(m.Vertices))
	m.Vertices = append(m.Vertices, BladeVertex{Position: mgl32.Vec3{0, height, 0}, UV: mgl32.Vec2{0.5, 1}})

	for s := 0; s < segments-1; s++ {
		l0, r0 := uint32(2*s), uint32(2*s+1)
		l1, r1 := l0+2, r0+2
		m.Indices = append(m.Indices, l0, r0, r1, l0, r1, l1)
	}
	last := uint32(2 * (segments - 1))
	m.Indices = append(m.Indices, last, last+1, tip)
	return m
}

func DefaultBladeMesh() BladeMesh { return NewBladeMesh(4, 0.08, 1) }

// MaxHeight is the largest Y of the mesh; the vertex stage scales wind
// bend by height relative to it.
func (m BladeMesh) MaxHeight() float32 {
	if len(m.Vertices) == 0 {
		return 0
	}
	h := m.Vertices[0].Position.Y()
	for _, v := range m.Vertices[1:] {
		h = max(h, v.Position.Y())
	}
	return h
}

func (m BladeMesh) VertexBytes() []byte {
	out := make([]byte, len(m.Vertices)*BladeVertexStride)
	for i, v := range m.Vertices {
		o := i * BladeVertexStride
		binary.LittleEndian.PutUint32(out[o:], math.Float32bits(v.Position[0]))
		binary.LittleEndian.PutUint32(out[o+4:], math.Float32bits(v.Position[1]))
		binary.LittleEndian.PutUint32(out[o+8:], math.Float32bits(v.Position[2]))
		binary.LittleEndian.PutUint32(out[o+12:], math.Float32bits(v.UV[0]))
		binary.LittleEndian.PutUint32(out[o+16:], math.Float32bits(v.UV[1]))
	}
	return out
}

func (m BladeMesh) IndexBytes() []byte {
	out := make([]byte, len(m.Indices)*4)
	for i, idx := range m.Indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}
