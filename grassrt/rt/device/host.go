package device

import (
	"encoding/binary"
	"fmt"
	"math"
)

// HostKernel is a compute entry point executed on the CPU, once per logical
// thread. Threads past the logical item count must return without touching
// memory, exactly as the WGSL entry point does.
type HostKernel func(gid uint32, env *HostEnv)

// HostInstance resolves which instance slot the vertex stage reads for
// instance invocation i.
type HostInstance func(i uint32, env *HostEnv) uint32

// HostEnv is the view a host kernel has of its bindings and params.
type HostEnv struct {
	Items  uint32
	params []byte
	slots  []hostSlot
}

type hostSlot struct {
	bound  bool
	access Access
	words  []uint32
	image  *HostImage
}

// HostImage is a read-only float image with wrap addressing.
type HostImage struct {
	Width    int
	Height   int
	Channels int
	Texels   []float32
}

// Load returns texel (x, y) widened to four channels; missing channels are 0.
func (im *HostImage) Load(x, y int) [4]float32 {
	x = ((x % im.Width) + im.Width) % im.Width
	y = ((y % im.Height) + im.Height) % im.Height
	var out [4]float32
	base := (y*im.Width + x) * im.Channels
	copy(out[:], im.Texels[base:base+im.Channels])
	return out
}

func (e *HostEnv) slot(s uint32) *hostSlot {
	if int(s) >= len(e.slots) || !e.slots[s].bound {
		panic(fmt.Sprintf("binding %d is not bound", s))
	}
	return &e.slots[s]
}

func (e *HostEnv) buffer(s uint32) *hostSlot {
	sl := e.slot(s)
	if sl.words == nil && sl.image != nil {
		panic(fmt.Sprintf("binding %d is an image", s))
	}
	return sl
}

// Len is the word length of the buffer at slot s.
func (e *HostEnv) Len(s uint32) uint32 {
	return uint32(len(e.buffer(s).words))
}

func (e *HostEnv) Uint(s, i uint32) uint32 {
	sl := e.buffer(s)
	if !sl.access.reads() {
		panic(fmt.Sprintf("binding %d is write-only", s))
	}
	return sl.words[i]
}

func (e *HostEnv) SetUint(s, i, v uint32) {
	sl := e.buffer(s)
	if !sl.access.writes() {
		panic(fmt.Sprintf("binding %d is read-only", s))
	}
	sl.words[i] = v
}

func (e *HostEnv) Float(s, i uint32) float32 {
	return math.Float32frombits(e.Uint(s, i))
}

func (e *HostEnv) SetFloat(s, i uint32, v float32) {
	e.SetUint(s, i, math.Float32bits(v))
}

func (e *HostEnv) Image(s uint32) *HostImage {
	sl := e.slot(s)
	if sl.image == nil {
		panic(fmt.Sprintf("binding %d is not an image", s))
	}
	return sl.image
}

// ParamUint reads word i of the dispatch params.
func (e *HostEnv) ParamUint(i int) uint32 {
	return binary.LittleEndian.Uint32(e.params[i*4:])
}

func (e *HostEnv) ParamFloat(i int) float32 {
	return math.Float32frombits(e.ParamUint(i))
}
