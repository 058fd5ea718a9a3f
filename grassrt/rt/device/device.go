// Package device is the contract between the grass runtime and the graphics
// device: buffers, images, compute kernels, barriers and instanced draws.
// Every binding is passed explicitly with each call; a Context keeps no
// "currently bound" state between calls.
package device

import (
	"errors"
)

var (
	// ErrMissingBarrier is returned when a dispatch or draw touches a resource
	// that an earlier dispatch is still writing (or reading, for a write)
	// without a Barrier in between.
	ErrMissingBarrier = errors.New("missing barrier between dependent device operations")
	// ErrKernelFault is returned when a kernel faults, e.g. writes out of bounds.
	ErrKernelFault = errors.New("kernel fault")
	// ErrReleased is returned when a resource is used or released after release.
	ErrReleased = errors.New("resource already released")
)

type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageUniform
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageCopySrc
	BufferUsageCopyDst
)

type ImageFormat int

const (
	ImageFormatR32Float ImageFormat = iota
	ImageFormatRGBA32Float
)

func (f ImageFormat) Channels() int {
	if f == ImageFormatRGBA32Float {
		return 4
	}
	return 1
}

func (f ImageFormat) String() string {
	if f == ImageFormatRGBA32Float {
		return "rgba32float"
	}
	return "r32float"
}

type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

func (a Access) reads() bool  { return a == AccessRead || a == AccessReadWrite }
func (a Access) writes() bool { return a == AccessWrite || a == AccessReadWrite }

type BlendMode int

const (
	BlendOpaque BlendMode = iota
	BlendAlpha
)

// Resource is anything a Context allocates and must release exactly once.
type Resource interface {
	Label() string
}

type Buffer interface {
	Resource
	Size() uint64
}

type Image interface {
	Resource
	Width() uint32
	Height() uint32
	Format() ImageFormat
}

type Kernel interface {
	Resource
	WorkgroupSize() uint32
}

type RenderPipeline interface {
	Resource
}

type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage BufferUsage
}

type ImageDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	Format ImageFormat
}

func (d ImageDescriptor) ByteSize() uint64 {
	return uint64(d.Width) * uint64(d.Height) * uint64(d.Format.Channels()) * 4
}

// KernelDescriptor describes one compute entry point. Source is WGSL for
// real devices; Host is the same kernel for devices that execute on the CPU.
type KernelDescriptor struct {
	Label         string
	Source        string
	EntryPoint    string
	WorkgroupSize uint32
	Host          HostKernel
}

// RenderPipelineDescriptor describes the instanced draw pipeline. Host
// resolves which instance slot an instance invocation reads, for devices
// that execute on the CPU.
type RenderPipelineDescriptor struct {
	Label         string
	Source        string
	VertexEntry   string
	FragmentEntry string
	VertexStride  uint64
	VertexAttribs []VertexAttrib
	Blend         BlendMode
	DepthWrite    bool
	CullBackFaces bool
	Host          HostInstance
}

type VertexAttrib struct {
	Location   uint32
	Offset     uint64
	Components int
}

// Binding attaches a buffer or an image to a slot of group 0. Params always
// land in group 1, binding 0.
type Binding struct {
	Slot   uint32
	Buffer Buffer
	Image  Image
	Access Access
}

func (b Binding) resource() Resource {
	if b.Buffer != nil {
		return b.Buffer
	}
	return b.Image
}

type DispatchDescriptor struct {
	Kernel    Kernel
	Bindings  []Binding
	Params    []byte
	WorkItems uint32
}

type DrawDescriptor struct {
	Pipeline      RenderPipeline
	VertexBuffer  Buffer
	IndexBuffer   Buffer
	IndexCount    uint32
	InstanceCount uint32
	Bindings      []Binding
	Uniforms      []byte
}

type Limits struct {
	MaxBufferSize       uint64
	MaxImageDimension   uint32
	MaxWorkgroupsPerDim uint32
	MaxWorkgroupSize    uint32
	UniformOffsetAlign  uint64
}

// Context is an explicit device session. Calls are issued from a single
// host goroutine in program order; Barrier makes every write of the
// preceding dispatches visible to the following ones.
type Context interface {
	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	WriteBuffer(buf Buffer, offset uint64, data []byte) error
	CreateImage(desc ImageDescriptor, texels []float32) (Image, error)
	CreateKernel(desc KernelDescriptor) (Kernel, error)
	CreateRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error)

	Dispatch(desc DispatchDescriptor) error
	Barrier()
	Draw(desc DrawDescriptor) error
	Submit() error

	BeginFrame() error
	EndFrame() error

	// ReadBuffer copies a buffer back to the host. It stalls the device and
	// exists for diagnostics only.
	ReadBuffer(buf Buffer) ([]byte, error)

	Release(res Resource) error
	Limits() Limits
}

// Workgroups is the ceil-divided group count for n items.
func Workgroups(n, groupSize uint32) uint32 {
	if groupSize == 0 {
		return 0
	}
	return (n + groupSize - 1) / groupSize
}
