package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/meadow/grassrt/rt/core"
)

const uniformSlotSize = 256

var _ Context = (*WGPU)(nil)

var errNoSurface = errors.New("wgpu device has no surface to present to")

type WGPUOption func(*WGPU)

func WithWGPULogger(l core.Logger) WGPUOption {
	return func(w *WGPU) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithValidator runs fn over every WGSL source before the shader module is
// created. Its error text becomes the compile diagnostic.
func WithValidator(fn func(label, source string) error) WGPUOption {
	return func(w *WGPU) { w.validate = fn }
}

// WithSurface makes BeginFrame/EndFrame acquire and present surface images.
func WithSurface(surface *wgpu.Surface, adapter *wgpu.Adapter, config *wgpu.SurfaceConfiguration) WGPUOption {
	return func(w *WGPU) {
		w.surface = surface
		w.adapter = adapter
		w.config = config
		if config != nil {
			w.colorFormat = config.Format
		}
	}
}

func WithClearColor(c wgpu.Color) WGPUOption {
	return func(w *WGPU) { w.clear = c }
}

// WGPU implements Context over a webgpu device. Dispatches are recorded into
// one command encoder until Submit; Barrier closes the current compute pass
// so the next dispatch starts a new one.
type WGPU struct {
	device   *wgpu.Device
	queue    *wgpu.Queue
	logger   core.Logger
	validate func(label, source string) error

	surface     *wgpu.Surface
	adapter     *wgpu.Adapter
	config      *wgpu.SurfaceConfiguration
	colorFormat wgpu.TextureFormat
	clear       wgpu.Color

	encoder     *wgpu.CommandEncoder
	computePass *wgpu.ComputePassEncoder
	renderPass  *wgpu.RenderPassEncoder

	uniformPool []*wgpu.Buffer
	uniformNext int
	transient   []*wgpu.BindGroup

	frameTex     *wgpu.Texture
	frameView    *wgpu.TextureView
	depthTex     *wgpu.Texture
	depthView    *wgpu.TextureView
	depthSize    [2]uint32
	frameCleared bool

	live   map[Resource]struct{}
	limits Limits
}

func NewWGPU(dev *wgpu.Device, opts ...WGPUOption) *WGPU {
	w := &WGPU{
		device:      dev,
		queue:       dev.GetQueue(),
		logger:      core.NopLogger(),
		colorFormat: wgpu.TextureFormatBGRA8Unorm,
		clear:       wgpu.Color{R: 0.45, G: 0.62, B: 0.85, A: 1},
		live:        make(map[Resource]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	supported := dev.GetLimits()
	w.limits = Limits{
		MaxBufferSize:       supported.Limits.MaxBufferSize,
		MaxImageDimension:   supported.Limits.MaxTextureDimension2D,
		MaxWorkgroupsPerDim: supported.Limits.MaxComputeWorkgroupsPerDimension,
		MaxWorkgroupSize:    supported.Limits.MaxComputeInvocationsPerWorkgroup,
		UniformOffsetAlign:  uint64(supported.Limits.MinUniformBufferOffsetAlignment),
	}
	return w
}

type gpuBuffer struct {
	label string
	size  uint64
	buf   *wgpu.Buffer
}

func (b *gpuBuffer) Label() string { return b.label }
func (b *gpuBuffer) Size() uint64  { return b.size }

type gpuImage struct {
	label string
	desc  ImageDescriptor
	tex   *wgpu.Texture
	view  *wgpu.TextureView
}

func (im *gpuImage) Label() string       { return im.label }
func (im *gpuImage) Width() uint32       { return im.desc.Width }
func (im *gpuImage) Height() uint32      { return im.desc.Height }
func (im *gpuImage) Format() ImageFormat { return im.desc.Format }

type gpuKernel struct {
	label    string
	group    uint32
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
}

func (k *gpuKernel) Label() string         { return k.label }
func (k *gpuKernel) WorkgroupSize() uint32 { return k.group }

type gpuPipeline struct {
	label    string
	module   *wgpu.ShaderModule
	pipeline *wgpu.RenderPipeline
}

func (p *gpuPipeline) Label() string { return p.label }

func bufferUsage(u BufferUsage) wgpu.BufferUsage {
	out := wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	if u&BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if u&BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if u&BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if u&BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	return out
}

func (w *WGPU) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	size := (desc.Size + 3) &^ 3
	if size == 0 || size > w.limits.MaxBufferSize {
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: size, Err: fmt.Errorf("size outside (0, %d]", w.limits.MaxBufferSize)}
	}
	buf, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: size, Err: err}
	}
	b := &gpuBuffer{label: desc.Label, size: size, buf: buf}
	w.live[b] = struct{}{}
	return b, nil
}

func (w *WGPU) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*gpuBuffer)
	if !ok || !w.isLive(b) {
		return fmt.Errorf("write buffer %q: %w", labelOf(buf), ErrReleased)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write buffer %q: range [%d,%d) outside %d bytes", b.label, offset, offset+uint64(len(data)), b.size)
	}
	// Queue writes land before the next submission; flush what is already
	// recorded so the write stays in program order.
	if w.encoder != nil {
		if err := w.Submit(); err != nil {
			return err
		}
	}
	return queueWrite(w.queue, b.label, b.buf, offset, data)
}

// bufferWriter is the part of *wgpu.Queue that buffer uploads go through.
type bufferWriter interface {
	WriteBuffer(buffer *wgpu.Buffer, offset uint64, data []byte) error
}

func queueWrite(q bufferWriter, label string, buf *wgpu.Buffer, offset uint64, data []byte) error {
	if err := q.WriteBuffer(buf, offset, data); err != nil {
		return fmt.Errorf("write buffer %q: %w", label, err)
	}
	return nil
}

func textureFormat(f ImageFormat) wgpu.TextureFormat {
	if f == ImageFormatRGBA32Float {
		return wgpu.TextureFormatRGBA32Float
	}
	return wgpu.TextureFormatR32Float
}

func (w *WGPU) CreateImage(desc ImageDescriptor, texels []float32) (Image, error) {
	want := int(desc.Width) * int(desc.Height) * desc.Format.Channels()
	if len(texels) != want {
		return nil, core.NewConfigurationError("texels", len(texels), fmt.Sprintf("want %d for %s %dx%d", want, desc.Format, desc.Width, desc.Height))
	}
	extent := wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1}
	tex, err := w.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        textureFormat(desc.Format),
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: desc.ByteSize(), Err: err}
	}
	data := make([]byte, len(texels)*4)
	for i, v := range texels {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	err = w.queue.WriteTexture(tex.AsImageCopy(), data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  desc.Width * uint32(desc.Format.Channels()) * 4,
		RowsPerImage: desc.Height,
	}, &extent)
	if err != nil {
		tex.Release()
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: desc.ByteSize(), Err: err}
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: desc.ByteSize(), Err: err}
	}
	im := &gpuImage{label: desc.Label, desc: desc, tex: tex, view: view}
	w.live[im] = struct{}{}
	return im, nil
}

func (w *WGPU) shaderModule(label, source string) (*wgpu.ShaderModule, error) {
	if w.validate != nil {
		if err := w.validate(label, source); err != nil {
			w.logger.Errorf("shader %s failed validation:\n%v", label, err)
			return nil, &core.KernelCompilationError{Kernel: label, Diagnostic: err.Error(), Err: err}
		}
	}
	module, err := w.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		w.logger.Errorf("shader %s failed to compile:\n%v", label, err)
		return nil, &core.KernelCompilationError{Kernel: label, Diagnostic: err.Error(), Err: err}
	}
	return module, nil
}

func (w *WGPU) CreateKernel(desc KernelDescriptor) (Kernel, error) {
	if desc.WorkgroupSize == 0 || desc.WorkgroupSize > w.limits.MaxWorkgroupSize {
		return nil, &core.KernelCompilationError{
			Kernel:     desc.Label,
			Diagnostic: fmt.Sprintf("workgroup size %d outside [1,%d]", desc.WorkgroupSize, w.limits.MaxWorkgroupSize),
		}
	}
	module, err := w.shaderModule(desc.Label, desc.Source)
	if err != nil {
		return nil, err
	}
	pipeline, err := w.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: desc.Label,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		module.Release()
		w.logger.Errorf("kernel %s pipeline creation failed:\n%v", desc.Label, err)
		return nil, &core.KernelCompilationError{Kernel: desc.Label, Diagnostic: err.Error(), Err: err}
	}
	k := &gpuKernel{label: desc.Label, group: desc.WorkgroupSize, module: module, pipeline: pipeline}
	w.live[k] = struct{}{}
	return k, nil
}

func vertexFormat(components int) wgpu.VertexFormat {
	switch components {
	case 1:
		return wgpu.VertexFormatFloat32
	case 2:
		return wgpu.VertexFormatFloat32x2
	case 3:
		return wgpu.VertexFormatFloat32x3
	}
	return wgpu.VertexFormatFloat32x4
}

func (w *WGPU) CreateRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error) {
	module, err := w.shaderModule(desc.Label, desc.Source)
	if err != nil {
		return nil, err
	}

	attribs := make([]wgpu.VertexAttribute, len(desc.VertexAttribs))
	for i, a := range desc.VertexAttribs {
		attribs[i] = wgpu.VertexAttribute{Format: vertexFormat(a.Components), Offset: a.Offset, ShaderLocation: a.Location}
	}
	target := wgpu.ColorTargetState{
		Format:    w.colorFormat,
		WriteMask: wgpu.ColorWriteMaskAll,
	}
	if desc.Blend == BlendAlpha {
		target.Blend = &wgpu.BlendState{
			Color: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorSrcAlpha,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
			Alpha: wgpu.BlendComponent{
				SrcFactor: wgpu.BlendFactorOne,
				DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
				Operation: wgpu.BlendOperationAdd,
			},
		}
	}
	cull := wgpu.CullModeNone
	if desc.CullBackFaces {
		cull = wgpu.CullModeBack
	}

	pipeline, err := w.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: desc.Label,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: desc.VertexEntry,
			Buffers: []wgpu.VertexBufferLayout{{
				ArrayStride: desc.VertexStride,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes:  attribs,
			}},
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: desc.FragmentEntry,
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  cull,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            wgpu.TextureFormatDepth32Float,
			DepthWriteEnabled: desc.DepthWrite,
			DepthCompare:      wgpu.CompareFunctionLess,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		module.Release()
		w.logger.Errorf("render pipeline %s creation failed:\n%v", desc.Label, err)
		return nil, &core.KernelCompilationError{Kernel: desc.Label, Diagnostic: err.Error(), Err: err}
	}
	p := &gpuPipeline{label: desc.Label, module: module, pipeline: pipeline}
	w.live[p] = struct{}{}
	return p, nil
}

func (w *WGPU) isLive(r Resource) bool {
	_, ok := w.live[r]
	return ok
}

func (w *WGPU) ensureEncoder() error {
	if w.encoder != nil {
		return nil
	}
	enc, err := w.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	w.encoder = enc
	return nil
}

func (w *WGPU) endComputePass() error {
	if w.computePass == nil {
		return nil
	}
	err := w.computePass.End()
	w.computePass.Release()
	w.computePass = nil
	return err
}

func (w *WGPU) endRenderPass() error {
	if w.renderPass == nil {
		return nil
	}
	err := w.renderPass.End()
	w.renderPass.Release()
	w.renderPass = nil
	return err
}

// uniformBuffer hands out a pooled 256-byte uniform buffer holding data.
// Slots are reused after the next Submit.
func (w *WGPU) uniformBuffer(data []byte) (*wgpu.Buffer, error) {
	if len(data) > uniformSlotSize {
		return nil, fmt.Errorf("uniform block of %d bytes exceeds %d", len(data), uniformSlotSize)
	}
	if w.uniformNext == len(w.uniformPool) {
		buf, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: fmt.Sprintf("uniform slot %d", len(w.uniformPool)),
			Size:  uniformSlotSize,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, &core.ResourceAllocationError{Label: "uniform slot", Size: uniformSlotSize, Err: err}
		}
		w.uniformPool = append(w.uniformPool, buf)
	}
	buf := w.uniformPool[w.uniformNext]
	w.uniformNext++
	padded := make([]byte, (len(data)+15)&^15)
	copy(padded, data)
	if err := queueWrite(w.queue, "uniform slot", buf, 0, padded); err != nil {
		return nil, err
	}
	return buf, nil
}

func (w *WGPU) bindGroups(label string, layout0, layout1 func() *wgpu.BindGroupLayout, bindings []Binding, params []byte) (*wgpu.BindGroup, *wgpu.BindGroup, error) {
	entries := make([]wgpu.BindGroupEntry, 0, len(bindings))
	for _, b := range bindings {
		switch r := b.resource().(type) {
		case *gpuBuffer:
			if !w.isLive(r) {
				return nil, nil, fmt.Errorf("%s: binding %d %q: %w", label, b.Slot, r.label, ErrReleased)
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, Buffer: r.buf, Size: wgpu.WholeSize})
		case *gpuImage:
			if !w.isLive(r) {
				return nil, nil, fmt.Errorf("%s: binding %d %q: %w", label, b.Slot, r.label, ErrReleased)
			}
			entries = append(entries, wgpu.BindGroupEntry{Binding: b.Slot, TextureView: r.view})
		default:
			return nil, nil, fmt.Errorf("%s: binding %d is empty or foreign", label, b.Slot)
		}
	}

	var bg0, bg1 *wgpu.BindGroup
	var err error
	if len(entries) > 0 {
		bg0, err = w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{Label: label + " g0", Layout: layout0(), Entries: entries})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: bind group 0: %w", label, err)
		}
		w.transient = append(w.transient, bg0)
	}
	if len(params) > 0 {
		ub, err := w.uniformBuffer(params)
		if err != nil {
			return nil, nil, err
		}
		bg1, err = w.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   label + " g1",
			Layout:  layout1(),
			Entries: []wgpu.BindGroupEntry{{Binding: 0, Buffer: ub, Size: wgpu.WholeSize}},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%s: bind group 1: %w", label, err)
		}
		w.transient = append(w.transient, bg1)
	}
	return bg0, bg1, nil
}

func (w *WGPU) Dispatch(desc DispatchDescriptor) error {
	k, ok := desc.Kernel.(*gpuKernel)
	if !ok || !w.isLive(k) {
		return fmt.Errorf("dispatch %q: %w", labelOf(desc.Kernel), ErrReleased)
	}
	groups := Workgroups(desc.WorkItems, k.group)
	if groups > w.limits.MaxWorkgroupsPerDim {
		return fmt.Errorf("dispatch %q: %d work-groups exceed the per-dimension limit %d", k.label, groups, w.limits.MaxWorkgroupsPerDim)
	}
	bg0, bg1, err := w.bindGroups(k.label,
		func() *wgpu.BindGroupLayout { return k.pipeline.GetBindGroupLayout(0) },
		func() *wgpu.BindGroupLayout { return k.pipeline.GetBindGroupLayout(1) },
		desc.Bindings, desc.Params)
	if err != nil {
		return err
	}
	if err := w.ensureEncoder(); err != nil {
		return err
	}
	if err := w.endRenderPass(); err != nil {
		return err
	}
	if w.computePass == nil {
		w.computePass = w.encoder.BeginComputePass(nil)
	}
	w.computePass.SetPipeline(k.pipeline)
	if bg0 != nil {
		w.computePass.SetBindGroup(0, bg0, nil)
	}
	if bg1 != nil {
		w.computePass.SetBindGroup(1, bg1, nil)
	}
	w.computePass.DispatchWorkgroups(groups, 1, 1)
	return nil
}

func (w *WGPU) Barrier() {
	if err := w.endComputePass(); err != nil {
		w.logger.Errorf("compute pass end failed: %v", err)
	}
}

func (w *WGPU) beginRenderPass() error {
	if w.renderPass != nil {
		return nil
	}
	if w.frameView == nil {
		return errNoFrame
	}
	if err := w.endComputePass(); err != nil {
		return err
	}
	load := wgpu.LoadOpLoad
	if !w.frameCleared {
		load = wgpu.LoadOpClear
		w.frameCleared = true
	}
	w.renderPass = w.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       w.frameView,
			LoadOp:     load,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: w.clear,
		}},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            w.depthView,
			DepthLoadOp:     load,
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1.0,
		},
	})
	return nil
}

func (w *WGPU) Draw(desc DrawDescriptor) error {
	p, ok := desc.Pipeline.(*gpuPipeline)
	if !ok || !w.isLive(p) {
		return fmt.Errorf("draw %q: %w", labelOf(desc.Pipeline), ErrReleased)
	}
	vb, ok := desc.VertexBuffer.(*gpuBuffer)
	if !ok || !w.isLive(vb) {
		return fmt.Errorf("draw %s: vertex buffer: %w", p.label, ErrReleased)
	}
	ib, ok := desc.IndexBuffer.(*gpuBuffer)
	if !ok || !w.isLive(ib) {
		return fmt.Errorf("draw %s: index buffer: %w", p.label, ErrReleased)
	}
	bg0, bg1, err := w.bindGroups(p.label,
		func() *wgpu.BindGroupLayout { return p.pipeline.GetBindGroupLayout(0) },
		func() *wgpu.BindGroupLayout { return p.pipeline.GetBindGroupLayout(1) },
		desc.Bindings, desc.Uniforms)
	if err != nil {
		return err
	}
	if err := w.ensureEncoder(); err != nil {
		return err
	}
	if err := w.beginRenderPass(); err != nil {
		return err
	}
	rp := w.renderPass
	rp.SetPipeline(p.pipeline)
	if bg0 != nil {
		rp.SetBindGroup(0, bg0, nil)
	}
	if bg1 != nil {
		rp.SetBindGroup(1, bg1, nil)
	}
	rp.SetVertexBuffer(0, vb.buf, 0, wgpu.WholeSize)
	rp.SetIndexBuffer(ib.buf, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
	rp.DrawIndexed(desc.IndexCount, desc.InstanceCount, 0, 0, 0)
	return nil
}

func (w *WGPU) Submit() error {
	if w.encoder == nil {
		return nil
	}
	if err := w.endComputePass(); err != nil {
		return err
	}
	if err := w.endRenderPass(); err != nil {
		return err
	}
	cmd, err := w.encoder.Finish(nil)
	w.encoder.Release()
	w.encoder = nil
	if err != nil {
		return fmt.Errorf("finish command encoder: %w", err)
	}
	w.queue.Submit(cmd)
	cmd.Release()

	for _, bg := range w.transient {
		bg.Release()
	}
	w.transient = w.transient[:0]
	w.uniformNext = 0
	return nil
}

func (w *WGPU) ensureDepth() error {
	width, height := w.config.Width, w.config.Height
	if w.depthTex != nil && w.depthSize == [2]uint32{width, height} {
		return nil
	}
	if w.depthView != nil {
		w.depthView.Release()
		w.depthTex.Release()
	}
	tex, err := w.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "grass depth",
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return &core.ResourceAllocationError{Label: "grass depth", Size: uint64(width) * uint64(height) * 4, Err: err}
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return err
	}
	w.depthTex, w.depthView = tex, view
	w.depthSize = [2]uint32{width, height}
	return nil
}

func (w *WGPU) BeginFrame() error {
	if w.surface == nil || w.config == nil {
		return errNoSurface
	}
	if w.frameView != nil {
		return errors.New("frame already begun")
	}
	if err := w.ensureDepth(); err != nil {
		return err
	}
	tex, err := w.surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("acquire surface texture: %w", err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return fmt.Errorf("surface view: %w", err)
	}
	w.frameTex, w.frameView = tex, view
	w.frameCleared = false
	return nil
}

func (w *WGPU) EndFrame() error {
	if w.frameView == nil {
		return errors.New("no frame in progress")
	}
	defer func() {
		w.frameView.Release()
		w.frameTex.Release()
		w.frameView, w.frameTex = nil, nil
	}()
	// Nothing drawn: still clear the target.
	if !w.frameCleared {
		if err := w.ensureEncoder(); err != nil {
			return err
		}
		if err := w.beginRenderPass(); err != nil {
			return err
		}
	}
	if err := w.Submit(); err != nil {
		return err
	}
	w.surface.Present()
	return nil
}

// Resize reconfigures the surface; the depth target follows on the next frame.
func (w *WGPU) Resize(width, height uint32) {
	if w.surface == nil || width == 0 || height == 0 {
		return
	}
	w.config.Width, w.config.Height = width, height
	w.surface.Configure(w.adapter, w.device, w.config)
}

func (w *WGPU) ReadBuffer(buf Buffer) ([]byte, error) {
	b, ok := buf.(*gpuBuffer)
	if !ok || !w.isLive(b) {
		return nil, fmt.Errorf("read buffer %q: %w", labelOf(buf), ErrReleased)
	}
	staging, err := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label + " readback",
		Size:  b.size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, &core.ResourceAllocationError{Label: b.label + " readback", Size: b.size, Err: err}
	}
	defer staging.Release()

	if err := w.ensureEncoder(); err != nil {
		return nil, err
	}
	if err := w.endComputePass(); err != nil {
		return nil, err
	}
	if err := w.endRenderPass(); err != nil {
		return nil, err
	}
	w.encoder.CopyBufferToBuffer(b.buf, 0, staging, 0, b.size)
	if err := w.Submit(); err != nil {
		return nil, err
	}

	var status wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, b.size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
	})
	if err != nil {
		return nil, err
	}
	w.device.Poll(true, nil)
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("read buffer %q: map failed with status %v", b.label, status)
	}
	out := make([]byte, b.size)
	copy(out, staging.GetMappedRange(0, uint(b.size)))
	staging.Unmap()
	return out, nil
}

func (w *WGPU) Release(res Resource) error {
	if res == nil {
		return nil
	}
	if !w.isLive(res) {
		return fmt.Errorf("release %q: %w", res.Label(), ErrReleased)
	}
	delete(w.live, res)
	switch r := res.(type) {
	case *gpuBuffer:
		r.buf.Release()
	case *gpuImage:
		r.view.Release()
		r.tex.Release()
	case *gpuKernel:
		r.pipeline.Release()
		r.module.Release()
	case *gpuPipeline:
		r.pipeline.Release()
		r.module.Release()
	}
	return nil
}

func (w *WGPU) Limits() Limits { return w.limits }

// Close drops the frame targets and the uniform pool. Resources created
// through the context must already be released.
func (w *WGPU) Close() {
	if w.encoder != nil {
		if err := w.Submit(); err != nil {
			w.logger.Warnf("final submit failed: %v", err)
		}
	}
	for _, buf := range w.uniformPool {
		buf.Release()
	}
	w.uniformPool = nil
	if w.depthView != nil {
		w.depthView.Release()
		w.depthTex.Release()
		w.depthView, w.depthTex = nil, nil
	}
	if n := len(w.live); n > 0 {
		w.logger.Warnf("wgpu context closed with %d live resources", n)
	}
}
