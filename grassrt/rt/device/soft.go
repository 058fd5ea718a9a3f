package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/gekko3d/meadow/grassrt/rt/core"
	"golang.org/x/sync/errgroup"
)

var (
	errOutOfMemory = errors.New("device memory budget exhausted")
	errNoFrame     = errors.New("draw issued outside BeginFrame/EndFrame")
)

// DefaultSoftBudget is the memory budget of a Soft device unless overridden.
const DefaultSoftBudget = 1 << 30

// Trace retention of a Soft device unless overridden. Older entries are
// dropped first.
const (
	DefaultTraceOps   = 4096
	DefaultTraceDraws = 8
)

var _ Context = (*Soft)(nil)

type OpKind int

const (
	OpDispatch OpKind = iota
	OpBarrier
	OpDraw
	OpSubmit
)

func (k OpKind) String() string {
	switch k {
	case OpDispatch:
		return "dispatch"
	case OpBarrier:
		return "barrier"
	case OpDraw:
		return "draw"
	case OpSubmit:
		return "submit"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one entry of the Soft device's operation trace.
type Op struct {
	Kind      OpKind
	Label     string
	WorkItems uint32
	Groups    uint32
}

// DrawRecord is what a Soft draw resolved: the instance slot each instance
// invocation read, in invocation order.
type DrawRecord struct {
	Pipeline      string
	IndexCount    uint32
	InstanceCount uint32
	Order         []uint32
	Uniforms      []byte
}

type SoftOption func(*Soft)

// WithMemoryBudget caps the bytes of buffers and images alive at once.
func WithMemoryBudget(bytes uint64) SoftOption {
	return func(s *Soft) { s.budget = bytes }
}

func WithSoftLogger(l core.Logger) SoftOption {
	return func(s *Soft) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTraceLimit bounds how many operations and draw records Trace and
// Draws retain. Zero disables that record.
func WithTraceLimit(ops, draws int) SoftOption {
	return func(s *Soft) {
		s.traceOps, s.traceDraws = max(ops, 0), max(draws, 0)
	}
}

// WithParallelism bounds the work-groups executed concurrently.
func WithParallelism(n int) SoftOption {
	return func(s *Soft) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithCompiler installs a source check run by CreateKernel and
// CreateRenderPipeline. A non-nil error fails creation with a
// KernelCompilationError carrying the error text as diagnostic.
func WithCompiler(fn func(label, source string) error) SoftOption {
	return func(s *Soft) { s.compile = fn }
}

// Soft executes the device contract on the host. Kernels run as Go
// functions; the barrier contract is checked instead of assumed.
type Soft struct {
	mu          sync.Mutex
	logger      core.Logger
	limits      Limits
	budget      uint64
	allocated   uint64
	parallelism int
	compile     func(label, source string) error

	live          map[Resource]struct{}
	pendingWrites map[Resource]string
	pendingReads  map[Resource]string
	inFrame       bool

	trace      []Op
	draws      []DrawRecord
	traceOps   int
	traceDraws int
}

func NewSoft(opts ...SoftOption) *Soft {
	s := &Soft{
		logger:      core.NopLogger(),
		budget:      DefaultSoftBudget,
		parallelism: runtime.GOMAXPROCS(0),
		traceOps:    DefaultTraceOps,
		traceDraws:  DefaultTraceDraws,
		limits: Limits{
			MaxBufferSize:       1 << 28,
			MaxImageDimension:   8192,
			MaxWorkgroupsPerDim: 65535,
			MaxWorkgroupSize:    256,
			UniformOffsetAlign:  256,
		},
		live:          make(map[Resource]struct{}),
		pendingWrites: make(map[Resource]string),
		pendingReads:  make(map[Resource]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type softBuffer struct {
	label    string
	size     uint64
	usage    BufferUsage
	words    []uint32
	released bool
}

func (b *softBuffer) Label() string { return b.label }
func (b *softBuffer) Size() uint64  { return b.size }

type softImage struct {
	label    string
	desc     ImageDescriptor
	host     *HostImage
	released bool
}

func (im *softImage) Label() string       { return im.label }
func (im *softImage) Width() uint32       { return im.desc.Width }
func (im *softImage) Height() uint32      { return im.desc.Height }
func (im *softImage) Format() ImageFormat { return im.desc.Format }

type softKernel struct {
	label    string
	group    uint32
	host     HostKernel
	released bool
}

func (k *softKernel) Label() string         { return k.label }
func (k *softKernel) WorkgroupSize() uint32 { return k.group }

type softPipeline struct {
	label    string
	host     HostInstance
	released bool
}

func (p *softPipeline) Label() string { return p.label }

func (s *Soft) reserve(label string, size uint64) error {
	if size > s.limits.MaxBufferSize || s.allocated+size > s.budget {
		return &core.ResourceAllocationError{Label: label, Size: size, Err: errOutOfMemory}
	}
	s.allocated += size
	return nil
}

func (s *Soft) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if desc.Size == 0 {
		return nil, &core.ResourceAllocationError{Label: desc.Label, Size: 0, Err: errors.New("zero-sized buffer")}
	}
	size := (desc.Size + 3) &^ 3
	if err := s.reserve(desc.Label, size); err != nil {
		return nil, err
	}
	b := &softBuffer{label: desc.Label, size: size, usage: desc.Usage, words: make([]uint32, size/4)}
	s.live[b] = struct{}{}
	return b, nil
}

func (s *Soft) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := buf.(*softBuffer)
	if !ok || !s.isLive(b) {
		return fmt.Errorf("write buffer %q: %w", labelOf(buf), ErrReleased)
	}
	if offset%4 != 0 || len(data)%4 != 0 || offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write buffer %q: range [%d,%d) outside %d bytes or unaligned", b.label, offset, offset+uint64(len(data)), b.size)
	}
	base := offset / 4
	for i := 0; i < len(data); i += 4 {
		b.words[base+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
	return nil
}

func (s *Soft) CreateImage(desc ImageDescriptor, texels []float32) (Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if desc.Width == 0 || desc.Height == 0 || desc.Width > s.limits.MaxImageDimension || desc.Height > s.limits.MaxImageDimension {
		return nil, core.NewConfigurationError("image", fmt.Sprintf("%dx%d", desc.Width, desc.Height), "image dimensions outside device limits")
	}
	want := int(desc.Width) * int(desc.Height) * desc.Format.Channels()
	if len(texels) != want {
		return nil, core.NewConfigurationError("texels", len(texels), fmt.Sprintf("want %d for %s %dx%d", want, desc.Format, desc.Width, desc.Height))
	}
	if err := s.reserve(desc.Label, desc.ByteSize()); err != nil {
		return nil, err
	}
	data := make([]float32, len(texels))
	copy(data, texels)
	im := &softImage{
		label: desc.Label,
		desc:  desc,
		host: &HostImage{
			Width:    int(desc.Width),
			Height:   int(desc.Height),
			Channels: desc.Format.Channels(),
			Texels:   data,
		},
	}
	s.live[im] = struct{}{}
	return im, nil
}

func (s *Soft) check(label, source string) error {
	if s.compile == nil {
		return nil
	}
	if err := s.compile(label, source); err != nil {
		s.logger.Errorf("kernel %s failed to compile:\n%v", label, err)
		return &core.KernelCompilationError{Kernel: label, Diagnostic: err.Error(), Err: err}
	}
	return nil
}

func (s *Soft) CreateKernel(desc KernelDescriptor) (Kernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if desc.Host == nil {
		return nil, &core.KernelCompilationError{Kernel: desc.Label, Diagnostic: "no host entry point for " + desc.EntryPoint}
	}
	if desc.WorkgroupSize == 0 || desc.WorkgroupSize > s.limits.MaxWorkgroupSize {
		return nil, &core.KernelCompilationError{
			Kernel:     desc.Label,
			Diagnostic: fmt.Sprintf("workgroup size %d outside [1,%d]", desc.WorkgroupSize, s.limits.MaxWorkgroupSize),
		}
	}
	if err := s.check(desc.Label, desc.Source); err != nil {
		return nil, err
	}
	k := &softKernel{label: desc.Label, group: desc.WorkgroupSize, host: desc.Host}
	s.live[k] = struct{}{}
	return k, nil
}

func (s *Soft) CreateRenderPipeline(desc RenderPipelineDescriptor) (RenderPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(desc.Label, desc.Source); err != nil {
		return nil, err
	}
	p := &softPipeline{label: desc.Label, host: desc.Host}
	s.live[p] = struct{}{}
	return p, nil
}

func (s *Soft) isLive(r Resource) bool {
	_, ok := s.live[r]
	return ok
}

// hazards checks a binding list against what earlier dispatches left
// unfenced.
func (s *Soft) hazards(op string, bindings []Binding) error {
	for _, b := range bindings {
		r := b.resource()
		if r == nil {
			return fmt.Errorf("%s: binding %d is empty", op, b.Slot)
		}
		if !s.isLive(r) {
			return fmt.Errorf("%s: binding %d %q: %w", op, b.Slot, r.Label(), ErrReleased)
		}
		if writer, ok := s.pendingWrites[r]; ok {
			return fmt.Errorf("%s: %q written by %s: %w", op, r.Label(), writer, ErrMissingBarrier)
		}
		if reader, ok := s.pendingReads[r]; ok && b.Access.writes() {
			return fmt.Errorf("%s: %q read by %s: %w", op, r.Label(), reader, ErrMissingBarrier)
		}
	}
	return nil
}

func (s *Soft) env(bindings []Binding, params []byte, items uint32) *HostEnv {
	maxSlot := uint32(0)
	for _, b := range bindings {
		if b.Slot > maxSlot {
			maxSlot = b.Slot
		}
	}
	env := &HostEnv{Items: items, params: params, slots: make([]hostSlot, maxSlot+1)}
	for _, b := range bindings {
		sl := hostSlot{bound: true, access: b.Access}
		switch r := b.resource().(type) {
		case *softBuffer:
			sl.words = r.words
		case *softImage:
			sl.image = r.host
			sl.access = AccessRead
		}
		env.slots[b.Slot] = sl
	}
	return env
}

func (s *Soft) Dispatch(desc DispatchDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := desc.Kernel.(*softKernel)
	if !ok || !s.isLive(k) {
		return fmt.Errorf("dispatch %q: %w", labelOf(desc.Kernel), ErrReleased)
	}
	if err := s.hazards("dispatch "+k.label, desc.Bindings); err != nil {
		return err
	}
	groups := Workgroups(desc.WorkItems, k.group)
	if groups > s.limits.MaxWorkgroupsPerDim {
		return fmt.Errorf("dispatch %q: %d work-groups exceed the per-dimension limit %d", k.label, groups, s.limits.MaxWorkgroupsPerDim)
	}

	env := s.env(desc.Bindings, desc.Params, desc.WorkItems)
	if err := s.run(k, groups, env); err != nil {
		return err
	}

	for _, b := range desc.Bindings {
		r := b.resource()
		if b.Access.writes() {
			s.pendingWrites[r] = k.label
		}
		if b.Access.reads() {
			s.pendingReads[r] = k.label
		}
	}
	s.record(Op{Kind: OpDispatch, Label: k.label, WorkItems: desc.WorkItems, Groups: groups})
	if s.logger.DebugEnabled() {
		s.logger.Debugf("soft: dispatch %s items=%d groups=%d", k.label, desc.WorkItems, groups)
	}
	return nil
}

// run executes every thread of every work-group. Groups run concurrently;
// threads inside a group run in order but kernels must not rely on it.
func (s *Soft) run(k *softKernel, groups uint32, env *HostEnv) error {
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(s.parallelism)
	for wg := uint32(0); wg < groups; wg++ {
		g.Go(func() (err error) {
			if ctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %s work-group %d: %v", ErrKernelFault, k.label, wg, r)
				}
			}()
			first := wg * k.group
			for t := uint32(0); t < k.group; t++ {
				k.host(first+t, env)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Soft) Barrier() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pendingWrites)
	clear(s.pendingReads)
	s.record(Op{Kind: OpBarrier})
}

func (s *Soft) Draw(desc DrawDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFrame {
		return errNoFrame
	}
	p, ok := desc.Pipeline.(*softPipeline)
	if !ok || !s.isLive(p) {
		return fmt.Errorf("draw %q: %w", labelOf(desc.Pipeline), ErrReleased)
	}
	for _, b := range []Buffer{desc.VertexBuffer, desc.IndexBuffer} {
		if b != nil && !s.isLive(b) {
			return fmt.Errorf("draw %s: %q: %w", p.label, b.Label(), ErrReleased)
		}
	}
	if err := s.hazards("draw "+p.label, desc.Bindings); err != nil {
		return err
	}

	env := s.env(desc.Bindings, desc.Uniforms, desc.InstanceCount)
	order := make([]uint32, desc.InstanceCount)
	if err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s instance fetch: %v", ErrKernelFault, p.label, r)
			}
		}()
		for i := range order {
			if p.host == nil {
				order[i] = uint32(i)
				continue
			}
			order[i] = p.host(uint32(i), env)
		}
		return nil
	}(); err != nil {
		return err
	}

	for _, b := range desc.Bindings {
		s.pendingReads[b.resource()] = p.label
	}
	if s.traceDraws > 0 {
		if len(s.draws) >= s.traceDraws {
			s.draws = dropOldest(s.draws, s.traceDraws)
		}
		s.draws = append(s.draws, DrawRecord{
			Pipeline:      p.label,
			IndexCount:    desc.IndexCount,
			InstanceCount: desc.InstanceCount,
			Order:         order,
			Uniforms:      append([]byte(nil), desc.Uniforms...),
		})
	}
	s.record(Op{Kind: OpDraw, Label: p.label, WorkItems: desc.InstanceCount})
	return nil
}

// Submit completes all recorded work, so it also fences every hazard.
func (s *Soft) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pendingWrites)
	clear(s.pendingReads)
	s.record(Op{Kind: OpSubmit})
	return nil
}

func (s *Soft) BeginFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFrame {
		return errors.New("frame already begun")
	}
	s.inFrame = true
	return nil
}

func (s *Soft) EndFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFrame {
		return errors.New("no frame in progress")
	}
	s.inFrame = false
	clear(s.pendingWrites)
	clear(s.pendingReads)
	return nil
}

func (s *Soft) ReadBuffer(buf Buffer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := buf.(*softBuffer)
	if !ok || !s.isLive(b) {
		return nil, fmt.Errorf("read buffer %q: %w", labelOf(buf), ErrReleased)
	}
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out, nil
}

func (s *Soft) Release(res Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res == nil {
		return nil
	}
	if !s.isLive(res) {
		return fmt.Errorf("release %q: %w", res.Label(), ErrReleased)
	}
	delete(s.live, res)
	delete(s.pendingWrites, res)
	delete(s.pendingReads, res)
	switch r := res.(type) {
	case *softBuffer:
		r.released = true
		s.allocated -= r.size
	case *softImage:
		r.released = true
		s.allocated -= r.desc.ByteSize()
	case *softKernel:
		r.released = true
	case *softPipeline:
		r.released = true
	}
	return nil
}

func (s *Soft) Limits() Limits { return s.limits }

// LiveResources is the number of resources created and not yet released.
func (s *Soft) LiveResources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Soft) Allocated() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocated
}

func (s *Soft) Trace() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.trace...)
}

func (s *Soft) Draws() []DrawRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DrawRecord(nil), s.draws...)
}

func (s *Soft) record(op Op) {
	if s.traceOps == 0 {
		return
	}
	if len(s.trace) >= s.traceOps {
		s.trace = dropOldest(s.trace, s.traceOps)
	}
	s.trace = append(s.trace, op)
}

// dropOldest keeps the newest half of a full record so appends stay
// amortized constant.
func dropOldest[T any](recs []T, limit int) []T {
	keep := limit / 2
	n := copy(recs, recs[len(recs)-keep:])
	clear(recs[n:])
	return recs[:n]
}

func (s *Soft) ResetTrace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = s.trace[:0]
	s.draws = s.draws[:0]
}

// Float32s decodes a ReadBuffer result.
func Float32s(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func labelOf(r Resource) string {
	if r == nil {
		return "<nil>"
	}
	return r.Label()
}
